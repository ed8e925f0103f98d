package strava

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trainer/internal/provider"
	"trainer/internal/store"
)

// sportTypes maps Strava sport_type / type values (lowercased) to canonical types.
// Labels missing here are stored lowercased as-is.
var sportTypes = map[string]string{
	"run":                           "run",
	"trailrun":                      "run",
	"virtualrun":                    "run",
	"ride":                          "ride",
	"virtualride":                   "ride",
	"mountainbikeride":              "ride",
	"gravelride":                    "ride",
	"ebikeride":                     "ride",
	"emountainbikeride":             "ride",
	"velomobile":                    "ride",
	"swim":                          "swim",
	"walk":                          "walk",
	"walking":                       "walk",
	"hike":                          "hike",
	"rowing":                        "row",
	"virtualrow":                    "row",
	"weighttraining":                "strength",
	"crossfit":                      "strength",
	"workout":                       "workout",
	"highintensityintervaltraining": "workout",
	"elliptical":                    "workout",
	"stairstepper":                  "workout",
	"yoga":                          "yoga",
	"pilates":                       "yoga",
	"alpineski":                     "ski",
	"backcountryski":                "ski",
	"nordicski":                     "ski",
}

// Normalizer converts Strava summary activities into store activities
type Normalizer struct {
	excluded provider.TypeSet
}

// NewNormalizer creates a normalizer that skips the given canonical types
func NewNormalizer(excluded []string) *Normalizer {
	return &Normalizer{excluded: provider.NewTypeSet(excluded)}
}

// Normalize implements provider.Normalizer
func (n *Normalizer) Normalize(raw provider.RawRecord) (store.Activity, bool, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return store.Activity{}, false, fmt.Errorf("decoding strava activity: %w", err)
	}
	if a.ID == nil || *a.ID == 0 {
		return store.Activity{}, false, nil
	}

	sport := a.SportType
	if sport == "" {
		sport = a.Type
	}
	canonical := canonicalType(sport)
	if canonical == "" || n.excluded.Has(canonical) {
		return store.Activity{}, false, nil
	}

	activity := store.Activity{
		Provider:           string(provider.Strava),
		ProviderActivityID: strconv.FormatInt(*a.ID, 10),
		Type:               canonical,
		DurationSec:        provider.Round(a.ElapsedTime),
		DistanceM:          provider.Round(a.Distance),
		ElevationGainM:     provider.Round(a.TotalElevationGain),
		AvgHeartRate:       provider.RoundRecorded(a.AverageHeartrate),
		AvgCadence:         provider.RoundRecorded(a.AverageCadence),
		CaloriesKcal:       provider.RoundRecorded(a.Calories),
		RawPayload:         []byte(raw),
	}

	if a.StartDate != "" {
		start, err := time.Parse(time.RFC3339, a.StartDate)
		if err != nil {
			return store.Activity{}, false, fmt.Errorf("activity %d: parsing start_date: %w", *a.ID, err)
		}
		start = start.UTC()
		activity.StartTime = &start
	}

	return activity, true, nil
}

func canonicalType(sport string) string {
	label := strings.ToLower(strings.TrimSpace(sport))
	if canonical, ok := sportTypes[label]; ok {
		return canonical
	}
	return label
}
