package coros

import (
	"encoding/json"
	"fmt"
	"time"

	"trainer/internal/provider"
	"trainer/internal/store"
)

// Activity is one entry of the COROS sport list
type Activity struct {
	LabelID      string   `json:"labelId"`
	Mode         int      `json:"mode"`
	SubMode      int      `json:"subMode"`
	StartTime    *int64   `json:"startTime"` // unix seconds
	EndTime      *int64   `json:"endTime"`
	Duration     *float64 `json:"duration"` // seconds; older accounts omit it
	Distance     *float64 `json:"distance"` // meters
	Ascent       *float64 `json:"ascent"`   // meters
	AvgHeartRate *float64 `json:"avgHeartRate"`
	AvgFrequency *float64 `json:"avgFrequency"` // cadence
	Calorie      *float64 `json:"calorie"`      // kcal
}

// sportModes maps COROS sport modes to canonical types. Other modes are
// stored as "mode-<n>".
var sportModes = map[int]string{
	8:  "run",
	9:  "run",
	15: "run",
	20: "run",
	13: "ride",
	14: "ride",
	10: "swim",
	11: "swim",
	16: "hike",
	31: "walk",
	4:  "strength",
	18: "workout",
	19: "ski",
	21: "row",
}

// Normalizer converts COROS sport records into store activities
type Normalizer struct {
	excluded provider.TypeSet
}

func NewNormalizer(excluded []string) *Normalizer {
	return &Normalizer{excluded: provider.NewTypeSet(excluded)}
}

// Normalize implements provider.Normalizer
func (n *Normalizer) Normalize(raw provider.RawRecord) (store.Activity, bool, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return store.Activity{}, false, fmt.Errorf("decoding coros activity: %w", err)
	}
	if a.LabelID == "" {
		return store.Activity{}, false, nil
	}

	canonical, ok := sportModes[a.Mode]
	if !ok {
		canonical = fmt.Sprintf("mode-%d", a.Mode)
	}
	if n.excluded.Has(canonical) {
		return store.Activity{}, false, nil
	}

	activity := store.Activity{
		Provider:           string(provider.Coros),
		ProviderActivityID: a.LabelID,
		Type:               canonical,
		DurationSec:        provider.Round(a.Duration),
		DistanceM:          provider.Round(a.Distance),
		ElevationGainM:     provider.Round(a.Ascent),
		AvgHeartRate:       provider.RoundRecorded(a.AvgHeartRate),
		AvgCadence:         provider.RoundRecorded(a.AvgFrequency),
		CaloriesKcal:       provider.RoundRecorded(a.Calorie),
		RawPayload:         []byte(raw),
	}

	if a.StartTime != nil {
		if *a.StartTime <= 0 {
			return store.Activity{}, false, fmt.Errorf("activity %s: invalid startTime %d", a.LabelID, *a.StartTime)
		}
		start := time.Unix(*a.StartTime, 0).UTC()
		activity.StartTime = &start

		if activity.DurationSec == nil && a.EndTime != nil && *a.EndTime >= *a.StartTime {
			d := int(*a.EndTime - *a.StartTime)
			activity.DurationSec = &d
		}
	}

	return activity, true, nil
}
