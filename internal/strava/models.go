package strava

// Activity is the subset of a Strava SummaryActivity the importer reads.
// Numeric fields are pointers so a missing field stays distinguishable from 0.
type Activity struct {
	ID                 *int64   `json:"id"`
	Athlete            Athlete  `json:"athlete"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	StartDate          string   `json:"start_date"`
	ElapsedTime        *float64 `json:"elapsed_time"`         // seconds
	MovingTime         *float64 `json:"moving_time"`          // seconds
	Distance           *float64 `json:"distance"`             // meters
	TotalElevationGain *float64 `json:"total_elevation_gain"` // meters
	AverageHeartrate   *float64 `json:"average_heartrate"`    // bpm
	AverageCadence     *float64 `json:"average_cadence"`      // rpm or spm
	Calories           *float64 `json:"calories"`             // kcal, only on detailed activities
}

// Athlete represents a Strava athlete (minimal info in activity response)
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
}
