package store

import (
	"fmt"
	"time"
)

// Credential holds the OAuth tokens for one external provider account
type Credential struct {
	Provider          string     `db:"provider"`
	ExternalAccountID string     `db:"external_account_id"`
	OwnerID           string     `db:"owner_id"`
	AccessToken       string     `db:"access_token"`
	RefreshToken      string     `db:"refresh_token"` // empty when the provider issued none
	ExpiresAt         *time.Time `db:"expires_at"`    // nullable
	UpdatedAt         time.Time  `db:"updated_at"`
}

// String identifies the account without exposing token material
func (c Credential) String() string {
	return fmt.Sprintf("%s:%s", c.Provider, c.ExternalAccountID)
}

// HasRefreshToken reports whether the credential can be refreshed
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Activity is one normalized workout. Measurements are integers in SI units
// (seconds, meters, bpm, kcal); cadence is kept as the provider reports it.
// A nil measurement means the provider did not record it.
type Activity struct {
	ID                   int64      `db:"id" json:"id"`
	Provider             string     `db:"provider" json:"provider"`
	ProviderActivityID   string     `db:"provider_activity_id" json:"provider_activity_id"`
	OwnerID              string     `db:"owner_id" json:"owner_id"`
	Type                 string     `db:"type" json:"type"`
	StartTime            *time.Time `db:"start_time" json:"start_time"`
	DurationSec          *int       `db:"duration_sec" json:"duration_sec"`
	DistanceM            *int       `db:"distance_m" json:"distance_m"`
	ElevationGainM       *int       `db:"elevation_gain_m" json:"elevation_gain_m"`
	AvgHeartRate         *int       `db:"avg_heart_rate" json:"avg_heart_rate"`
	AvgCadence           *int       `db:"avg_cadence" json:"avg_cadence"`
	CaloriesKcal         *int       `db:"calories_kcal" json:"calories_kcal"`
	ExcludedFromAnalysis bool       `db:"excluded_from_analysis" json:"excluded_from_analysis"`
	RawPayload           []byte     `db:"raw_payload" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// ActivityFilter narrows activity listings. Empty fields match everything.
type ActivityFilter struct {
	Provider       string
	OwnerID        string
	ExcludeFlagged bool // drop activities the user excluded from analysis
}
