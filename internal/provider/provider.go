// Package provider defines the contract every fitness-provider client implements
// and the outcome classification shared between them.
package provider

import (
	"context"
	"errors"
	"time"

	"trainer/internal/store"
)

// Name identifies an external fitness platform
type Name string

const (
	Strava Name = "strava"
	Coros  Name = "coros"
)

// Valid reports whether n is a supported provider
func (n Name) Valid() bool {
	return n == Strava || n == Coros
}

// Outcome is the classification of a single provider call
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAuthExpired
	OutcomeRateLimited
	OutcomeMalformed
	OutcomeNetworkTimeout
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeNetworkTimeout:
		return "network_timeout"
	case OutcomeServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// ErrUnreachable is returned when the provider cannot be contacted at all
// (DNS failure, connection refused). Classifiable responses never produce it.
var ErrUnreachable = errors.New("provider unreachable")

// RawRecord is one activity exactly as the provider returned it
type RawRecord []byte

// PageRequest selects one page of activity history
type PageRequest struct {
	Page     int
	PageSize int
	Since    time.Time // zero means no lower bound
}

// PageResult is the classified outcome of a provider call.
// Records is only set for OutcomeOK.
type PageResult struct {
	Outcome    Outcome
	Records    []RawRecord
	RetryAfter time.Duration // zero when the provider gave no hint
	Status     int
	Detail     string
}

// Ok builds a successful result
func Ok(records []RawRecord) PageResult {
	return PageResult{Outcome: OutcomeOK, Records: records, Status: 200}
}

// Client is a protocol-specific activity-history client
type Client interface {
	Name() Name
	// Validate issues one lightweight authenticated call
	Validate(ctx context.Context, cred store.Credential) (PageResult, error)
	FetchActivityPage(ctx context.Context, cred store.Credential, req PageRequest) (PageResult, error)
}
