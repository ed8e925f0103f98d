package service

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoAccount is returned when no account can be resolved for a provider
var ErrNoAccount = errors.New("no connected account")

// ErrorKind classifies why a sync stopped
type ErrorKind string

const (
	KindAccountNotConnected     ErrorKind = "account_not_connected"
	KindAuthExpired             ErrorKind = "auth_expired"
	KindReauthorizationRequired ErrorKind = "reauthorization_required"
	KindRateLimited             ErrorKind = "rate_limited"
	KindUpstreamMalformed       ErrorKind = "upstream_malformed"
	KindUpstreamTimeout         ErrorKind = "upstream_timeout"
	KindUpstreamUnreachable     ErrorKind = "upstream_unreachable"
	KindUpstreamServerError     ErrorKind = "upstream_server_error"
	KindRecordPersistFailure    ErrorKind = "record_persist_failure"
	KindSyncInProgress          ErrorKind = "sync_in_progress"
	KindCanceled                ErrorKind = "canceled"
	KindInternal                ErrorKind = "internal"
)

// SyncError describes a sync that stopped before completing
type SyncError struct {
	Kind       ErrorKind
	Status     int           // upstream HTTP status when there was one
	Detail     string        // redacted excerpt, at most a few hundred bytes
	RetryAfter time.Duration // set for KindRateLimited
	Err        error
}

func (e *SyncError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

// Fatal reports whether the sync failed. A rate-limited sync is only paused.
func (e *SyncError) Fatal() bool {
	return e.Kind != KindRateLimited
}

// Message is a short user-facing description
func (e *SyncError) Message() string {
	switch e.Kind {
	case KindAccountNotConnected:
		return "No account is connected for this provider"
	case KindAuthExpired, KindReauthorizationRequired:
		return "The provider no longer accepts the stored authorization"
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Provider rate limit reached, retry in %s", e.RetryAfter.Round(time.Second))
		}
		return "Provider rate limit reached"
	case KindUpstreamMalformed:
		return "The provider returned an unexpected response"
	case KindUpstreamTimeout:
		return "The provider did not respond in time"
	case KindUpstreamUnreachable:
		return "The provider could not be reached"
	case KindUpstreamServerError:
		return "The provider reported an internal error"
	case KindSyncInProgress:
		return "A sync for this account is already running"
	case KindCanceled:
		return "The sync was canceled"
	default:
		return "Internal error"
	}
}

// Remedy tells the user what to do next
func (e *SyncError) Remedy() string {
	switch e.Kind {
	case KindAccountNotConnected, KindAuthExpired, KindReauthorizationRequired:
		return "reconnect the account"
	case KindRateLimited, KindSyncInProgress:
		return "wait and retry"
	case KindCanceled:
		return "start the sync again"
	default:
		return "try again later"
	}
}

// HTTPStatus maps the kind onto the status returned by the HTTP API
func (e *SyncError) HTTPStatus() int {
	switch e.Kind {
	case KindAccountNotConnected:
		return http.StatusNotFound
	case KindAuthExpired, KindReauthorizationRequired:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindSyncInProgress:
		return http.StatusConflict
	case KindUpstreamMalformed, KindUpstreamServerError:
		return http.StatusBadGateway
	case KindUpstreamUnreachable:
		return http.StatusServiceUnavailable
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AsSyncError extracts a *SyncError from err
func AsSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
