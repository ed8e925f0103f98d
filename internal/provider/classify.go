package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxBodyBytes caps how much of a provider response is read
	MaxBodyBytes = 16 << 20
	// ExcerptLen is the longest body excerpt carried in a Detail
	ExcerptLen = 500
)

// ClassifyStatus maps a non-2xx response to an outcome
func ClassifyStatus(resp *http.Response, body []byte, now time.Time, secrets ...string) PageResult {
	result := PageResult{
		Status: resp.StatusCode,
		Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, Excerpt(body, secrets...)),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		result.Outcome = OutcomeAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Outcome = OutcomeRateLimited
		result.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		result.Outcome = OutcomeNetworkTimeout
	case resp.StatusCode >= 500:
		result.Outcome = OutcomeServerError
	default:
		// any other 4xx means we asked for something the provider could not serve
		result.Outcome = OutcomeMalformed
	}
	return result
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// TransportFailure classifies an error returned by http.Client.Do.
// The per-request timeout becomes OutcomeNetworkTimeout; cancellation of the
// caller's own context is returned as-is; everything else is ErrUnreachable.
func TransportFailure(parent context.Context, err error) (PageResult, error) {
	if parentErr := parent.Err(); parentErr != nil {
		return PageResult{}, parentErr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return PageResult{Outcome: OutcomeNetworkTimeout, Detail: "request timed out"}, nil
	}
	return PageResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// ReadBody reads at most MaxBodyBytes of the response body
func ReadBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
}

// Excerpt returns a short, redacted prefix of a response body
func Excerpt(body []byte, secrets ...string) string {
	s := Redact(string(body), secrets...)
	if len(s) > ExcerptLen {
		cut := ExcerptLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}

// Redact replaces every occurrence of the given secrets
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return s
}
