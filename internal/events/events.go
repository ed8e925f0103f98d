// Package events publishes sync lifecycle events for downstream consumers.
package events

import (
	"context"
	"time"
)

// SyncCompleted is emitted after every sync invocation, successful or not.
type SyncCompleted struct {
	RunID        string    `json:"run_id"`
	Provider     string    `json:"provider"`
	AccountID    string    `json:"account_id"`
	OwnerID      string    `json:"owner_id,omitempty"`
	Imported     int       `json:"imported"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	PagesFetched int       `json:"pages_fetched"`
	NextPage     int       `json:"next_page"`
	HasMore      bool      `json:"has_more"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	RetryAfterS  int       `json:"retry_after_seconds,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Publisher delivers events
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, evt SyncCompleted) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishSyncCompleted(context.Context, SyncCompleted) error { return nil }
func (NopPublisher) Close() error                                              { return nil }
