package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trainer/internal/auth"
	"trainer/internal/provider"
	"trainer/internal/store"
	"trainer/internal/strava"
)

var testAccount = AccountRef{Provider: provider.Strava, ExternalAccountID: "123"}

// fakeClient serves scripted results. fetch receives the request and the
// number of times that page has been requested before.
type fakeClient struct {
	mu       sync.Mutex
	validate func(cred store.Credential, call int) (provider.PageResult, error)
	fetch    func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error)

	validateCalls int
	requests      []provider.PageRequest
	tokens        []string
	attempts      map[int]int
}

func (f *fakeClient) Name() provider.Name { return provider.Strava }

func (f *fakeClient) Validate(_ context.Context, cred store.Credential) (provider.PageResult, error) {
	f.mu.Lock()
	call := f.validateCalls
	f.validateCalls++
	f.mu.Unlock()

	if f.validate == nil {
		return provider.Ok(nil), nil
	}
	return f.validate(cred, call)
}

func (f *fakeClient) FetchActivityPage(ctx context.Context, cred store.Credential, req provider.PageRequest) (provider.PageResult, error) {
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[int]int)
	}
	attempt := f.attempts[req.Page]
	f.attempts[req.Page]++
	f.requests = append(f.requests, req)
	f.tokens = append(f.tokens, cred.AccessToken)
	f.mu.Unlock()

	return f.fetch(ctx, cred, req, attempt)
}

func (f *fakeClient) pagesRequested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]int, len(f.requests))
	for i, r := range f.requests {
		pages[i] = r.Page
	}
	return pages
}

// pagesOf serves sizes[i] records on page i+1 and an empty page afterwards
func pagesOf(sizes ...int) func(context.Context, store.Credential, provider.PageRequest, int) (provider.PageResult, error) {
	return func(_ context.Context, _ store.Credential, req provider.PageRequest, _ int) (provider.PageResult, error) {
		if req.Page > len(sizes) {
			return provider.Ok(nil), nil
		}
		offset := 0
		for _, n := range sizes[:req.Page-1] {
			offset += n
		}
		return provider.Ok(runRecords(offset+1, sizes[req.Page-1])), nil
	}
}

func runRecords(firstID, n int) []provider.RawRecord {
	records := make([]provider.RawRecord, n)
	for i := range records {
		records[i] = provider.RawRecord(fmt.Sprintf(
			`{"id":%d,"sport_type":"Run","start_date":"2024-03-01T07:00:00Z","elapsed_time":1800,"distance":5000.4,"average_heartrate":150}`,
			firstID+i,
		))
	}
	return records
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	store *store.Store
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred store.Credential) (store.Credential, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return cred, f.err
	}
	if !cred.HasRefreshToken() {
		return cred, auth.ErrNoRefreshToken
	}
	cred.AccessToken = "access-refreshed"
	if f.store != nil {
		if err := f.store.UpsertCredential(ctx, &cred); err != nil {
			return cred, err
		}
	}
	return cred, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// flakyStore fails upserts for the listed provider activity ids
type flakyStore struct {
	*store.Store
	failIDs map[string]bool
}

func (s *flakyStore) UpsertActivity(ctx context.Context, a *store.Activity) error {
	if s.failIDs[a.ProviderActivityID] {
		return errors.New("constraint violation")
	}
	return s.Store.UpsertActivity(ctx, a)
}

type fixture struct {
	store     *store.Store
	client    *fakeClient
	refresher *fakeRefresher
	svc       *SyncService
}

func newFixture(t *testing.T, client *fakeClient) *fixture {
	t.Helper()

	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpsertCredential(context.Background(), &store.Credential{
		Provider:          "strava",
		ExternalAccountID: "123",
		OwnerID:           "user-1",
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
	}))

	refresher := &fakeRefresher{store: s}
	svc := NewSyncService(
		map[provider.Name]Source{
			provider.Strava: {Client: client, Normalizer: strava.NewNormalizer(provider.DefaultExcludedTypes)},
		},
		s, s, refresher, nil,
	)
	return &fixture{store: s, client: client, refresher: refresher, svc: svc}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.CountActivities(context.Background(), store.ActivityFilter{})
	require.NoError(t, err)
	return n
}
