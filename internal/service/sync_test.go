package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer/internal/auth"
	"trainer/internal/provider"
	"trainer/internal/store"
	"trainer/internal/strava"
)

func TestImportActivities_AllPages(t *testing.T) {
	client := &fakeClient{fetch: pagesOf(200, 200, 47)}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 200})

	require.Nil(t, result.Err)
	assert.True(t, result.OK())
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 447, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, result.PagesFetched)
	assert.False(t, result.HasMore)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []int{1, 2, 3}, client.pagesRequested())
	assert.Equal(t, 447, f.count(t))

	for _, req := range client.requests {
		assert.Equal(t, 200, req.PageSize)
	}
}

func TestImportActivities_StoresNormalizedFields(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(1)})

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 10})
	require.Nil(t, result.Err)

	a, err := f.store.GetActivity(context.Background(), "strava", "1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", a.OwnerID)
	assert.Equal(t, "run", a.Type)
	require.NotNil(t, a.DistanceM)
	assert.Equal(t, 5000, *a.DistanceM)
	require.NotNil(t, a.AvgHeartRate)
	assert.Equal(t, 150, *a.AvgHeartRate)
	assert.Nil(t, a.CaloriesKcal)
	require.NotNil(t, a.StartTime)
	assert.Equal(t, time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC), *a.StartTime)
	assert.JSONEq(t, string(runRecords(1, 1)[0]), string(a.RawPayload))
}

func TestImportActivities_Idempotent(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(5, 5, 2)})
	req := ImportRequest{Account: testAccount, PageSize: 5}

	first := f.svc.ImportActivities(context.Background(), req)
	require.Nil(t, first.Err)
	second := f.svc.ImportActivities(context.Background(), req)
	require.Nil(t, second.Err)

	assert.Equal(t, 12, first.Imported)
	assert.Equal(t, 12, second.Imported)
	assert.Equal(t, 12, f.count(t))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestImportActivities_PreservesExclusionFlag(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(3)})
	ctx := context.Background()
	req := ImportRequest{Account: testAccount, PageSize: 10}

	require.Nil(t, f.svc.ImportActivities(ctx, req).Err)

	a, err := f.store.GetActivity(ctx, "strava", "2")
	require.NoError(t, err)
	_, err = f.store.SetExcluded(ctx, a.ID, true)
	require.NoError(t, err)

	require.Nil(t, f.svc.ImportActivities(ctx, req).Err)

	a, err = f.store.GetActivity(ctx, "strava", "2")
	require.NoError(t, err)
	assert.True(t, a.ExcludedFromAnalysis)
}

func TestImportActivities_SkipsAndFailures(t *testing.T) {
	records := []provider.RawRecord{
		provider.RawRecord(`{"id":1,"sport_type":"Run","start_date":"2024-03-01T07:00:00Z"}`),
		provider.RawRecord(`{"id":2,"sport_type":"Walk","start_date":"2024-03-02T07:00:00Z"}`),
		provider.RawRecord(`{"sport_type":"Run"}`),
		provider.RawRecord(`{"id":4,"start_date":"2024-03-04T07:00:00Z"}`),
		provider.RawRecord(`{"id":"five"}`),
		provider.RawRecord(`{"id":6,"type":"Ride","start_date":"not a date"}`),
		provider.RawRecord(`{"id":7,"type":"Ride"}`),
	}
	client := &fakeClient{fetch: func(_ context.Context, _ store.Credential, req provider.PageRequest, _ int) (provider.PageResult, error) {
		return provider.Ok(records), nil
	}}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 50})

	require.Nil(t, result.Err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.PagesFetched)
	assert.Equal(t, 2, f.count(t))
}

func TestImportActivities_EmptyFirstPage(t *testing.T) {
	client := &fakeClient{fetch: pagesOf()}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount})

	require.Nil(t, result.Err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 1, result.PagesFetched)
	assert.False(t, result.HasMore)
}

func TestImportActivities_PageCeiling(t *testing.T) {
	full := func(_ context.Context, _ store.Credential, req provider.PageRequest, _ int) (provider.PageResult, error) {
		return provider.Ok(runRecords((req.Page-1)*2+1, 2)), nil
	}

	tests := []struct {
		name     string
		maxPages int
		want     int
	}{
		{"default", 0, MaxPagesCeiling},
		{"above ceiling", 500, MaxPagesCeiling},
		{"explicit", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{fetch: full}
			f := newFixture(t, client)

			result := f.svc.ImportActivities(context.Background(), ImportRequest{
				Account:  testAccount,
				PageSize: 2,
				MaxPages: tt.maxPages,
			})

			require.Nil(t, result.Err)
			assert.Equal(t, tt.want, result.PagesFetched)
			assert.Len(t, client.requests, tt.want)
			assert.Equal(t, tt.want*2, result.Imported)
			assert.True(t, result.HasMore)
			assert.Equal(t, tt.want+1, result.NextPage)
		})
	}
}

func TestImportActivities_StartPage(t *testing.T) {
	client := &fakeClient{fetch: pagesOf(2, 2, 2, 1)}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 2, StartPage: 3})

	require.Nil(t, result.Err)
	assert.Equal(t, []int{3, 4}, client.pagesRequested())
	assert.Equal(t, 3, result.Imported)
}

func TestImportActivities_RateLimitedMidway(t *testing.T) {
	client := &fakeClient{fetch: func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error) {
		if req.Page == 3 {
			return provider.PageResult{Outcome: provider.OutcomeRateLimited, Status: 429, RetryAfter: 15 * time.Minute}, nil
		}
		return provider.Ok(runRecords((req.Page-1)*4+1, 4)), nil
	}}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 4})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindRateLimited, result.Err.Kind)
	assert.False(t, result.Err.Fatal())
	assert.True(t, result.OK())
	assert.Equal(t, StateBackoff, result.State)
	assert.Equal(t, 15*time.Minute, result.RetryAfter)
	assert.Equal(t, 8, result.Imported)
	assert.Equal(t, 2, result.PagesFetched)
	assert.True(t, result.HasMore)
	assert.Equal(t, 3, result.NextPage)
	assert.Equal(t, 8, f.count(t))
}

func TestImportActivities_RateLimitedOnValidate(t *testing.T) {
	client := &fakeClient{
		validate: func(store.Credential, int) (provider.PageResult, error) {
			return provider.PageResult{Outcome: provider.OutcomeRateLimited, Status: 429}, nil
		},
		fetch: pagesOf(1),
	}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindRateLimited, result.Err.Kind)
	assert.Equal(t, 1, result.NextPage)
	assert.True(t, result.HasMore)
	assert.Empty(t, client.requests)
}

func TestImportActivities_RefreshOnValidate(t *testing.T) {
	client := &fakeClient{
		validate: func(cred store.Credential, call int) (provider.PageResult, error) {
			if cred.AccessToken == "access-1" {
				return provider.PageResult{Outcome: provider.OutcomeAuthExpired, Status: 401}, nil
			}
			return provider.Ok(nil), nil
		},
		fetch: pagesOf(3),
	}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 10})

	require.Nil(t, result.Err)
	assert.Equal(t, 1, f.refresher.callCount())
	assert.Equal(t, 2, client.validateCalls)
	assert.Equal(t, []string{"access-refreshed"}, client.tokens)
	assert.Equal(t, 3, result.Imported)

	cred, err := f.store.GetCredential(context.Background(), "strava", "123")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", cred.AccessToken)
}

func TestImportActivities_RefreshMidLoopRetriesPage(t *testing.T) {
	client := &fakeClient{fetch: func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error) {
		if req.Page == 2 && cred.AccessToken == "access-1" {
			return provider.PageResult{Outcome: provider.OutcomeAuthExpired, Status: 401}, nil
		}
		return pagesOf(2, 2, 1)(ctx, cred, req, attempt)
	}}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 2})

	require.Nil(t, result.Err)
	assert.Equal(t, 1, f.refresher.callCount())
	assert.Equal(t, []int{1, 2, 2, 3}, client.pagesRequested())
	assert.Equal(t, 5, result.Imported)
	assert.Equal(t, 3, result.PagesFetched)
}

func TestImportActivities_RefreshesAtMostOnce(t *testing.T) {
	client := &fakeClient{fetch: func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error) {
		if req.Page >= 2 {
			return provider.PageResult{Outcome: provider.OutcomeAuthExpired, Status: 401}, nil
		}
		return provider.Ok(runRecords(1, 2)), nil
	}}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 2})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindReauthorizationRequired, result.Err.Kind)
	assert.True(t, result.Err.Fatal())
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, f.refresher.callCount())
	assert.Equal(t, []int{1, 2, 2}, client.pagesRequested())
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.NextPage)
	assert.True(t, result.HasMore)
}

func TestImportActivities_RefreshFailures(t *testing.T) {
	expired := func(store.Credential, int) (provider.PageResult, error) {
		return provider.PageResult{Outcome: provider.OutcomeAuthExpired, Status: 401}, nil
	}

	tests := []struct {
		name         string
		refreshToken string
		err          error
		wantDetail   string
	}{
		{"no refresh token", "", nil, "no refresh token stored"},
		{"invalid grant", "refresh-1", &auth.RefreshError{Reason: auth.ReasonInvalidGrant, Err: errors.New("revoked")}, "invalid_grant"},
		{"network", "refresh-1", &auth.RefreshError{Reason: auth.ReasonNetwork, Err: errors.New("dial tcp")}, "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{validate: expired, fetch: pagesOf(1)}
			f := newFixture(t, client)
			f.refresher.err = tt.err

			require.NoError(t, f.store.UpsertCredential(context.Background(), &store.Credential{
				Provider:          "strava",
				ExternalAccountID: "123",
				OwnerID:           "user-1",
				AccessToken:       "access-1",
				RefreshToken:      tt.refreshToken,
			}))

			result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount})

			require.NotNil(t, result.Err)
			assert.Equal(t, KindReauthorizationRequired, result.Err.Kind)
			assert.Contains(t, result.Err.Detail, tt.wantDetail)
			assert.Empty(t, client.requests)

			cred, err := f.store.GetCredential(context.Background(), "strava", "123")
			require.NoError(t, err)
			assert.Equal(t, "access-1", cred.AccessToken)
		})
	}
}

func TestImportActivities_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		result provider.PageResult
		err    error
		want   ErrorKind
	}{
		{"malformed", provider.PageResult{Outcome: provider.OutcomeMalformed, Status: 200, Detail: "missing field"}, nil, KindUpstreamMalformed},
		{"server error", provider.PageResult{Outcome: provider.OutcomeServerError, Status: 503}, nil, KindUpstreamServerError},
		{"timeout", provider.PageResult{Outcome: provider.OutcomeNetworkTimeout}, nil, KindUpstreamTimeout},
		{"unreachable", provider.PageResult{}, provider.ErrUnreachable, KindUpstreamUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{fetch: func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error) {
				if req.Page == 2 {
					return tt.result, tt.err
				}
				return provider.Ok(runRecords(1, 3)), nil
			}}
			f := newFixture(t, client)

			result := f.svc.ImportActivities(context.Background(), ImportRequest{Account: testAccount, PageSize: 3})

			require.NotNil(t, result.Err)
			assert.Equal(t, tt.want, result.Err.Kind)
			assert.True(t, result.Err.Fatal())
			assert.False(t, result.OK())
			assert.Equal(t, StateFailed, result.State)
			assert.Equal(t, 3, result.Imported)
			assert.Equal(t, 1, result.PagesFetched)
			assert.Equal(t, 2, result.NextPage)
			assert.True(t, result.HasMore)
			assert.Equal(t, 3, f.count(t))
		})
	}
}

func TestImportActivities_PersistFailureDoesNotAbort(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.UpsertCredential(ctx, &store.Credential{
		Provider: "strava", ExternalAccountID: "123", OwnerID: "user-1", AccessToken: "access-1",
	}))

	flaky := &flakyStore{Store: s, failIDs: map[string]bool{"3": true}}
	svc := NewSyncService(
		map[provider.Name]Source{
			provider.Strava: {Client: &fakeClient{fetch: pagesOf(5, 2)}, Normalizer: strava.NewNormalizer(nil)},
		},
		s, flaky, &fakeRefresher{}, nil,
	)

	result := svc.ImportActivities(ctx, ImportRequest{Account: testAccount, PageSize: 5})

	require.Nil(t, result.Err)
	assert.Equal(t, 6, result.Imported)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.PagesFetched)

	_, err = s.GetActivity(ctx, "strava", "3")
	assert.ErrorIs(t, err, store.ErrActivityNotFound)
}

func TestImportActivities_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{fetch: func(ctx context.Context, cred store.Credential, req provider.PageRequest, attempt int) (provider.PageResult, error) {
		if req.Page == 2 {
			cancel()
			return provider.PageResult{}, ctx.Err()
		}
		return provider.Ok(runRecords(1, 2)), nil
	}}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(ctx, ImportRequest{Account: testAccount, PageSize: 2})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindCanceled, result.Err.Kind)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.NextPage)
	assert.Equal(t, 2, f.count(t))
}

func TestImportActivities_AccountNotConnected(t *testing.T) {
	client := &fakeClient{fetch: pagesOf(1)}
	f := newFixture(t, client)

	result := f.svc.ImportActivities(context.Background(), ImportRequest{
		Account: AccountRef{Provider: provider.Strava, ExternalAccountID: "999"},
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindAccountNotConnected, result.Err.Kind)
	assert.False(t, result.HasMore)
	assert.Equal(t, 0, client.validateCalls)
	assert.Empty(t, client.requests)
}

func TestImportActivities_UnconfiguredProvider(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(1)})

	result := f.svc.ImportActivities(context.Background(), ImportRequest{
		Account: AccountRef{Provider: provider.Coros, ExternalAccountID: "123"},
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, KindInternal, result.Err.Kind)
}

func TestImportActivities_Progress(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(2, 2, 1)})

	progress := make(chan Progress, 10)
	result := f.svc.ImportActivities(context.Background(), ImportRequest{
		Account:  testAccount,
		PageSize: 2,
		Progress: progress,
	})
	require.Nil(t, result.Err)

	var updates []Progress
	for p := range progress {
		updates = append(updates, p)
	}

	require.Len(t, updates, 3)
	assert.Equal(t, 1, updates[0].Page)
	assert.Equal(t, 2, updates[0].Imported)
	assert.Equal(t, 3, updates[2].Pages)
	assert.Equal(t, 5, updates[2].Imported)
}

func TestImportActivities_SlowProgressConsumer(t *testing.T) {
	f := newFixture(t, &fakeClient{fetch: pagesOf(2, 2, 1)})

	progress := make(chan Progress)
	done := make(chan SyncResult)
	go func() {
		done <- f.svc.ImportActivities(context.Background(), ImportRequest{
			Account:  testAccount,
			PageSize: 2,
			Progress: progress,
		})
	}()

	select {
	case result := <-done:
		assert.Equal(t, 5, result.Imported)
	case <-time.After(5 * time.Second):
		t.Fatal("import blocked on an unread progress channel")
	}

	_, open := <-progress
	assert.False(t, open)
}
