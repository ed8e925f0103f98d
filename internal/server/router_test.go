package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trainer/internal/provider"
	"trainer/internal/service"
	"trainer/internal/store"
)

type stubRunner struct {
	requests []service.SyncRequest
	result   service.SyncResult
}

func (s *stubRunner) Sync(_ context.Context, req service.SyncRequest) service.SyncResult {
	s.requests = append(s.requests, req)
	return s.result
}

type testServer struct {
	handler http.Handler
	runner  *stubRunner
	store   *store.Store
}

func newTestServer(t *testing.T, tokens TokenValidator) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runner := &stubRunner{}
	handler, err := NewHTTPHandler(Dependencies{
		Runner:      runner,
		Queries:     service.NewQueryService(s),
		Credentials: s,
		Providers: []ProviderInfo{
			{Name: provider.Strava, Configured: true},
			{Name: provider.Coros, Configured: false},
		},
		Tokens: tokens,
	})
	require.NoError(t, err)

	return &testServer{handler: handler, runner: runner, store: s}
}

func (ts *testServer) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		request.Header[k] = v
	}
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{})
	assert.ErrorIs(t, err, errMissingRunner)

	_, err = NewHTTPHandler(Dependencies{Runner: &stubRunner{}})
	assert.ErrorIs(t, err, errMissingQueryService)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	recorder := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	recorder := ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "go_goroutines")
}

func TestSyncSuccess(t *testing.T) {
	ts := newTestServer(t, nil)
	started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ts.runner.result = service.SyncResult{
		RunID:        "run-1",
		Account:      service.AccountRef{Provider: provider.Strava, ExternalAccountID: "123"},
		State:        service.StateCompleted,
		Imported:     447,
		PagesFetched: 3,
		NextPage:     4,
		StartedAt:    started,
		FinishedAt:   started.Add(1500 * time.Millisecond),
	}

	recorder := ts.do(http.MethodGet, "/api/sync?provider=Strava&since_years=3&max_pages=5", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body syncResponsePayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, 447, body.Imported)
	assert.Equal(t, "completed", body.State)
	assert.Equal(t, int64(1500), body.ElapsedMillis)
	assert.Nil(t, body.Error)

	require.Len(t, ts.runner.requests, 1)
	req := ts.runner.requests[0]
	assert.Equal(t, provider.Strava, req.Provider)
	assert.Equal(t, 3, req.SinceYears)
	assert.Equal(t, 5, req.MaxPages)
	assert.True(t, req.Resume)
}

func TestSyncPostBody(t *testing.T) {
	ts := newTestServer(t, nil)

	recorder := ts.do(http.MethodPost, "/api/sync", `{"provider":"coros","account_id":"abc","page":4,"resume":false}`, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	require.Len(t, ts.runner.requests, 1)
	req := ts.runner.requests[0]
	assert.Equal(t, provider.Coros, req.Provider)
	assert.Equal(t, "abc", req.AccountID)
	assert.Equal(t, 4, req.StartPage)
	assert.False(t, req.Resume)
}

func TestSyncRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, target := range []string{
		"/api/sync?provider=garmin",
		"/api/sync?max_pages=51",
		"/api/sync?page_size=500",
		"/api/sync?page=abc",
	} {
		recorder := ts.do(http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, target)
	}
	assert.Empty(t, ts.runner.requests)
}

func TestSyncErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		result     service.SyncResult
		wantStatus int
		wantRetry  string
	}{
		{
			name: "rate limited",
			result: service.SyncResult{
				Imported:   200,
				HasMore:    true,
				NextPage:   2,
				RetryAfter: 900 * time.Second,
				Err:        &service.SyncError{Kind: service.KindRateLimited, Status: 429, RetryAfter: 900 * time.Second},
			},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "900",
		},
		{
			name:       "not connected",
			result:     service.SyncResult{Err: &service.SyncError{Kind: service.KindAccountNotConnected}},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "reauthorization",
			result:     service.SyncResult{Err: &service.SyncError{Kind: service.KindReauthorizationRequired, Status: 401}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "in progress",
			result:     service.SyncResult{Err: &service.SyncError{Kind: service.KindSyncInProgress}},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.runner.result = tt.result

			recorder := ts.do(http.MethodPost, "/api/sync", "", nil)
			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.Equal(t, tt.wantRetry, recorder.Header().Get("Retry-After"))

			var body syncResponsePayload
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
			require.NotNil(t, body.Error)
			assert.Equal(t, string(tt.result.Err.Kind), body.Error.Kind)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func seedActivity(t *testing.T, s *store.Store, id string) *store.Activity {
	t.Helper()
	start := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	a := &store.Activity{
		Provider:           "strava",
		ProviderActivityID: id,
		OwnerID:            "user-1",
		Type:               "run",
		StartTime:          &start,
	}
	require.NoError(t, s.UpsertActivity(context.Background(), a))
	return a
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestActivitiesEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	a := seedActivity(t, ts.store, "1")
	seedActivity(t, ts.store, "2")

	recorder := ts.do(http.MethodGet, "/api/activities?provider=strava", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var page service.ActivityPage
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 20, page.PageSize)

	recorder = ts.do(http.MethodPatch, "/api/activities/"+itoa(a.ID), `{"excluded_from_analysis":true}`, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var updated store.Activity
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &updated))
	assert.True(t, updated.ExcludedFromAnalysis)

	recorder = ts.do(http.MethodGet, "/api/activities?exclude_flagged=true", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	recorder = ts.do(http.MethodGet, "/api/activities/"+itoa(a.ID), "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "raw_payload")
}

func TestActivitiesErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/api/activities?page=0", "", http.StatusBadRequest},
		{http.MethodGet, "/api/activities/abc", "", http.StatusBadRequest},
		{http.MethodGet, "/api/activities/42", "", http.StatusNotFound},
		{http.MethodPatch, "/api/activities/42", `{"excluded_from_analysis":true}`, http.StatusNotFound},
		{http.MethodPatch, "/api/activities/42", `{"excluded_from_analysis":"yes"}`, http.StatusBadRequest},
		{http.MethodPatch, "/api/activities/42", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		recorder := ts.do(tt.method, tt.target, tt.body, nil)
		assert.Equal(t, tt.want, recorder.Code, "%s %s %s", tt.method, tt.target, tt.body)
	}
}

func TestProvidersHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.UpsertCredential(context.Background(), &store.Credential{
		Provider: "strava", ExternalAccountID: "123", OwnerID: "user-1", AccessToken: "token",
	}))

	recorder := ts.do(http.MethodGet, "/api/providers/health", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Providers []providerHealthPayload `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, providerHealthPayload{Provider: "strava", Configured: true, ConnectedAccounts: 1}, body.Providers[0])
	assert.Equal(t, providerHealthPayload{Provider: "coros", Configured: false, ConnectedAccounts: 0}, body.Providers[1])
	assert.NotContains(t, recorder.Body.String(), "token")
}

func TestAuthorization(t *testing.T) {
	manager := NewJWTManager([]byte("test-secret"))
	ts := newTestServer(t, manager)

	recorder := ts.do(http.MethodGet, "/api/activities", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = ts.do(http.MethodGet, "/api/activities", "", http.Header{"Authorization": {"Bearer not-a-token"}})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	token, err := manager.IssueToken("user-1", time.Minute)
	require.NoError(t, err)
	recorder = ts.do(http.MethodGet, "/api/activities", "", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, recorder.Code)

	// health and metrics stay public
	recorder = ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.PATCH("/api/activities/1", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/activities/1", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "https://app.example.com", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}
