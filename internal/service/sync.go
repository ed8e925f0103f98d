package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trainer/internal/auth"
	"trainer/internal/observability"
	"trainer/internal/provider"
	"trainer/internal/store"
)

const (
	// MaxPagesCeiling bounds the pages fetched by one invocation
	MaxPagesCeiling = 50
	DefaultPageSize = 200
	MaxPageSize     = 200
)

// CredentialStore reads stored provider credentials
type CredentialStore interface {
	GetCredential(ctx context.Context, provider, externalAccountID string) (*store.Credential, error)
}

// ActivityStore persists normalized activities
type ActivityStore interface {
	UpsertActivity(ctx context.Context, a *store.Activity) error
}

// TokenRefresher exchanges a refresh token and persists the new credential
type TokenRefresher interface {
	Refresh(ctx context.Context, cred store.Credential) (store.Credential, error)
}

// Source pairs a provider client with the normalizer for its records
type Source struct {
	Client     provider.Client
	Normalizer provider.Normalizer
}

// AccountRef identifies one connected provider account
type AccountRef struct {
	Provider          provider.Name
	ExternalAccountID string
}

func (a AccountRef) String() string {
	return fmt.Sprintf("%s:%s", a.Provider, a.ExternalAccountID)
}

// ImportRequest describes one import invocation
type ImportRequest struct {
	Account   AccountRef
	Since     time.Time // zero imports the full history
	StartPage int       // 1-based; 0 means 1
	PageSize  int       // 0 means DefaultPageSize
	MaxPages  int       // clamped to [1, MaxPagesCeiling]; 0 means the ceiling
	// Progress receives an update after every page. It is closed when the
	// import returns.
	Progress chan<- Progress
}

// Progress reports the running totals during an import
type Progress struct {
	State    State
	Page     int
	Pages    int
	Imported int
	Skipped  int
	Failed   int
}

// SyncResult summarizes one import invocation
type SyncResult struct {
	RunID        string
	Account      AccountRef
	State        State
	Imported     int
	Skipped      int
	Failed       int
	PagesFetched int
	// NextPage is where a follow-up invocation should start. Only meaningful
	// when HasMore is true.
	NextPage   int
	HasMore    bool
	RetryAfter time.Duration
	StartedAt  time.Time
	FinishedAt time.Time
	Err        *SyncError
}

// OK reports whether the import completed or paused without failing
func (r SyncResult) OK() bool {
	return r.Err == nil || !r.Err.Fatal()
}

// SyncService imports activity history from providers
type SyncService struct {
	sources    map[provider.Name]Source
	creds      CredentialStore
	activities ActivityStore
	refresher  TokenRefresher
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncService creates a sync service
func NewSyncService(sources map[provider.Name]Source, creds CredentialStore, activities ActivityStore, refresher TokenRefresher, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		sources:    sources,
		creds:      creds,
		activities: activities,
		refresher:  refresher,
		logger:     logger,
		now:        time.Now,
	}
}

// Providers lists the configured providers
func (s *SyncService) Providers() []provider.Name {
	names := make([]provider.Name, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	return names
}

// ImportActivities validates the credential, refreshing it at most once, then
// pages through the provider's history and upserts every importable record.
// Per-record failures are counted and never abort the import.
func (s *SyncService) ImportActivities(ctx context.Context, req ImportRequest) SyncResult {
	req = clampRequest(req)

	run := &importRun{
		svc: s,
		req: req,
		result: SyncResult{
			RunID:     uuid.NewString(),
			Account:   req.Account,
			State:     StateIdle,
			NextPage:  req.StartPage,
			StartedAt: s.now(),
		},
	}
	run.logger = s.logger.With(
		zap.String("run_id", run.result.RunID),
		zap.String("provider", string(req.Account.Provider)),
		zap.String("account", req.Account.ExternalAccountID),
	)

	defer func() {
		if req.Progress != nil {
			close(req.Progress)
		}
	}()

	run.execute(ctx)
	run.finish()
	return run.result
}

func clampRequest(req ImportRequest) ImportRequest {
	if req.StartPage < 1 {
		req.StartPage = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	if req.MaxPages <= 0 || req.MaxPages > MaxPagesCeiling {
		req.MaxPages = MaxPagesCeiling
	}
	return req
}

// importRun is the mutable state of one invocation
type importRun struct {
	svc       *SyncService
	req       ImportRequest
	src       Source
	cred      store.Credential
	refreshed bool
	resumable bool
	result    SyncResult
	logger    *zap.Logger
}

func (r *importRun) execute(ctx context.Context) {
	src, ok := r.svc.sources[r.req.Account.Provider]
	if !ok {
		r.fail(&SyncError{Kind: KindInternal, Detail: fmt.Sprintf("provider %q is not configured", r.req.Account.Provider)})
		return
	}
	r.src = src

	cred, err := r.svc.creds.GetCredential(ctx, string(r.req.Account.Provider), r.req.Account.ExternalAccountID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		r.fail(&SyncError{Kind: KindAccountNotConnected, Detail: r.req.Account.String()})
		return
	}
	if err != nil {
		r.fail(&SyncError{Kind: KindInternal, Detail: "loading credential", Err: err})
		return
	}
	r.cred = *cred
	r.resumable = true

	if !r.validate(ctx) {
		return
	}
	r.paginate(ctx)
}

// validate issues one lightweight call. An expired token is refreshed once and
// validated again.
func (r *importRun) validate(ctx context.Context) bool {
	for {
		r.setState(StateValidating)

		res, err := r.src.Client.Validate(ctx, r.cred)
		if err != nil {
			r.failTransport(ctx, err)
			return false
		}
		observability.RecordProviderCall(string(r.req.Account.Provider), res.Outcome.String())

		switch res.Outcome {
		case provider.OutcomeOK:
			return true
		case provider.OutcomeAuthExpired:
			if !r.refresh(ctx) {
				return false
			}
		default:
			r.failOutcome(res)
			return false
		}
	}
}

func (r *importRun) paginate(ctx context.Context) {
	page := r.req.StartPage
	processed := 0

	for processed < r.req.MaxPages {
		r.result.NextPage = page
		if err := ctx.Err(); err != nil {
			r.fail(&SyncError{Kind: KindCanceled, Err: err})
			return
		}

		r.setState(StatePaging)
		res, err := r.src.Client.FetchActivityPage(ctx, r.cred, provider.PageRequest{
			Page:     page,
			PageSize: r.req.PageSize,
			Since:    r.req.Since,
		})
		if err != nil {
			r.failTransport(ctx, err)
			return
		}
		observability.RecordProviderCall(string(r.req.Account.Provider), res.Outcome.String())

		switch res.Outcome {
		case provider.OutcomeOK:
		case provider.OutcomeAuthExpired:
			// retry the same page with the refreshed credential
			if !r.refresh(ctx) {
				return
			}
			continue
		default:
			r.failOutcome(res)
			return
		}

		processed++
		r.result.PagesFetched++

		if err := r.ingest(ctx, page, res.Records); err != nil {
			r.fail(&SyncError{Kind: KindCanceled, Err: err})
			return
		}
		r.report(page)

		page++
		r.result.NextPage = page

		if len(res.Records) < r.req.PageSize {
			r.result.HasMore = false
			r.setState(StateCompleted)
			return
		}
	}

	// page budget spent on full pages; the provider may hold more
	r.result.HasMore = true
	r.setState(StateCompleted)
	r.logger.Info("page limit reached",
		zap.Int("max_pages", r.req.MaxPages),
		zap.Int("next_page", page),
	)
}

// ingest normalizes and upserts one page. Only cancellation stops it early.
func (r *importRun) ingest(ctx context.Context, page int, records []provider.RawRecord) error {
	var imported, skipped, failed int
	defer func() {
		r.result.Imported += imported
		r.result.Skipped += skipped
		r.result.Failed += failed
		observability.RecordRecords(string(r.req.Account.Provider), imported, skipped, failed)
	}()

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		activity, ok, err := r.src.Normalizer.Normalize(raw)
		if err != nil {
			failed++
			r.logger.Warn("skipping undecodable record",
				zap.Int("page", page),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			skipped++
			continue
		}

		activity.OwnerID = r.cred.OwnerID
		if err := r.svc.activities.UpsertActivity(ctx, &activity); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			r.logger.Error("failed to store activity",
				zap.String("kind", string(KindRecordPersistFailure)),
				zap.String("provider_activity_id", activity.ProviderActivityID),
				zap.Error(err),
			)
			continue
		}
		imported++
	}
	return nil
}

// refresh spends the single refresh allowed per invocation
func (r *importRun) refresh(ctx context.Context) bool {
	providerName := string(r.req.Account.Provider)

	if r.refreshed {
		r.fail(&SyncError{
			Kind:   KindReauthorizationRequired,
			Status: http.StatusUnauthorized,
			Detail: "access token rejected after refresh",
		})
		return false
	}
	r.refreshed = true
	r.setState(StateRefreshing)

	if r.svc.refresher == nil {
		r.fail(&SyncError{Kind: KindReauthorizationRequired, Detail: "token refresh is not available"})
		return false
	}

	updated, err := r.svc.refresher.Refresh(ctx, r.cred)
	if err != nil {
		if ctx.Err() != nil {
			r.fail(&SyncError{Kind: KindCanceled, Err: ctx.Err()})
			return false
		}

		detail := "token refresh failed"
		var refreshErr *auth.RefreshError
		switch {
		case errors.Is(err, auth.ErrNoRefreshToken):
			detail = "no refresh token stored"
		case errors.As(err, &refreshErr):
			detail = fmt.Sprintf("token refresh failed: %s", refreshErr.Reason)
		}
		observability.RecordRefresh(providerName, "failed")
		r.fail(&SyncError{Kind: KindReauthorizationRequired, Status: http.StatusUnauthorized, Detail: detail, Err: err})
		return false
	}

	observability.RecordRefresh(providerName, "ok")
	r.logger.Info("access token refreshed")
	r.cred = updated
	return true
}

func (r *importRun) failOutcome(res provider.PageResult) {
	se := &SyncError{Status: res.Status, Detail: res.Detail}

	switch res.Outcome {
	case provider.OutcomeRateLimited:
		se.Kind = KindRateLimited
		se.RetryAfter = res.RetryAfter
		r.result.RetryAfter = res.RetryAfter
	case provider.OutcomeMalformed:
		se.Kind = KindUpstreamMalformed
	case provider.OutcomeNetworkTimeout:
		se.Kind = KindUpstreamTimeout
	case provider.OutcomeServerError:
		se.Kind = KindUpstreamServerError
	case provider.OutcomeAuthExpired:
		se.Kind = KindAuthExpired
	default:
		se.Kind = KindInternal
	}
	r.fail(se)
}

func (r *importRun) failTransport(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		r.fail(&SyncError{Kind: KindCanceled, Err: ctx.Err()})
	case errors.Is(err, provider.ErrUnreachable):
		r.fail(&SyncError{Kind: KindUpstreamUnreachable, Err: err})
	default:
		r.fail(&SyncError{Kind: KindInternal, Err: err})
	}
}

// fail stops the run. Once the credential is loaded the run can be resumed
// from NextPage.
func (r *importRun) fail(se *SyncError) {
	r.result.Err = se
	r.result.HasMore = r.resumable

	if se.Fatal() {
		r.setState(StateFailed)
	} else {
		r.setState(StateBackoff)
	}
}

func (r *importRun) setState(s State) {
	r.result.State = s
}

func (r *importRun) report(page int) {
	if r.req.Progress == nil {
		return
	}
	p := Progress{
		State:    r.result.State,
		Page:     page,
		Pages:    r.result.PagesFetched,
		Imported: r.result.Imported,
		Skipped:  r.result.Skipped,
		Failed:   r.result.Failed,
	}
	select {
	case r.req.Progress <- p:
	default:
		// a slow consumer only misses intermediate updates
	}
}

func (r *importRun) finish() {
	r.result.FinishedAt = r.svc.now()

	outcome := "ok"
	fields := []zap.Field{
		zap.Int("imported", r.result.Imported),
		zap.Int("skipped", r.result.Skipped),
		zap.Int("failed", r.result.Failed),
		zap.Int("pages", r.result.PagesFetched),
		zap.Int("next_page", r.result.NextPage),
		zap.Bool("has_more", r.result.HasMore),
		zap.Duration("elapsed", r.result.FinishedAt.Sub(r.result.StartedAt)),
	}

	switch {
	case r.result.Err == nil:
		r.logger.Info("sync completed", fields...)
	case !r.result.Err.Fatal():
		outcome = string(r.result.Err.Kind)
		r.logger.Warn("sync paused", append(fields, zap.Duration("retry_after", r.result.RetryAfter))...)
	default:
		outcome = string(r.result.Err.Kind)
		r.logger.Error("sync failed", append(fields, zap.Error(r.result.Err))...)
	}

	observability.RecordSync(string(r.req.Account.Provider), outcome, r.result.FinishedAt.Sub(r.result.StartedAt), r.result.FinishedAt)
}
