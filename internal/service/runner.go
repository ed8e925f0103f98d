package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trainer/internal/events"
	"trainer/internal/lock"
	"trainer/internal/provider"
)

// StateStore persists small pieces of sync bookkeeping
type StateStore interface {
	GetSyncState(ctx context.Context, key string) (string, error)
	SetSyncState(ctx context.Context, key, value string) error
	DeleteSyncState(ctx context.Context, key string) error
}

// RunnerConfig holds defaults applied to requests that leave fields unset
type RunnerConfig struct {
	Provider   provider.Name
	SinceYears int
	PageSize   int
	MaxPages   int
	LockTTL    time.Duration
}

// SyncRequest is what the HTTP API, CLI and cron hand to the Runner
type SyncRequest struct {
	Provider   provider.Name
	AccountID  string // empty selects the default account
	SinceYears int    // 0 uses the configured default; negative imports everything
	PageSize   int
	StartPage  int
	MaxPages   int
	// Resume starts from the stored cursor when StartPage is unset and stores
	// the next page when the run stops early.
	Resume   bool
	Progress chan<- Progress
}

// Runner resolves the account, serializes runs per account and publishes the
// outcome of every import.
type Runner struct {
	sync      *SyncService
	resolver  *AccountResolver
	locker    lock.Locker
	state     StateStore
	publisher events.Publisher
	cfg       RunnerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. A nil publisher disables events.
func NewRunner(sync *SyncService, resolver *AccountResolver, locker lock.Locker, state StateStore, publisher events.Publisher, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.Provider == "" {
		cfg.Provider = provider.Strava
	}
	if cfg.SinceYears == 0 {
		cfg.SinceYears = 2
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Runner{
		sync:      sync,
		resolver:  resolver,
		locker:    locker,
		state:     state,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync runs one import for the requested (or default) account
func (r *Runner) Sync(ctx context.Context, req SyncRequest) SyncResult {
	p := req.Provider
	if p == "" {
		p = r.cfg.Provider
	}

	account, err := r.resolver.Resolve(ctx, p, req.AccountID)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, ErrNoAccount) {
			kind = KindAccountNotConnected
		}
		closeProgress(req.Progress)
		return r.rejected(AccountRef{Provider: p, ExternalAccountID: req.AccountID}, &SyncError{Kind: kind, Err: err})
	}

	release, err := r.locker.Acquire(ctx, lockKey(account), r.cfg.LockTTL)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, lock.ErrLocked) {
			kind = KindSyncInProgress
		}
		closeProgress(req.Progress)
		return r.rejected(account, &SyncError{Kind: kind, Err: err})
	}
	defer func() {
		// release even when the caller's context is gone
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			r.logger.Warn("failed to release sync lock", zap.String("account", account.String()), zap.Error(err))
		}
	}()

	startPage := req.StartPage
	if req.Resume && startPage == 0 {
		startPage = r.loadCursor(ctx, account)
	}

	result := r.sync.ImportActivities(ctx, ImportRequest{
		Account:   account,
		Since:     r.since(req.SinceYears),
		StartPage: startPage,
		PageSize:  firstPositive(req.PageSize, r.cfg.PageSize),
		MaxPages:  firstPositive(req.MaxPages, r.cfg.MaxPages),
		Progress:  req.Progress,
	})

	if req.Resume {
		r.storeCursor(context.WithoutCancel(ctx), account, result)
	}
	r.publish(context.WithoutCancel(ctx), result)
	return result
}

func (r *Runner) since(years int) time.Time {
	if years == 0 {
		years = r.cfg.SinceYears
	}
	if years < 0 {
		return time.Time{}
	}
	return r.now().UTC().Add(-time.Duration(years) * 365 * 24 * time.Hour)
}

func (r *Runner) loadCursor(ctx context.Context, account AccountRef) int {
	v, err := r.state.GetSyncState(ctx, cursorKey(account))
	if err != nil {
		r.logger.Warn("failed to read sync cursor", zap.String("account", account.String()), zap.Error(err))
		return 1
	}
	page, err := strconv.Atoi(v)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (r *Runner) storeCursor(ctx context.Context, account AccountRef, result SyncResult) {
	key := cursorKey(account)
	var err error
	if result.HasMore {
		err = r.state.SetSyncState(ctx, key, strconv.Itoa(result.NextPage))
	} else {
		err = r.state.DeleteSyncState(ctx, key)
	}
	if err != nil {
		r.logger.Warn("failed to store sync cursor", zap.String("account", account.String()), zap.Error(err))
	}
}

func (r *Runner) publish(ctx context.Context, result SyncResult) {
	evt := events.SyncCompleted{
		RunID:        result.RunID,
		Provider:     string(result.Account.Provider),
		AccountID:    result.Account.ExternalAccountID,
		Imported:     result.Imported,
		Skipped:      result.Skipped,
		Failed:       result.Failed,
		PagesFetched: result.PagesFetched,
		NextPage:     result.NextPage,
		HasMore:      result.HasMore,
		RetryAfterS:  int(result.RetryAfter / time.Second),
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
	}
	if result.Err != nil {
		evt.ErrorKind = string(result.Err.Kind)
	}
	if err := r.publisher.PublishSyncCompleted(ctx, evt); err != nil {
		r.logger.Warn("failed to publish sync event", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// rejected builds the result for a run that never started
func (r *Runner) rejected(account AccountRef, se *SyncError) SyncResult {
	now := r.now()
	r.logger.Warn("sync rejected",
		zap.String("account", account.String()),
		zap.String("kind", string(se.Kind)),
		zap.Error(se.Err),
	)
	return SyncResult{
		Account:    account,
		State:      StateFailed,
		StartedAt:  now,
		FinishedAt: now,
		Err:        se,
	}
}

func lockKey(a AccountRef) string {
	return fmt.Sprintf("sync:%s:%s", a.Provider, a.ExternalAccountID)
}

func cursorKey(a AccountRef) string {
	return fmt.Sprintf("sync_cursor:%s:%s", a.Provider, a.ExternalAccountID)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func closeProgress(ch chan<- Progress) {
	if ch != nil {
		close(ch)
	}
}
