package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"trainer/internal/auth"
	"trainer/internal/config"
	"trainer/internal/coros"
	"trainer/internal/events"
	"trainer/internal/lock"
	"trainer/internal/provider"
	"trainer/internal/server"
	"trainer/internal/service"
	"trainer/internal/store"
	"trainer/internal/store/postgres"
	"trainer/internal/strava"
)

// repository is what both the sqlite store and the postgres repository provide
type repository interface {
	service.CredentialLookup
	service.ActivityStore
	service.ActivityReader
	service.StateStore
	UpsertCredential(ctx context.Context, c *store.Credential) error
	CountCredentials(ctx context.Context, provider string) (int, error)
	Close() error
}

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	repo      repository
	oauth     map[provider.Name]*oauth2.Config
	sync      *service.SyncService
	runner    *service.Runner
	queries   *service.QueryService
	publisher events.Publisher
	closers   []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	a.closers = append(a.closers, repo)

	a.oauth = make(map[provider.Name]*oauth2.Config)
	sources := make(map[provider.Name]service.Source)
	defaults := make(map[provider.Name]string)

	if cfg.Strava.Enabled() {
		oc, err := auth.NewOAuthConfig(provider.Strava, authConfig(cfg.Strava))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.oauth[provider.Strava] = oc

		opts := []strava.Option{strava.WithTimeouts(cfg.Sync.ListTimeout, cfg.Sync.ValidateTimeout)}
		if cfg.Strava.BaseURL != "" {
			opts = append(opts, strava.WithBaseURL(cfg.Strava.BaseURL))
		}
		sources[provider.Strava] = service.Source{
			Client:     strava.NewClient(opts...),
			Normalizer: strava.NewNormalizer(cfg.Sync.ExcludedTypes),
		}
		defaults[provider.Strava] = cfg.Strava.DefaultAccount
	}

	if cfg.Coros.Enabled() {
		oc, err := auth.NewOAuthConfig(provider.Coros, authConfig(cfg.Coros))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.oauth[provider.Coros] = oc

		opts := []coros.Option{coros.WithTimeouts(cfg.Sync.ListTimeout, cfg.Sync.ValidateTimeout)}
		if cfg.Coros.BaseURL != "" {
			opts = append(opts, coros.WithBaseURL(cfg.Coros.BaseURL))
		}
		sources[provider.Coros] = service.Source{
			Client:     coros.NewClient(opts...),
			Normalizer: coros.NewNormalizer(cfg.Sync.ExcludedTypes),
		}
		defaults[provider.Coros] = cfg.Coros.DefaultAccount
	}

	refresher := auth.NewRefresher(a.oauth, repo, logger.Named("auth"))
	a.sync = service.NewSyncService(sources, repo, repo, refresher, logger.Named("sync"))
	a.queries = service.NewQueryService(repo)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		locker = lock.NewRedisLocker(client, "trainer:")
	}

	a.publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, a.publisher)
	}

	a.runner = service.NewRunner(
		a.sync,
		service.NewAccountResolver(repo, defaults),
		locker,
		repo,
		a.publisher,
		service.RunnerConfig{
			Provider:   provider.Name(cfg.Sync.Provider),
			SinceYears: cfg.Sync.SinceYears,
			PageSize:   cfg.Sync.PageSize,
			MaxPages:   cfg.Sync.MaxPages,
			LockTTL:    cfg.Sync.LockTTL,
		},
		logger.Named("runner"),
	)

	return a, nil
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (repository, error) {
	switch cfg.Driver {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		repo, err := postgres.Connect(connectCtx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return repo, nil
	default:
		s, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return s, nil
	}
}

func authConfig(p config.ProviderConfig) auth.Config {
	redirect := p.RedirectURL
	if redirect == "" {
		redirect = fmt.Sprintf("http://localhost:%d/callback", auth.CallbackPort)
	}
	return auth.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirect,
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
	}
}

func (a *app) providers() []server.ProviderInfo {
	return []server.ProviderInfo{
		{Name: provider.Strava, Configured: authConfig(a.cfg.Strava).Configured()},
		{Name: provider.Coros, Configured: authConfig(a.cfg.Coros).Configured()},
	}
}

// Close releases everything newApp opened, last opened first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
