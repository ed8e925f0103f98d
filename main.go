package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trainer/internal/auth"
	"trainer/internal/config"
	"trainer/internal/logging"
	"trainer/internal/provider"
	"trainer/internal/server"
	"trainer/internal/service"
	"trainer/internal/store"
	"trainer/internal/tui"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "trainer",
		Short:         "Import activity history from Strava and COROS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCmd(), newSyncCmd(), newCronCmd(), newConnectCmd(), newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Activity store (sqlite or postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-url", "", "Postgres connection URL")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.url", "database-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// setup loads and validates the configuration, then wires the application.
// A missing configuration produces an example file and a hint instead.
func setup(ctx context.Context) (*app, error) {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		if viper.ConfigFileUsed() == "" {
			path, pathErr := config.DefaultConfigPath()
			if pathErr == nil && config.CreateExample(path) == nil {
				fmt.Printf("Please edit the config file at:\n  %s\n\n", path)
				fmt.Println("You need to add your Strava API credentials.")
				fmt.Println("Get them from: https://www.strava.com/settings/api")
			}
		}
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, err
	}
	return a, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			return runServer(ctx, a)
		},
	}
	cmd.Flags().String("http-address", config.NewViper().GetString("http.address"), "HTTP listen address")
	if err := viper.BindPFlag("http.address", cmd.Flags().Lookup("http-address")); err != nil {
		panic(err)
	}
	return cmd
}

func runServer(ctx context.Context, a *app) error {
	var tokens server.TokenValidator
	if a.cfg.HTTP.JWTSecret != "" {
		tokens = server.NewJWTManager([]byte(a.cfg.HTTP.JWTSecret))
	} else {
		a.logger.Warn("http.jwt_secret is not set, the API is unauthenticated")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Runner:      a.runner,
		Queries:     a.queries,
		Credentials: a.repo,
		Providers:   a.providers(),
		Tokens:      tokens,
		CORSOrigins: a.cfg.HTTP.CORSOrigins,
		Logger:      a.logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("address", a.cfg.HTTP.Address))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type syncFlags struct {
	provider    string
	account     string
	sinceYears  int
	maxPages    int
	page        int
	resume      bool
	interactive bool
}

func newSyncCmd() *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import activities for one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			req := service.SyncRequest{
				Provider:   provider.Name(flags.provider),
				AccountID:  flags.account,
				SinceYears: flags.sinceYears,
				StartPage:  flags.page,
				MaxPages:   flags.maxPages,
				Resume:     flags.resume,
			}
			if flags.interactive {
				return runInteractiveSync(ctx, a, req)
			}

			result := a.runner.Sync(ctx, req)
			printResult(result)
			if !result.OK() {
				return result.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.provider, "provider", "", "Provider to sync (strava or coros)")
	cmd.Flags().StringVar(&flags.account, "account", "", "External account id (default: configured or most recent)")
	cmd.Flags().IntVar(&flags.sinceYears, "since-years", 0, "Years of history to import; negative imports everything")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "Pages to fetch in this run (at most 50)")
	cmd.Flags().IntVar(&flags.page, "page", 0, "Page to start from")
	cmd.Flags().BoolVar(&flags.resume, "resume", true, "Continue from where the previous run stopped")
	cmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "Show live progress")
	return cmd
}

func runInteractiveSync(ctx context.Context, a *app, req service.SyncRequest) error {
	p := req.Provider
	if p == "" {
		p = provider.Name(a.cfg.Sync.Provider)
	}
	maxPages := req.MaxPages
	if maxPages == 0 {
		maxPages = a.cfg.Sync.MaxPages
	}

	run := func(_ context.Context, progress chan<- service.Progress) service.SyncResult {
		r := req
		r.Progress = progress
		return a.runner.Sync(ctx, r)
	}

	program := tea.NewProgram(tui.NewApp(run, a.queries, tui.AppOptions{
		Provider:  string(p),
		MaxPages:  maxPages,
		AutoStart: true,
	}), tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func printResult(r service.SyncResult) {
	fmt.Printf("%s: %s imported, %s skipped, %d failed across %s\n",
		r.Account,
		humanize.Comma(int64(r.Imported)),
		humanize.Comma(int64(r.Skipped)),
		r.Failed,
		english.Plural(r.PagesFetched, "page", ""),
	)
	if r.HasMore {
		fmt.Printf("More history remains; the next run starts at page %d\n", r.NextPage)
	}
	if r.Err != nil {
		fmt.Printf("%s (%s)\n", r.Err.Message(), r.Err.Remedy())
	}
}

func newCronCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Sync the default account on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			if interval <= 0 {
				interval = a.cfg.Sync.CronInterval
			}
			return runCron(ctx, a, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (default sync.cron_interval)")
	return cmd
}

func runCron(ctx context.Context, a *app, interval time.Duration) error {
	return cronLoop(ctx, a.logger, interval, func(ctx context.Context) service.SyncResult {
		return a.runner.Sync(ctx, service.SyncRequest{Resume: true})
	})
}

func cronLoop(ctx context.Context, logger *zap.Logger, interval time.Duration, sync func(context.Context) service.SyncResult) error {
	if interval <= 0 {
		return fmt.Errorf("cron interval must be positive, got %s", interval)
	}
	logger.Info("cron started", zap.Duration("interval", interval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cron stopped")
			return nil
		case <-timer.C:
		}

		result := sync(ctx)
		if result.Err != nil && result.Err.Kind == service.KindAccountNotConnected {
			return result.Err
		}

		// the next run is timed from the end of this one
		timer.Reset(nextCronWait(result, interval))
	}
}

// nextCronWait shortens the wait when a paused import can continue sooner
func nextCronWait(result service.SyncResult, interval time.Duration) time.Duration {
	if result.HasMore && result.RetryAfter > 0 && result.RetryAfter < interval {
		return result.RetryAfter
	}
	return interval
}

func newConnectCmd() *cobra.Command {
	var providerName string
	var port int
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Authorize a provider account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync() //nolint:errcheck

			return connect(ctx, a, provider.Name(providerName), port)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", string(provider.Strava), "Provider to connect (strava or coros)")
	cmd.Flags().IntVar(&port, "port", auth.CallbackPort, "Local OAuth callback port")
	return cmd
}

func connect(ctx context.Context, a *app, p provider.Name, port int) error {
	oc, ok := a.oauth[p]
	if !ok {
		return fmt.Errorf("%s is not configured", p)
	}

	result, err := auth.Authenticate(ctx, p, oc, auth.CallbackOptions{Port: port, Out: os.Stdout})
	if err != nil {
		return err
	}
	if result.AccountID == "" {
		return fmt.Errorf("%s did not return an account id", p)
	}

	// a reconnected account keeps its owner
	ownerID := uuid.NewString()
	existing, err := a.repo.GetCredential(ctx, string(p), result.AccountID)
	switch {
	case err == nil:
		ownerID = existing.OwnerID
	case !errors.Is(err, store.ErrCredentialNotFound):
		return fmt.Errorf("loading existing credential: %w", err)
	}

	cred := &store.Credential{
		Provider:          string(p),
		ExternalAccountID: result.AccountID,
		OwnerID:           ownerID,
		AccessToken:       result.Token.AccessToken,
		RefreshToken:      result.Token.RefreshToken,
		UpdatedAt:         time.Now().UTC(),
	}
	if !result.Token.Expiry.IsZero() {
		expiry := result.Token.Expiry.UTC()
		cred.ExpiresAt = &expiry
	}
	if err := a.repo.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	fmt.Println()
	fmt.Printf("Successfully connected %s account %s!\n", p, result.AccountID)
	return nil
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(viper.GetViper())
			if cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is required")
			}
			token, err := server.NewJWTManager([]byte(cfg.HTTP.JWTSecret)).IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cron", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
