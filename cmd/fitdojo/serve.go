// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fitdojo/fitdojo/internal/api"
	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/auth/postgres"
	"github.com/fitdojo/fitdojo/internal/config"
	"github.com/fitdojo/fitdojo/internal/email"
	"github.com/fitdojo/fitdojo/internal/logging"
	"github.com/fitdojo/fitdojo/internal/observability"
	"github.com/fitdojo/fitdojo/internal/store"
	"github.com/fitdojo/fitdojo/internal/transport"
)

const readinessPingTimeout = 2 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the authentication HTTP API together with the metrics and health
server and the idle-session sweeper. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, deps)
		},
	}
}

// app is the wired service graph.
type app struct {
	handler    http.Handler
	sweeper    *auth.Sweeper
	dispatcher *email.Dispatcher
}

// buildApp wires repositories, services and the HTTP handler over pool.
func buildApp(cfg *config.Config, db postgres.DB, logger *slog.Logger) (*app, error) {
	users := postgres.NewUserRepository(db)
	sessions := postgres.NewSessionRepository(db)
	tokens := postgres.NewOneTimeTokenRepository(db)

	hasher, err := auth.NewArgon2idHasherWithParams(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec([]byte(cfg.Token.Secret))
	if err != nil {
		return nil, err
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	dispatcher, err := email.NewDispatcher(sender, email.DispatcherConfig{Logger: logger})
	if err != nil {
		return nil, err
	}

	authn, err := auth.NewAuthenticator(users, sessions, hasher, codec, auth.AuthenticatorConfig{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		TouchInterval: cfg.Session.TouchInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}
	registration, err := auth.NewRegistrationService(users, hasher, cfg.Password.Policy, logger)
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}
	oneTime, err := auth.NewOneTimeService(users, tokens, hasher, codec, dispatcher, auth.OneTimeConfig{
		VerifyTTL:             cfg.Token.VerifyTTL,
		ResetTTL:              cfg.Token.ResetTTL,
		BaseURL:               cfg.App.BaseURL,
		RevokeSessionsOnReset: cfg.Auth.RevokeSessionsOnReset,
		Policy:                cfg.Password.Policy,
		Logger:                logger,
	})
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}
	sweeper, err := auth.NewSweeper(sessions, tokens, auth.SweeperConfig{
		IdleTTL:  cfg.Session.IdleTTL,
		Interval: cfg.Session.SweepInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}

	tr, err := transport.New(cfg.TransportConfig())
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}
	srv, err := api.NewServer(api.Config{
		Auth:              authn,
		Registration:      registration,
		OneTime:           oneTime,
		Transport:         tr,
		Logger:            logger,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})
	if err != nil {
		return nil, closeOnError(dispatcher, err)
	}

	return &app{handler: srv.Routes(), sweeper: sweeper, dispatcher: dispatcher}, nil
}

// newSender picks the SMTP relay, or logs emails when no host is set.
func newSender(cfg *config.Config, logger *slog.Logger) (email.Sender, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("smtp host not configured, emails will be logged instead of sent")
		return email.NewLogSender(logger), nil
	}
	return email.NewSMTPSender(cfg.SMTPSettings(), logger)
}

func closeOnError(d *email.Dispatcher, err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = d.Close(ctx)
	return err
}

// runServe runs until ctx is cancelled or a server fails.
func runServe(ctx context.Context, cfg *config.Config, deps *Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database URL is required (set DATABASE_URL or database.url)")
	}

	logger := deps.LoggerFactory(logging.Options{
		Service: "fitdojo",
		Version: version,
		Format:  cfg.Server.LogFormat,
	})
	logger.Info("starting fitdojo",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"auto_migrate", cfg.Database.AutoMigrate,
	)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
			return err
		}
	}

	poolCfg := store.DefaultPoolConfig()
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, poolCfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	a, err := buildApp(cfg, pool, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, readinessCheck(pool), logger)
		auth.RegisterMetrics(obsServer.Registry())
		email.RegisterMetrics(obsServer.Registry())
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return closeOnError(a.dispatcher, err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()
	logger.Info("api server listening", "addr", cfg.Server.Addr)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-httpErrCh:
		if ok {
			logger.Error("api server failed", "error", err)
			serveErr = oops.Code("SERVE_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
		if serveErr == nil {
			serveErr = oops.Code("SHUTDOWN_FAILED").With("server", "api").Wrap(err)
		}
	}
	stopSweeper()
	wg.Wait()
	if err := a.dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("email queue not drained", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(databaseURL string, deps *Deps, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Info("database schema up to date")
		return nil
	}
	logger.Info("applying migrations", "count", len(pending))
	if err := m.Up(); err != nil {
		return err
	}
	logger.Info("migrations applied", "count", len(pending))
	return nil
}

func readinessCheck(pool *pgxpool.Pool) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		return store.Ping(ctx, pool, readinessPingTimeout)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, server string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", server, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
