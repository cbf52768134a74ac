// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/maintenance"
	"github.com/holomush/authcore/internal/notify"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/telemetry"
	"github.com/holomush/authcore/internal/web"
	"github.com/holomush/authcore/pkg/errutil"
)

const serviceName = "authcore"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, notification relay and janitor",
		Long: `Start the authentication HTTP API. The same process drains the
notification outbox and, when enabled, purges expired state on a schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// app holds the wired components of a running server.
type app struct {
	service *auth.Service
	relay   *notify.Relay
	janitor *maintenance.Janitor
	obs     *observability.Server
	router  http.Handler
}

// buildApp wires the auth components on top of backend.
func buildApp(cfg *config.Config, backend *Backend, sender notify.Sender, logger *slog.Logger) (*app, error) {
	hasher, err := auth.NewHasher(cfg.Auth.HashAlgorithm, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, oops.With("operation", "create password hasher").Wrap(err)
	}

	sessions, err := auth.NewSessionManager(backend.Sessions, backend.Users, cfg.SessionConfig(),
		auth.WithSessionLogger(logger))
	if err != nil {
		return nil, oops.With("operation", "create session manager").Wrap(err)
	}

	resets, err := auth.NewResetTokenManager(backend.Resets, auth.WithResetRetention(cfg.Auth.ResetRetention))
	if err != nil {
		return nil, oops.With("operation", "create reset token manager").Wrap(err)
	}

	svc, err := auth.NewService(backend.Users, hasher, sessions, resets, backend.Outbox,
		auth.WithBaseURL(cfg.App.BaseURL),
		auth.WithLogger(logger),
		auth.WithRevokeSessionsOnReset(cfg.Auth.RevokeSessionsOnReset),
	)
	if err != nil {
		return nil, oops.With("operation", "create auth service").Wrap(err)
	}

	obs := observability.NewServer(cfg.HTTP.MetricsAddr)
	obs.SetReadiness(observability.DBReadiness(backend.Pinger, obs.Metrics(),
		observability.DefaultReadinessTimeout, logger))

	renderer, err := notify.NewRenderer(cfg.App.Name, cfg.App.BaseURL)
	if err != nil {
		return nil, oops.With("operation", "create renderer").Wrap(err)
	}
	relay, err := notify.NewRelay(backend.Outbox, renderer, sender, cfg.RelayConfig(),
		notify.WithRelayLogger(logger),
		notify.WithRelayMetrics(notify.NewMetrics(obs.Registry())),
	)
	if err != nil {
		return nil, oops.With("operation", "create notification relay").Wrap(err)
	}

	janitor, err := maintenance.NewJanitor(sessions, resets, backend.Outbox,
		maintenance.WithLogger(logger),
		maintenance.WithOutboxRetention(cfg.Maintenance.OutboxRetention),
		maintenance.WithRegisterer(obs.Registry()),
	)
	if err != nil {
		return nil, oops.With("operation", "create janitor").Wrap(err)
	}

	handler := web.NewHandler(svc, svc.Sessions().Config(), logger, obs.Metrics())
	router := otelhttp.NewHandler(web.NewRouter(handler, logger, obs.Metrics()), serviceName)

	return &app{
		service: svc,
		relay:   relay,
		janitor: janitor,
		obs:     obs,
		router:  router,
	}, nil
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level)

	logger.Info("starting authcore",
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store.Backend,
		"mail_provider", cfg.Mail.Provider,
	)

	shutdownTelemetry, err := deps.TelemetrySetup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: serviceName,
		Version:     version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return oops.With("operation", "set up telemetry").Wrap(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("error flushing traces", "error", err)
		}
	}()

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	sender, err := deps.SenderFactory(cfg, logger)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, backend, sender, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	if cfg.HTTP.MetricsAddr != "" {
		obsErrChan, err := a.obs.Start()
		if err != nil {
			_ = srv.Close()
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", a.obs.Addr())
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		//nolint:errcheck // Run only returns when ctx is done
		a.relay.Run(ctx)
	}()

	stopJanitor := func() {}
	if cfg.Maintenance.Enabled {
		stopJanitor, err = a.janitor.Start(ctx, cfg.Maintenance.Schedule)
		if err != nil {
			cancel()
			workers.Wait()
			_ = srv.Close()
			return oops.With("operation", "start janitor").Wrap(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	addr := listener.Addr().String()
	cmd.Println("authcore listening on " + addr)
	logger.Info("authcore ready", "http_addr", addr)
	if deps.Ready != nil {
		deps.Ready(addr)
	}

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping HTTP server", err)
	}
	cancel()
	workers.Wait()
	stopJanitor()

	if cfg.HTTP.MetricsAddr != "" {
		if err := a.obs.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
