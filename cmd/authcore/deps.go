// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/notify"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/telemetry"
)

// OutboxStore is what the flows, the relay and the janitor need from the
// notification outbox.
type OutboxStore interface {
	auth.Outbox
	notify.OutboxStore
}

// Backend bundles the repositories of one store backend.
type Backend struct {
	Users    auth.UserRepository
	Sessions auth.SessionRepository
	Resets   auth.ResetTokenRepository
	Outbox   OutboxStore
	Pinger   observability.Pinger
	Close    func()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the configured store.
	// Default: openBackend
	BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error)

	// SenderFactory builds the notification sender.
	// Default: newSender
	SenderFactory func(cfg *config.Config, logger *slog.Logger) (notify.Sender, error)

	// TelemetrySetup installs the tracer provider.
	// Default: telemetry.Setup
	TelemetrySetup func(ctx context.Context, cfg telemetry.Config, logger *slog.Logger) (telemetry.ShutdownFunc, error)

	// Ready, if set, receives the bound HTTP address once serving.
	Ready func(addr string)
}

func (d *ServeDeps) applyDefaults() {
	if d.BackendFactory == nil {
		d.BackendFactory = openBackend
	}
	if d.SenderFactory == nil {
		d.SenderFactory = newSender
	}
	if d.TelemetrySetup == nil {
		d.TelemetrySetup = telemetry.Setup
	}
}

// openBackend opens the store selected by cfg.Store.Backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		s := memory.NewStore()
		return &Backend{
			Users:    s,
			Sessions: s.Sessions(),
			Resets:   s.Resets(),
			Outbox:   s,
			Pinger:   s,
			Close:    func() {},
		}, nil
	case config.StorePostgres:
		poolCfg := store.DefaultPoolConfig()
		poolCfg.MaxConns = cfg.Store.MaxConns
		poolCfg.MinConns = cfg.Store.MinConns
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL, poolCfg, logger)
		if err != nil {
			return nil, oops.With("operation", "connect to database").Wrap(err)
		}
		return &Backend{
			Users:    postgres.NewUserRepository(pool),
			Sessions: postgres.NewSessionRepository(pool),
			Resets:   postgres.NewResetTokenRepository(pool),
			Outbox:   postgres.NewOutboxRepository(pool),
			Pinger:   pool,
			Close:    pool.Close,
		}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("backend", cfg.Store.Backend).Errorf("unknown store backend")
	}
}

// newSender builds the configured notification sender.
func newSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.Mail.Provider {
	case config.MailResend:
		s, err := notify.NewResendSender(cfg.ResendConfig())
		if err != nil {
			return nil, oops.With("operation", "create resend sender").Wrap(err)
		}
		return s, nil
	case config.MailLog:
		return notify.NewLogSender(logger), nil
	default:
		return nil, oops.Code("CONFIG_INVALID").With("provider", cfg.Mail.Provider).Errorf("unknown mail provider")
	}
}
