// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package maintenance purges expired auth state on a schedule.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/samber/oops"
)

// DefaultSchedule runs the janitor every quarter hour.
const DefaultSchedule = "@every 15m"

// DefaultOutboxRetention keeps delivered notifications for a week.
const DefaultOutboxRetention = 7 * 24 * time.Hour

// Purger deletes expired rows. Satisfied by auth.SessionManager and
// auth.ResetTokenManager.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// OutboxPurger deletes delivered and dead-lettered notifications.
type OutboxPurger interface {
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
}

// Result counts rows removed by one run.
type Result struct {
	Sessions      int64
	ResetTokens   int64
	Notifications int64
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) { j.logger = logger }
}

// WithOutboxRetention sets how long sent notifications are kept.
func WithOutboxRetention(d time.Duration) Option {
	return func(j *Janitor) { j.retention = d }
}

// WithRegisterer registers the purge counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(j *Janitor) { j.reg = reg }
}

// Janitor removes expired sessions, reset tokens past retention and sent
// outbox entries past retention.
type Janitor struct {
	sessions  Purger
	resets    Purger
	outbox    OutboxPurger
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
	reg       prometheus.Registerer
	purged    *prometheus.CounterVec
}

// NewJanitor creates a Janitor. outbox may be nil.
func NewJanitor(sessions, resets Purger, outbox OutboxPurger, opts ...Option) (*Janitor, error) {
	if sessions == nil || resets == nil {
		return nil, oops.Code("JANITOR_INVALID").Errorf("session and reset purgers are required")
	}
	j := &Janitor{
		sessions:  sessions,
		resets:    resets,
		outbox:    outbox,
		retention: DefaultOutboxRetention,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "janitor")
	j.purged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_janitor_purged_total",
		Help: "Rows removed by the maintenance janitor by kind",
	}, []string{"kind"})
	if j.reg != nil {
		if err := j.reg.Register(j.purged); err != nil {
			return nil, oops.Code("JANITOR_INVALID").With("operation", "register metrics").Wrap(err)
		}
	}
	return j, nil
}

// RunOnce performs one purge pass. Every step runs even if an earlier one
// fails; the failures are joined.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)

	step := func(kind string, dst *int64, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			errs = append(errs, oops.With("kind", kind).Wrap(err))
			return
		}
		*dst = n
		j.purged.WithLabelValues(kind).Add(float64(n))
	}

	step("sessions", &res.Sessions, func() (int64, error) { return j.sessions.PurgeExpired(ctx) })
	step("reset_tokens", &res.ResetTokens, func() (int64, error) { return j.resets.PurgeExpired(ctx) })
	if j.outbox != nil {
		step("notifications", &res.Notifications, func() (int64, error) {
			return j.outbox.PurgeFinished(ctx, j.now().Add(-j.retention))
		})
	}

	if len(errs) > 0 {
		err := oops.Code("JANITOR_RUN_FAILED").Join(errs...)
		j.logger.ErrorContext(ctx, "maintenance run failed", "error", err)
		return res, err
	}
	j.logger.InfoContext(ctx, "maintenance run complete",
		"sessions", res.Sessions,
		"reset_tokens", res.ResetTokens,
		"notifications", res.Notifications,
	)
	return res, nil
}

// Start runs RunOnce on the cron schedule until the returned stop func is
// called. Overlapping runs are skipped. stop waits for a running pass.
func (j *Janitor) Start(ctx context.Context, schedule string) (stop func(), err error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, oops.Code("JANITOR_SCHEDULE_INVALID").With("schedule", schedule).Wrap(err)
	}

	logger := cronLogger{j.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Schedule(sched, cron.FuncJob(func() {
		//nolint:errcheck // RunOnce logs its own failures
		j.RunOnce(ctx)
	}))
	c.Start()
	j.logger.Info("janitor started", "schedule", schedule)

	return func() {
		<-c.Stop().Done()
		j.logger.Info("janitor stopped")
	}, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
