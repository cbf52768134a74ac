// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers the notification outbox written by the auth flows.
package notify

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/pkg/errutil"
)

// Relay defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 20
	DefaultMaxAttempts  = 5
	DefaultLease        = time.Minute
	DefaultBackoff      = 30 * time.Second
	DefaultSendRetries  = 2
)

// RelayConfig tunes the relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is the number of failed deliveries after which an entry is dead.
	MaxAttempts int
	// Lease hides a claimed entry from other relays while it is being sent.
	Lease time.Duration
	// Backoff is the base delay before a failed entry is claimed again.
	// It doubles with each attempt.
	Backoff time.Duration
	// SendRetries is the number of immediate in-process retries per claim.
	SendRetries uint64
	// SendRetryBase is the first in-process retry delay.
	SendRetryBase time.Duration
}

func (c *RelayConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.SendRetryBase <= 0 {
		c.SendRetryBase = 200 * time.Millisecond
	}
}

// Metrics counts relay outcomes by notification kind.
type Metrics struct {
	Sent   *prometheus.CounterVec
	Failed *prometheus.CounterVec
	Dead   *prometheus.CounterVec
}

// NewMetrics creates and registers relay metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_notifications_sent_total",
			Help: "Notifications delivered by kind",
		}, []string{"kind"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_notifications_failed_total",
			Help: "Failed notification deliveries by kind",
		}, []string{"kind"}),
		Dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_notifications_dead_total",
			Help: "Notifications abandoned after exhausting attempts, by kind",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sent, m.Failed, m.Dead)
	}
	return m
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayClock overrides the time source.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRelayMetrics sets the metrics sink.
func WithRelayMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay polls the outbox and hands each entry to the sender.
type Relay struct {
	store    OutboxStore
	renderer *Renderer
	sender   Sender
	cfg      RelayConfig
	metrics  *Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(store OutboxStore, renderer *Renderer, sender Sender, cfg RelayConfig, opts ...RelayOption) (*Relay, error) {
	switch {
	case store == nil:
		return nil, oops.Code("RELAY_INVALID").Errorf("outbox store is required")
	case renderer == nil:
		return nil, oops.Code("RELAY_INVALID").Errorf("renderer is required")
	case sender == nil:
		return nil, oops.Code("RELAY_INVALID").Errorf("sender is required")
	}
	cfg.applyDefaults()

	r := &Relay{
		store:    store,
		renderer: renderer,
		sender:   sender,
		cfg:      cfg,
		metrics:  NewMetrics(nil),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes batches on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "notification relay started",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
	)

	for {
		if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			errutil.LogErrorContext(ctx, r.logger, "notification batch failed", err)
		}

		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "notification relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch claims and delivers one batch. It returns the number of
// entries delivered successfully.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	deliveries, err := r.store.Claim(ctx, r.cfg.BatchSize, r.now(), r.cfg.Lease)
	if err != nil {
		return 0, oops.Code("RELAY_CLAIM_FAILED").Wrap(err)
	}

	sent := 0
	for _, d := range deliveries {
		if ctx.Err() != nil {
			break
		}
		if r.deliver(ctx, d) {
			sent++
		}
	}
	return sent, nil
}

func (r *Relay) deliver(ctx context.Context, d Delivery) bool {
	n := d.Notification
	kind := string(n.Kind)
	log := r.logger.With("notification_id", n.ID.String(), "kind", kind)

	msg, err := r.renderer.Render(n)
	if err != nil {
		// Rendering is deterministic; retrying cannot help.
		r.fail(ctx, log, d, err, true)
		return false
	}

	backoff := retry.WithMaxRetries(r.cfg.SendRetries, retry.NewExponential(r.cfg.SendRetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if sendErr := r.sender.Send(ctx, msg); sendErr != nil {
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		r.fail(ctx, log, d, err, false)
		return false
	}

	if err := r.store.MarkSent(ctx, n.ID, r.now()); err != nil {
		// The email went out; at worst it is delivered again after the lease.
		errutil.LogErrorContext(ctx, log, "failed to mark notification sent", err)
	}
	r.metrics.Sent.WithLabelValues(kind).Inc()
	log.DebugContext(ctx, "notification delivered")
	return true
}

func (r *Relay) fail(ctx context.Context, log *slog.Logger, d Delivery, cause error, permanent bool) {
	kind := string(d.Notification.Kind)
	attempts := d.Attempts + 1
	dead := permanent || attempts >= r.cfg.MaxAttempts

	next := r.now().Add(r.backoffFor(attempts))
	if err := r.store.MarkFailed(ctx, d.Notification.ID, attempts, cause.Error(), next, dead); err != nil {
		errutil.LogErrorContext(ctx, log, "failed to record notification failure", err)
	}

	r.metrics.Failed.WithLabelValues(kind).Inc()
	if dead {
		r.metrics.Dead.WithLabelValues(kind).Inc()
		errutil.LogErrorContext(ctx, log, "notification dead-lettered",
			oops.With("attempts", attempts).Wrap(cause))
		return
	}
	log.WarnContext(ctx, "notification delivery failed, will retry",
		append(errutil.Attrs(cause), "attempts", attempts, "next_attempt_at", next)...)
}

func (r *Relay) backoffFor(attempts int) time.Duration {
	exp := math.Pow(2, float64(attempts-1))
	d := time.Duration(float64(r.cfg.Backoff) * exp)
	if d <= 0 || d > 24*time.Hour {
		return 24 * time.Hour
	}
	return d
}
