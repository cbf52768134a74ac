// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/authcore/internal/auth"
)

// Delivery states of an outbox entry.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusDead    = "dead"
)

// Delivery is a claimed outbox entry.
type Delivery struct {
	Notification auth.Notification
	// Attempts is the number of failed deliveries so far.
	Attempts int
}

// OutboxStore is the relay's view of the notification outbox.
type OutboxStore interface {
	// Claim leases up to limit pending entries due at now. Claimed entries
	// are hidden from other claimers until lease elapses.
	Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]Delivery, error)

	// MarkSent records a successful delivery and drops secret payload keys.
	MarkSent(ctx context.Context, id ulid.ULID, sentAt time.Time) error

	// MarkFailed records a failed delivery. When dead is true the entry is
	// never retried and its secret payload keys are dropped.
	MarkFailed(ctx context.Context, id ulid.ULID, attempts int, lastErr string, nextAttemptAt time.Time, dead bool) error

	// PurgeFinished deletes sent entries delivered before before and dead
	// entries created before before.
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
}
