// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/notify"
)

// OutboxRepository stores notifications for the relay. It is both the
// auth.Outbox the flows write to and the notify.OutboxStore the relay drains.
type OutboxRepository struct {
	pool Pool
}

var (
	_ auth.Outbox        = (*OutboxRepository)(nil)
	_ notify.OutboxStore = (*OutboxRepository)(nil)
)

// NewOutboxRepository creates an OutboxRepository.
func NewOutboxRepository(pool Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Enqueue records a pending notification.
func (r *OutboxRepository) Enqueue(ctx context.Context, n *auth.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_outbox (id, kind, recipient, payload, status, created_at, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $5)
	`,
		n.ID.String(),
		string(n.Kind),
		n.Recipient,
		n.Payload,
		n.CreatedAt,
	)
	if err != nil {
		return oops.Code("OUTBOX_ENQUEUE_FAILED").
			With("operation", "insert notification").
			With("kind", string(n.Kind)).
			Wrap(err)
	}
	return nil
}

// Claim leases up to limit due entries. SKIP LOCKED lets several relays
// drain the table without handing out the same row twice.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]notify.Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_outbox
		SET next_attempt_at = $3
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, recipient, payload, created_at, attempts
	`, now, limit, now.Add(lease))
	if err != nil {
		return nil, oops.Code("OUTBOX_CLAIM_FAILED").
			With("operation", "claim notifications").
			Wrap(err)
	}
	defer rows.Close()

	var out []notify.Delivery
	for rows.Next() {
		var (
			d     notify.Delivery
			idStr string
			kind  string
		)
		if err := rows.Scan(&idStr, &kind, &d.Notification.Recipient, &d.Notification.Payload, &d.Notification.CreatedAt, &d.Attempts); err != nil {
			return nil, oops.Code("OUTBOX_SCAN_FAILED").Wrap(err)
		}
		if d.Notification.ID, err = parseULID("notification_outbox.id", idStr); err != nil {
			return nil, err
		}
		d.Notification.Kind = auth.NotificationKind(kind)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("OUTBOX_ROWS_ERROR").Wrap(err)
	}

	slices.SortFunc(out, func(a, b notify.Delivery) int {
		return a.Notification.ID.Compare(b.Notification.ID)
	})
	return out, nil
}

// MarkSent records a successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id ulid.ULID, sentAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'sent', sent_at = $2, last_error = '', payload = payload - $3::text[]
		WHERE id = $1
	`, id.String(), sentAt, auth.SecretPayloadKeys())
	if err != nil {
		return oops.Code("OUTBOX_UPDATE_FAILED").
			With("operation", "mark notification sent").
			With("notification_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("OUTBOX_NOT_FOUND").With("notification_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// MarkFailed records a failed delivery.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id ulid.ULID, attempts int, lastErr string, nextAttemptAt time.Time, dead bool) error {
	status := notify.StatusPending
	scrub := []string{}
	if dead {
		status = notify.StatusDead
		scrub = auth.SecretPayloadKeys()
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, payload = payload - $6::text[]
		WHERE id = $1
	`, id.String(), status, attempts, lastErr, nextAttemptAt, scrub)
	if err != nil {
		return oops.Code("OUTBOX_UPDATE_FAILED").
			With("operation", "mark notification failed").
			With("notification_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("OUTBOX_NOT_FOUND").With("notification_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// PurgeFinished deletes sent and dead-lettered entries older than before.
func (r *OutboxRepository) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_outbox
		WHERE (status = 'sent' AND sent_at < $1)
		   OR (status = 'dead' AND created_at < $1)
	`, before)
	if err != nil {
		return 0, oops.Code("OUTBOX_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
