// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// ResetTokenRepository implements auth.ResetTokenRepository.
type ResetTokenRepository struct {
	pool Pool
}

var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)

// NewResetTokenRepository creates a ResetTokenRepository.
func NewResetTokenRepository(pool Pool) *ResetTokenRepository {
	return &ResetTokenRepository{pool: pool}
}

// Create stores a new reset token.
func (r *ResetTokenRepository) Create(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Consume locks the token row, checks it, marks it consumed and updates the
// owner's password hash in one transaction. Concurrent consumers of the same
// token serialize on the row lock; the loser sees it as already used.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (ulid.ULID, error) {
	var userID ulid.ULID
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			tok              auth.ResetToken
			idStr, userIDStr string
		)
		err := tx.QueryRow(ctx, `
			SELECT id, user_id, token_hash, created_at, expires_at, consumed_at
			FROM password_reset_tokens
			WHERE token_hash = $1
			FOR UPDATE
		`, tokenHash).Scan(&idStr, &userIDStr, &tok.TokenHash, &tok.CreatedAt, &tok.ExpiresAt, &tok.ConsumedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.NewTokenError(auth.ErrTokenNotFound)
		}
		if err != nil {
			return oops.Code("RESET_GET_FAILED").
				With("operation", "select reset token for update").
				Wrap(err)
		}
		if tok.UserID, err = parseULID("password_reset_tokens.user_id", userIDStr); err != nil {
			return err
		}

		if err := tok.CheckConsumable(now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE password_reset_tokens SET consumed_at = $2 WHERE id = $1
		`, idStr, now); err != nil {
			return oops.Code("RESET_CONSUME_FAILED").
				With("operation", "mark reset token consumed").
				Wrap(err)
		}

		if err := updatePasswordHash(ctx, tx, tok.UserID, newPasswordHash, now); err != nil {
			return err
		}
		userID = tok.UserID
		return nil
	})
	if err != nil {
		return ulid.ULID{}, err
	}
	return userID, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").
			With("operation", "delete expired reset tokens").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}
