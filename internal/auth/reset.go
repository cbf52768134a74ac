// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetTokenExpiry is the fixed lifetime of a reset token.
const ResetTokenExpiry = time.Hour

// DefaultResetRetention is how long consumed or expired tokens are kept so
// replays report "already used" instead of "not found".
const DefaultResetRetention = 7 * 24 * time.Hour

// ResetToken is a single-use capability to change a password.
type ResetToken struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time // nil until consumed
}

// NewResetToken creates a validated ResetToken expiring ResetTokenExpiry after now.
func NewResetToken(userID ulid.ULID, tokenHash string, now time.Time) (*ResetToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	return &ResetToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: now,
		ExpiresAt: now.Add(ResetTokenExpiry),
	}, nil
}

// Consumed reports whether the token has been used.
func (r *ResetToken) Consumed() bool {
	return r.ConsumedAt != nil
}

// CheckConsumable returns nil if the token can be consumed at now.
// The token is valid on [CreatedAt, ExpiresAt).
func (r *ResetToken) CheckConsumable(now time.Time) error {
	if r.Consumed() {
		return NewTokenError(ErrTokenAlreadyUsed)
	}
	if !now.Before(r.ExpiresAt) {
		return NewTokenError(ErrTokenExpired)
	}
	return nil
}

// ResetTokenRepository manages reset token persistence.
type ResetTokenRepository interface {
	// Create stores a new reset token.
	Create(ctx context.Context, token *ResetToken) error

	// Consume atomically checks the token identified by tokenHash, marks it
	// consumed at now and replaces the owner's password hash. Either both
	// writes are applied or neither. Returns the owner's ID.
	// Fails with ErrTokenNotFound, ErrTokenExpired, ErrTokenAlreadyUsed or
	// ErrUserNotFound.
	Consume(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (ulid.ULID, error)

	// DeleteExpired removes tokens that expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ResetOption configures a ResetTokenManager.
type ResetOption func(*ResetTokenManager)

// WithResetClock overrides the time source.
func WithResetClock(now func() time.Time) ResetOption {
	return func(m *ResetTokenManager) {
		m.now = now
	}
}

// WithResetRetention sets how long spent tokens are retained.
func WithResetRetention(d time.Duration) ResetOption {
	return func(m *ResetTokenManager) {
		m.retention = d
	}
}

// ResetTokenManager issues and consumes password reset tokens.
type ResetTokenManager struct {
	tokens    ResetTokenRepository
	now       func() time.Time
	retention time.Duration
}

// NewResetTokenManager creates a ResetTokenManager.
func NewResetTokenManager(tokens ResetTokenRepository, opts ...ResetOption) (*ResetTokenManager, error) {
	if tokens == nil {
		return nil, oops.Code("RESET_MANAGER_INVALID").Errorf("reset token repository is required")
	}
	m := &ResetTokenManager{
		tokens:    tokens,
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultResetRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// IssueToken mints a reset token for the user. Earlier tokens stay valid
// until consumed or expired.
func (m *ResetTokenManager) IssueToken(ctx context.Context, userID ulid.ULID) (string, time.Time, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", time.Time{}, oops.With("operation", "generate reset token").Wrap(err)
	}

	reset, err := NewResetToken(userID, hash, m.now())
	if err != nil {
		return "", time.Time{}, oops.With("operation", "build reset token").Wrap(err)
	}

	if err := m.tokens.Create(ctx, reset); err != nil {
		return "", time.Time{}, oops.Code("RESET_CREATE_FAILED").
			With("operation", "persist reset token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, reset.ExpiresAt, nil
}

// ConsumeToken spends the token and sets the owner's password hash in one
// unit. Token failures keep their distinct sentinels.
func (m *ResetTokenManager) ConsumeToken(ctx context.Context, token, newPasswordHash string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, NewTokenError(ErrTokenNotFound)
	}
	if newPasswordHash == "" {
		return ulid.ULID{}, oops.Code("RESET_INVALID_HASH").Errorf("new password hash cannot be empty")
	}

	userID, err := m.tokens.Consume(ctx, HashToken(token), newPasswordHash, m.now())
	if err != nil {
		return ulid.ULID{}, oops.With("operation", "consume reset token").Wrap(err)
	}
	return userID, nil
}

// PurgeExpired deletes tokens that expired more than the retention window ago.
func (m *ResetTokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.tokens.DeleteExpired(ctx, m.now().Add(-m.retention))
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
