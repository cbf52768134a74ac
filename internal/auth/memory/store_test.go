// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memory"
	"github.com/holomush/authcore/internal/notify"
)

func newUser(t *testing.T, s *memory.Store, email string) *auth.User {
	t.Helper()
	u, err := auth.NewUser(email, "hash", auth.Profile{})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), u))
	return u
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	u := newUser(t, s, "ada@example.com")

	got, err := s.GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	dup, err := auth.NewUser("Ada@Example.com", "hash", auth.Profile{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(ctx, dup), auth.ErrDuplicateEmail)

	_, err = s.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "new-hash"))
	got, err = s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	// Returned values are copies.
	got.PasswordHash = "mutated"
	again, err := s.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", again.PasswordHash)

	other, err := auth.NewUser("ghost@example.com", "hash", auth.Profile{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, other.ID, "x"), auth.ErrUserNotFound)
}

func TestStore_ResetConsumeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	u := newUser(t, s, "ada@example.com")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, err := auth.NewResetToken(u.ID, "token-hash", now)
	require.NoError(t, err)
	require.NoError(t, s.Resets().Create(ctx, tok))

	_, err = s.Resets().Consume(ctx, "token-hash", "new-hash", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	got, _ := s.GetByID(ctx, u.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	userID, err := s.Resets().Consume(ctx, "token-hash", "new-hash", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
	got, _ = s.GetByID(ctx, u.ID)
	assert.Equal(t, "new-hash", got.PasswordHash)

	_, err = s.Resets().Consume(ctx, "token-hash", "newer-hash", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := auth.NewNotification(auth.KindWelcome, "ada@example.com", map[string]string{"k": "v"}, now)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, n))

	// Mutating the caller's payload does not leak into the outbox.
	n.Payload["k"] = "mutated"

	claimed, err := s.Claim(ctx, 10, now, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "v", claimed[0].Notification.Payload["k"])

	// Leased entries are hidden until the lease elapses.
	again, err := s.Claim(ctx, 10, now.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	again, err = s.Claim(ctx, 10, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	require.NoError(t, s.MarkSent(ctx, n.ID, now.Add(2*time.Minute)))
	status, _, ok := s.OutboxStatus(n.ID)
	require.True(t, ok)
	assert.Equal(t, notify.StatusSent, status)

	purged, err := s.PurgeFinished(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	_, _, ok = s.OutboxStatus(n.ID)
	assert.False(t, ok)
}

func TestStore_OutboxMarkFailed(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := auth.NewNotification(auth.KindLogin, "ada@example.com", nil, now)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, n))

	require.NoError(t, s.MarkFailed(ctx, n.ID, 1, "boom", now.Add(time.Hour), false))
	status, attempts, _ := s.OutboxStatus(n.ID)
	assert.Equal(t, notify.StatusPending, status)
	assert.Equal(t, 1, attempts)

	claimed, err := s.Claim(ctx, 10, now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	require.NoError(t, s.MarkFailed(ctx, n.ID, 2, "boom", now.Add(2*time.Hour), true))
	status, _, _ = s.OutboxStatus(n.ID)
	assert.Equal(t, notify.StatusDead, status)

	claimed, err = s.Claim(ctx, 10, now.Add(48*time.Hour), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	assert.ErrorIs(t, s.MarkSent(ctx, auth.Notification{}.ID, now), auth.ErrNotFound)

	purged, err := s.PurgeFinished(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestStore_OutboxDropsResetURLWhenFinished(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	payload := map[string]string{
		auth.PayloadFirstName: "Ada",
		auth.PayloadResetURL:  "https://app.example.com/reset-password?token=live",
	}

	sent, err := auth.NewNotification(auth.KindPasswordResetRequest, "ada@example.com", payload, now)
	require.NoError(t, err)
	dead, err := auth.NewNotification(auth.KindPasswordResetRequest, "bob@example.com", payload, now)
	require.NoError(t, err)
	retrying, err := auth.NewNotification(auth.KindPasswordResetRequest, "cy@example.com", payload, now)
	require.NoError(t, err)
	for _, n := range []*auth.Notification{sent, dead, retrying} {
		require.NoError(t, s.Enqueue(ctx, n))
	}

	require.NoError(t, s.MarkSent(ctx, sent.ID, now))
	require.NoError(t, s.MarkFailed(ctx, dead.ID, 5, "bounce", now, true))
	require.NoError(t, s.MarkFailed(ctx, retrying.ID, 1, "timeout", now, false))

	byRecipient := map[string]auth.Notification{}
	for _, n := range s.Notifications() {
		byRecipient[n.Recipient] = n
	}
	assert.NotContains(t, byRecipient["ada@example.com"].Payload, auth.PayloadResetURL)
	assert.NotContains(t, byRecipient["bob@example.com"].Payload, auth.PayloadResetURL)
	assert.Equal(t, "Ada", byRecipient["ada@example.com"].Payload[auth.PayloadFirstName])
	assert.Contains(t, byRecipient["cy@example.com"].Payload, auth.PayloadResetURL)
}
