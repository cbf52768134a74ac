// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process implementation of the auth stores.
// All state sits behind one mutex, which gives every check-then-write the
// same atomicity the postgres implementation gets from transactions.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/notify"
)

type outboxEntry struct {
	notification  auth.Notification
	status        string
	attempts      int
	lastErr       string
	nextAttemptAt time.Time
	sentAt        *time.Time
}

// Store is an in-memory credential, session, reset token and outbox store.
type Store struct {
	mu       sync.Mutex
	users    map[ulid.ULID]auth.User
	byEmail  map[string]ulid.ULID
	sessions map[string]auth.Session    // keyed by token hash
	resets   map[string]auth.ResetToken // keyed by token hash
	outbox   []*outboxEntry
}

// Compile-time interface checks.
var (
	_ auth.UserRepository = (*Store)(nil)
	_ auth.Outbox         = (*Store)(nil)
	_ notify.OutboxStore  = (*Store)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[ulid.ULID]auth.User),
		byEmail:  make(map[string]ulid.ULID),
		sessions: make(map[string]auth.Session),
		resets:   make(map[string]auth.ResetToken),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() SessionView { return SessionView{s} }

// Resets returns the reset token repository view.
func (s *Store) Resets() ResetView { return ResetView{s} }

// --- users ---

// Create stores a new user.
func (s *Store) Create(_ context.Context, user *auth.User) error {
	email := auth.NormalizeEmail(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return auth.NewDuplicateEmailError(email)
	}
	u := *user
	u.Email = email
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return nil
}

// GetByEmail retrieves a user by normalized email.
func (s *Store) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	u := s.users[id]
	return &u, nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, auth.NewUserNotFoundError(id.String())
	}
	return &u, nil
}

// UpdatePasswordHash replaces a user's password hash.
func (s *Store) UpdatePasswordHash(_ context.Context, id ulid.ULID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePasswordHashLocked(id, hash, time.Now().UTC())
}

func (s *Store) updatePasswordHashLocked(id ulid.ULID, hash string, now time.Time) error {
	u, ok := s.users[id]
	if !ok {
		return auth.NewUserNotFoundError(id.String())
	}
	u.PasswordHash = hash
	u.UpdatedAt = now
	s.users[id] = u
	return nil
}

// --- sessions ---

// SessionView adapts Store to auth.SessionRepository.
type SessionView struct{ s *Store }

var _ auth.SessionRepository = SessionView{}

// Create stores a new session.
func (v SessionView) Create(_ context.Context, session *auth.Session) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, exists := v.s.sessions[session.TokenHash]; exists {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("token hash collision")
	}
	v.s.sessions[session.TokenHash] = copySession(*session)
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (v SessionView) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	sess, ok := v.s.sessions[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	out := copySession(sess)
	return &out, nil
}

// DeleteByTokenHash removes a session if present.
func (v SessionView) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.sessions, tokenHash)
	return nil
}

// DeleteByUserID removes all sessions for a user.
func (v SessionView) DeleteByUserID(_ context.Context, userID ulid.ULID) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for hash, sess := range v.s.sessions {
		if sess.UserID == userID {
			delete(v.s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// ExtendExpiry moves the expiry of a session.
func (v SessionView) ExtendExpiry(_ context.Context, id ulid.ULID, expiresAt time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for hash, sess := range v.s.sessions {
		if sess.ID == id {
			exp := expiresAt
			sess.ExpiresAt = &exp
			v.s.sessions[hash] = sess
			return nil
		}
	}
	return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
}

// DeleteExpired removes sessions expired at now.
func (v SessionView) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for hash, sess := range v.s.sessions {
		if sess.IsExpiredAt(now) {
			delete(v.s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func copySession(s auth.Session) auth.Session {
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		s.ExpiresAt = &exp
	}
	return s
}

// --- reset tokens ---

// ResetView adapts Store to auth.ResetTokenRepository.
type ResetView struct{ s *Store }

var _ auth.ResetTokenRepository = ResetView{}

// Create stores a new reset token.
func (v ResetView) Create(_ context.Context, token *auth.ResetToken) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, exists := v.s.resets[token.TokenHash]; exists {
		return oops.Code("RESET_CREATE_FAILED").Errorf("token hash collision")
	}
	v.s.resets[token.TokenHash] = *token
	return nil
}

// Consume checks, marks and applies a reset token under the store lock.
func (v ResetView) Consume(_ context.Context, tokenHash, newPasswordHash string, now time.Time) (ulid.ULID, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	tok, ok := v.s.resets[tokenHash]
	if !ok {
		return ulid.ULID{}, auth.NewTokenError(auth.ErrTokenNotFound)
	}
	if err := tok.CheckConsumable(now); err != nil {
		return ulid.ULID{}, err
	}
	if err := v.s.updatePasswordHashLocked(tok.UserID, newPasswordHash, now); err != nil {
		return ulid.ULID{}, err
	}
	consumed := now
	tok.ConsumedAt = &consumed
	v.s.resets[tokenHash] = tok
	return tok.UserID, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (v ResetView) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var n int64
	for hash, tok := range v.s.resets {
		if tok.ExpiresAt.Before(before) {
			delete(v.s.resets, hash)
			n++
		}
	}
	return n, nil
}

// --- outbox ---

// Enqueue records a notification as pending.
func (s *Store) Enqueue(_ context.Context, n *auth.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &outboxEntry{
		notification:  *n,
		status:        notify.StatusPending,
		nextAttemptAt: n.CreatedAt,
	}
	entry.notification.Payload = maps.Clone(n.Payload)
	s.outbox = append(s.outbox, entry)
	return nil
}

// Claim leases due pending entries in creation order.
func (s *Store) Claim(_ context.Context, limit int, now time.Time, lease time.Duration) ([]notify.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notify.Delivery
	for _, e := range s.outbox {
		if len(out) >= limit {
			break
		}
		if e.status != notify.StatusPending || e.nextAttemptAt.After(now) {
			continue
		}
		e.nextAttemptAt = now.Add(lease)
		n := e.notification
		n.Payload = maps.Clone(n.Payload)
		out = append(out, notify.Delivery{Notification: n, Attempts: e.attempts})
	}
	return out, nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(_ context.Context, id ulid.ULID, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(id)
	if err != nil {
		return err
	}
	e.status = notify.StatusSent
	e.sentAt = &sentAt
	auth.ScrubPayload(e.notification.Payload)
	return nil
}

// MarkFailed records a failed delivery.
func (s *Store) MarkFailed(_ context.Context, id ulid.ULID, attempts int, lastErr string, nextAttemptAt time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(id)
	if err != nil {
		return err
	}
	e.attempts = attempts
	e.lastErr = lastErr
	e.nextAttemptAt = nextAttemptAt
	if dead {
		e.status = notify.StatusDead
		auth.ScrubPayload(e.notification.Payload)
	}
	return nil
}

// PurgeFinished deletes sent and dead-lettered entries older than before.
func (s *Store) PurgeFinished(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	var n int64
	for _, e := range s.outbox {
		sent := e.status == notify.StatusSent && e.sentAt != nil && e.sentAt.Before(before)
		dead := e.status == notify.StatusDead && e.notification.CreatedAt.Before(before)
		if sent || dead {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept
	return n, nil
}

func (s *Store) entryLocked(id ulid.ULID) (*outboxEntry, error) {
	for _, e := range s.outbox {
		if e.notification.ID == id {
			return e, nil
		}
	}
	return nil, oops.Code("OUTBOX_NOT_FOUND").With("notification_id", id.String()).Wrap(auth.ErrNotFound)
}

// Notifications returns every recorded notification in creation order.
func (s *Store) Notifications() []auth.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]auth.Notification, 0, len(s.outbox))
	for _, e := range s.outbox {
		n := e.notification
		n.Payload = maps.Clone(n.Payload)
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OutboxStatus returns the delivery status and attempt count of a notification.
func (s *Store) OutboxStatus(id ulid.ULID) (status string, attempts int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(id)
	if err != nil {
		return "", 0, false
	}
	return e.status, e.attempts, true
}
