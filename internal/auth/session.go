// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// DefaultSessionTTL is the absolute lifetime of a session.
const DefaultSessionTTL = 24 * time.Hour

// DefaultCookieName is the cookie that carries the session token.
const DefaultCookieName = "session_token"

// SameSite is the cookie SameSite policy the transport must apply.
type SameSite string

// SameSite policies.
const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// SessionConfig controls session lifetime and the cookie attributes the
// transport layer applies.
type SessionConfig struct {
	// TTL is the absolute expiration offset from creation. Zero means the
	// session lives until logout.
	TTL time.Duration
	// Sliding pushes the expiry forward by TTL on every successful validation.
	Sliding bool

	CookieName     string
	CookieSecure   bool
	CookieSameSite SameSite
	CookieDomain   string
}

// DefaultSessionConfig returns the production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:            DefaultSessionTTL,
		CookieName:     DefaultCookieName,
		CookieSecure:   true,
		CookieSameSite: SameSiteLax,
	}
}

// SessionMeta is client information recorded with a session.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// Session proves an authenticated browser. Only the token hash is stored.
type Session struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	UserAgent string
	IPAddress string
	CreatedAt time.Time
	ExpiresAt *time.Time // nil if the session never expires
}

// NewSession creates a validated Session. A zero ttl produces a session
// without expiry.
func NewSession(userID ulid.ULID, tokenHash string, meta SessionMeta, now time.Time, ttl time.Duration) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if ttl < 0 {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("ttl cannot be negative")
	}

	s := &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		s.ExpiresAt = &exp
	}
	return s, nil
}

// IsExpiredAt returns true if the session would be expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return s.ExpiresAt != nil && !t.Before(*s.ExpiresAt)
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// DeleteByTokenHash removes a session. Deleting a missing session is not an error.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteByUserID removes all sessions for a user.
	DeleteByUserID(ctx context.Context, userID ulid.ULID) (int64, error)

	// ExtendExpiry moves the expiry of a session.
	ExtendExpiry(ctx context.Context, id ulid.ULID, expiresAt time.Time) error

	// DeleteExpired removes sessions expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionLogger sets the logger for best-effort failures.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// SessionManager issues, validates and revokes session tokens.
type SessionManager struct {
	sessions SessionRepository
	users    UserRepository
	cfg      SessionConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(sessions SessionRepository, users UserRepository, cfg SessionConfig, opts ...SessionOption) (*SessionManager, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session repository is required")
	}
	if users == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("user repository is required")
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session TTL cannot be negative")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.CookieSameSite == "" {
		cfg.CookieSameSite = SameSiteLax
	}

	m := &SessionManager{
		sessions: sessions,
		users:    users,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the session configuration, including cookie attributes.
func (m *SessionManager) Config() SessionConfig {
	return m.cfg
}

// CreateSession mints a token for the user and persists its hash.
func (m *SessionManager) CreateSession(ctx context.Context, userID ulid.ULID, meta SessionMeta) (string, error) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return "", oops.With("operation", "generate session token").Wrap(err)
	}

	session, err := NewSession(userID, tokenHash, meta, m.now(), m.cfg.TTL)
	if err != nil {
		return "", oops.With("operation", "build session").Wrap(err)
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// ValidateSession returns the owner of a live session. Unknown, empty and
// expired tokens all yield ErrSessionInvalid.
func (m *SessionManager) ValidateSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, invalidSession()
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidSession()
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	now := m.now()
	if session.IsExpiredAt(now) {
		return nil, invalidSession()
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidSession()
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session owner").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}

	if m.cfg.Sliding && m.cfg.TTL > 0 {
		if err := m.sessions.ExtendExpiry(ctx, session.ID, now.Add(m.cfg.TTL)); err != nil {
			errutil.LogErrorContext(ctx, m.logger, "failed to extend session expiry", err)
		}
	}

	return user, nil
}

// RevokeSession removes a session. Revoking an unknown token is not an error.
func (m *SessionManager) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.sessions.DeleteByTokenHash(ctx, HashToken(token)); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// RevokeAll removes every session owned by the user.
func (m *SessionManager) RevokeAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := m.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return n, nil
}

// PurgeExpired deletes expired sessions.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
