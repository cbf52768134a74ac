// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

var tracer = otel.Tracer("github.com/holomush/authcore/internal/auth")

// DefaultBaseURL is used for links in notifications when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// ResetPath is appended to the base URL to form reset links.
const ResetPath = "reset-password"

// dummyPasswordHash is verified when a user doesn't exist and the primary
// hasher cannot produce its own dummy digest. Never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing equalization, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SignupInput is a validated signup request.
type SignupInput struct {
	Email    string
	Password string
	Profile  Profile
	Meta     SessionMeta
}

// AuthResult is returned by flows that establish a session.
type AuthResult struct {
	User  *User
	Token string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBaseURL sets the public URL used to build reset links.
func WithBaseURL(baseURL string) ServiceOption {
	return func(s *Service) {
		s.baseURL = baseURL
	}
}

// WithClock overrides the time source used for notification timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRevokeSessionsOnReset revokes every session of a user after a
// successful password reset.
func WithRevokeSessionsOnReset(revoke bool) ServiceOption {
	return func(s *Service) {
		s.revokeOnReset = revoke
	}
}

// Service composes the credential store, hasher, session and reset token
// managers into the user-facing flows. It keeps no state of its own, so
// any number of instances can share one store.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	sessions *SessionManager
	resets   *ResetTokenManager
	outbox   Outbox

	baseURL       string
	revokeOnReset bool
	now           func() time.Time
	logger        *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service.
func NewService(
	users UserRepository,
	hasher PasswordHasher,
	sessions *SessionManager,
	resets *ResetTokenManager,
	outbox Outbox,
	opts ...ServiceOption,
) (*Service, error) {
	switch {
	case users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session manager is required")
	case resets == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset token manager is required")
	case outbox == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("outbox is required")
	}

	s := &Service{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		resets:   resets,
		outbox:   outbox,
		baseURL:  DefaultBaseURL,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := url.Parse(s.baseURL); err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").With("base_url", s.baseURL).Wrap(err)
	}
	return s, nil
}

// Sessions exposes the session manager, e.g. for cookie attributes.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Signup registers a user, opens a session and queues a welcome email.
func (s *Service) Signup(ctx context.Context, in SignupInput) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.Signup")
	defer func() { endSpan(span, err) }()

	email := NormalizeEmail(in.Email)

	// Fast path; the store's unique constraint is the authoritative check.
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, NewDuplicateEmailError(email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(email, hash, in.Profile)
	if err != nil {
		return nil, oops.With("operation", "build user").Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, err
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))

	// The user row is committed; if this fails a later signin still works.
	token, err := s.sessions.CreateSession(ctx, user.ID, in.Meta)
	if err != nil {
		return nil, oops.With("operation", "create session").Wrap(err)
	}

	s.notify(ctx, KindWelcome, user, nil)

	return &AuthResult{User: user, Token: token}, nil
}

// Signin authenticates by email and password. Unknown emails and wrong
// passwords produce the same error after the same amount of work.
func (s *Service) Signin(ctx context.Context, email, password string, meta SessionMeta) (result *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.Signin")
	defer func() { endSpan(span, err) }()

	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := s.timingHash()
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_SIGNIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if userExists {
			errutil.LogErrorContext(ctx, s.logger, "stored password hash is unreadable",
				oops.With("user_id", user.ID.String()).Wrap(verifyErr))
		}
		return nil, invalidCredentials()
	}
	if !userExists || !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	token, err := s.sessions.CreateSession(ctx, user.ID, meta)
	if err != nil {
		return nil, oops.With("operation", "create session").Wrap(err)
	}

	s.notify(ctx, KindLogin, user, map[string]string{
		PayloadLoginTime: s.now().Format(time.RFC1123),
	})

	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	return s.sessions.RevokeSession(ctx, token)
}

// Authenticate returns the owner of a live session.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	return s.sessions.ValidateSession(ctx, token)
}

// ForgotPassword issues a reset token and queues the reset email. Unknown
// emails succeed silently without issuing anything.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ForgotPassword")
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_FORGOT_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, expiresAt, err := s.resets.IssueToken(ctx, user.ID)
	if err != nil {
		return oops.With("operation", "issue reset token").Wrap(err)
	}

	resetURL, err := s.resetURL(token)
	if err != nil {
		return err
	}

	s.notify(ctx, KindPasswordResetRequest, user, map[string]string{
		PayloadResetURL:  resetURL,
		PayloadExpiresAt: expiresAt.Format(time.RFC1123),
	})
	return nil
}

// ResetPassword spends a reset token and sets the new password. Every
// token failure is reported as ErrInvalidOrExpiredToken.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.With("operation", "hash password").Wrap(err)
	}

	userID, err := s.resets.ConsumeToken(ctx, token, hash)
	if err != nil {
		switch {
		case IsTokenError(err):
			s.logger.InfoContext(ctx, "password reset rejected", "reason", errutil.Code(err))
			return invalidOrExpiredToken()
		case errors.Is(err, ErrUserNotFound):
			errutil.LogErrorContext(ctx, s.logger, "reset token owner missing", err)
			return oops.Code(CodeInternal).Errorf("password reset failed")
		default:
			return oops.Code("AUTH_RESET_FAILED").
				With("operation", "consume reset token").
				Wrap(err)
		}
	}

	if s.revokeOnReset {
		if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
			errutil.LogErrorContext(ctx, s.logger, "failed to revoke sessions after reset", err)
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		// The password is already changed; only the confirmation is lost.
		errutil.LogErrorContext(ctx, s.logger, "failed to load user for reset confirmation", err)
		return nil
	}
	s.notify(ctx, KindPasswordResetConfirmed, user, nil)
	return nil
}

func (s *Service) resetURL(token string) (string, error) {
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", oops.Code("AUTH_INVALID_BASE_URL").With("base_url", s.baseURL).Wrap(err)
	}
	u := base.JoinPath(ResetPath)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// timingHash returns a digest in the primary algorithm so unknown-email
// signins cost the same as real ones.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("timing-equalization-placeholder")
		if err != nil {
			h = dummyPasswordHash
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, newHash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "password hash upgrade failed",
			oops.With("user_id", user.ID.String()).Wrap(err))
		return
	}
	user.PasswordHash = newHash
}

// notify records a notification after the flow's writes committed.
// Failures are logged and never fail the flow.
func (s *Service) notify(ctx context.Context, kind NotificationKind, user *User, payload map[string]string) {
	if payload == nil {
		payload = make(map[string]string, 1)
	}
	payload[PayloadFirstName] = user.DisplayName()

	n, err := NewNotification(kind, user.Email, payload, s.now())
	if err == nil {
		// The flow already committed; a caller abort must not drop the email.
		err = s.outbox.Enqueue(context.WithoutCancel(ctx), n)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to enqueue notification",
			oops.With("kind", string(kind)).Wrap(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errutil.Code(err))
	}
	span.End()
}
