// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/requestid"
	"github.com/holomush/authcore/internal/web"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAuthService implements web.AuthService with per-test funcs.
type fakeAuthService struct {
	signup       func(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error)
	signin       func(ctx context.Context, email, password string, meta auth.SessionMeta) (*auth.AuthResult, error)
	logout       func(ctx context.Context, token string) error
	authenticate func(ctx context.Context, token string) (*auth.User, error)
	forgot       func(ctx context.Context, email string) error
	reset        func(ctx context.Context, token, pw string) error
}

func (f *fakeAuthService) Signup(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error) {
	return f.signup(ctx, in)
}

func (f *fakeAuthService) Signin(ctx context.Context, email, password string, meta auth.SessionMeta) (*auth.AuthResult, error) {
	return f.signin(ctx, email, password, meta)
}

func (f *fakeAuthService) Logout(ctx context.Context, token string) error {
	return f.logout(ctx, token)
}

func (f *fakeAuthService) Authenticate(ctx context.Context, token string) (*auth.User, error) {
	return f.authenticate(ctx, token)
}

func (f *fakeAuthService) ForgotPassword(ctx context.Context, email string) error {
	return f.forgot(ctx, email)
}

func (f *fakeAuthService) ResetPassword(ctx context.Context, token, pw string) error {
	return f.reset(ctx, token, pw)
}

func testUser() *auth.User {
	return &auth.User{ID: ulid.Make(), Email: "jane@example.com", FirstName: "Jane", CreatedAt: time.Now().UTC()}
}

type testEngine struct {
	engine  *gin.Engine
	metrics *observability.Metrics
}

func newTestEngine(svc web.AuthService) *testEngine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := auth.DefaultSessionConfig()
	cfg.CookieDomain = "example.com"
	h := web.NewHandler(svc, cfg, logger, metrics)
	return &testEngine{engine: web.NewRouter(h, logger, metrics), metrics: metrics}
}

func (e *testEngine) do(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.DefaultCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.DefaultCookieName)
	return nil
}

func withCookie(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: token})
	}
}

func TestSignup(t *testing.T) {
	t.Run("success sets cookie and returns user", func(t *testing.T) {
		user := testUser()
		var got auth.SignupInput
		e := newTestEngine(&fakeAuthService{
			signup: func(_ context.Context, in auth.SignupInput) (*auth.AuthResult, error) {
				got = in
				return &auth.AuthResult{User: user, Token: "tok-1"}, nil
			},
		})

		w := e.do(http.MethodPost, "/auth/signup",
			`{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123!","first_name":"Jane","phone_country":"au","phone":"0400 000 000"}`,
			func(r *http.Request) { r.Header.Set("User-Agent", "test-agent") })

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "Jane", got.Profile.FirstName)
		assert.Equal(t, auth.PhoneCountryAU, got.Profile.PhoneCountry)
		assert.Equal(t, "0400 000 000", got.Profile.Phone)
		assert.Equal(t, "test-agent", got.Meta.UserAgent)

		c := sessionCookie(t, w)
		assert.Equal(t, "tok-1", c.Value)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "example.com", c.Domain)
		assert.Equal(t, int(auth.DefaultSessionTTL.Seconds()), c.MaxAge)

		var body struct {
			User map[string]any `json:"user"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, user.ID.String(), body.User["id"])
		assert.NotContains(t, body.User, "password_hash")
		assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.AuthOutcomesTotal.WithLabelValues("signup", "success")))
	})

	t.Run("duplicate email is 409", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			signup: func(context.Context, auth.SignupInput) (*auth.AuthResult, error) {
				return nil, auth.NewDuplicateEmailError("jane@example.com")
			},
		})
		w := e.do(http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123!"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), auth.CodeDuplicateEmail)
	})

	validation := map[string]string{
		"bad json":                  `{bad json}`,
		"bad email":                 `{"email":"not-an-email","password":"Secret123!"}`,
		"short password":            `{"email":"jane@example.com","password":"short"}`,
		"long password":             `{"email":"jane@example.com","password":"` + strings.Repeat("x", 73) + `"}`,
		"long name":                 `{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123!","first_name":"` + strings.Repeat("n", 101) + `"}`,
		"missing confirmation":      `{"email":"jane@example.com","password":"Secret123!"}`,
		"mismatched confirmation":   `{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123?"}`,
		"unsupported phone country": `{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123!","phone_country":"nz"}`,
	}
	for name, body := range validation {
		t.Run(name+" is 400", func(t *testing.T) {
			e := newTestEngine(&fakeAuthService{})
			w := e.do(http.MethodPost, "/auth/signup", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("internal failure is 500 without detail", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			signup: func(context.Context, auth.SignupInput) (*auth.AuthResult, error) {
				return nil, oops.Code("USER_CREATE_FAILED").Errorf("connection reset by peer")
			},
		})
		w := e.do(http.MethodPost, "/auth/signup", `{"email":"jane@example.com","password":"Secret123!","confirm_password":"Secret123!"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}

func TestSignin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			signin: func(_ context.Context, email, password string, _ auth.SessionMeta) (*auth.AuthResult, error) {
				assert.Equal(t, "jane@example.com", email)
				assert.Equal(t, "pw", password)
				return &auth.AuthResult{User: testUser(), Token: "tok-2"}, nil
			},
		})
		w := e.do(http.MethodPost, "/auth/signin", `{"email":"jane@example.com","password":"pw"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "tok-2", sessionCookie(t, w).Value)
	})

	t.Run("form encoded body", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			signin: func(context.Context, string, string, auth.SessionMeta) (*auth.AuthResult, error) {
				return &auth.AuthResult{User: testUser(), Token: "tok-3"}, nil
			},
		})
		form := url.Values{"email": {"jane@example.com"}, "password": {"pw"}}
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		e.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid credentials is a generic 401", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			signin: func(context.Context, string, string, auth.SessionMeta) (*auth.AuthResult, error) {
				return nil, oops.Code(auth.CodeInvalidCredentials).Wrap(auth.ErrInvalidCredentials)
			},
		})
		w := e.do(http.MethodPost, "/auth/signin", `{"email":"jane@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"invalid email or password","code":"AUTH_INVALID_CREDENTIALS"}`, w.Body.String())
		assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.AuthOutcomesTotal.WithLabelValues("signin", "rejected")))
	})
}

func TestLogout(t *testing.T) {
	t.Run("revokes the cookie token and clears it", func(t *testing.T) {
		var revoked string
		e := newTestEngine(&fakeAuthService{
			logout: func(_ context.Context, token string) error {
				revoked = token
				return nil
			},
		})
		w := e.do(http.MethodGet, "/auth/logout", "", withCookie("tok-9"))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "tok-9", revoked)
		assert.Equal(t, -1, sessionCookie(t, w).MaxAge)
	})

	t.Run("without a session still succeeds", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{})
		w := e.do(http.MethodPost, "/auth/logout", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("store failure is not surfaced", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			logout: func(context.Context, string) error { return errors.New("db down") },
		})
		w := e.do(http.MethodGet, "/auth/logout", "", withCookie("tok"))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("always accepted", func(t *testing.T) {
		for _, svcErr := range []error{nil, errors.New("mailer exploded")} {
			e := newTestEngine(&fakeAuthService{
				forgot: func(context.Context, string) error { return svcErr },
			})
			w := e.do(http.MethodPost, "/auth/forgot-password", `{"email":"ghost@example.com"}`)
			assert.Equal(t, http.StatusAccepted, w.Code)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{})
		w := e.do(http.MethodPost, "/auth/forgot-password", `{"email":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResetPassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			reset: func(_ context.Context, token, pw string) error {
				assert.Equal(t, "T", token)
				assert.Equal(t, "NewSecret456!", pw)
				return nil
			},
		})
		w := e.do(http.MethodPost, "/auth/reset-password", `{"token":"T","password":"NewSecret456!"}`)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("token failures are one generic 400", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			reset: func(context.Context, string, string) error {
				return oops.Code(auth.CodeInvalidToken).Wrap(auth.ErrInvalidOrExpiredToken)
			},
		})
		w := e.do(http.MethodPost, "/auth/reset-password", `{"token":"T","password":"NewSecret456!"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid or expired token","code":"AUTH_INVALID_TOKEN"}`, w.Body.String())
	})

	t.Run("mismatched confirmation is 400", func(t *testing.T) {
		e := newTestEngine(&fakeAuthService{
			reset: func(context.Context, string, string) error {
				t.Fatal("reset must not run")
				return nil
			},
		})
		w := e.do(http.MethodPost, "/auth/reset-password",
			`{"token":"T","password":"NewSecret456!","confirm_password":"NewSecret457!"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSession(t *testing.T) {
	user := testUser()
	e := newTestEngine(&fakeAuthService{
		authenticate: func(_ context.Context, token string) (*auth.User, error) {
			if token == "good" {
				return user, nil
			}
			return nil, oops.Code(auth.CodeSessionInvalid).Wrap(auth.ErrSessionInvalid)
		},
	})

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/auth/session", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/auth/session", "", withCookie("bad")).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/auth/session", "", withCookie("good")).Code)

	bearer := e.do(http.MethodGet, "/auth/session", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer good")
	})
	assert.Equal(t, http.StatusOK, bearer.Code)
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEngine(&fakeAuthService{})

	w := e.do(http.MethodGet, "/auth/logout", "")
	assert.NotEmpty(t, w.Header().Get(requestid.Header))

	w = e.do(http.MethodGet, "/auth/logout", "", func(r *http.Request) {
		r.Header.Set(requestid.Header, "req-123")
	})
	assert.Equal(t, "req-123", w.Header().Get(requestid.Header))
}

func TestHTTPMetrics(t *testing.T) {
	e := newTestEngine(&fakeAuthService{})
	e.do(http.MethodGet, "/auth/logout", "")
	e.do(http.MethodGet, "/nope", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/auth/logout", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.HTTPRequestsTotal.WithLabelValues("GET", "unknown", "404")))
}
