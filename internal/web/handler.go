// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/pkg/errutil"
)

// AuthService is the subset of auth.Service the handlers need.
type AuthService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error)
	Signin(ctx context.Context, email, password string, meta auth.SessionMeta) (*auth.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*auth.User, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// Handler serves the auth routes.
type Handler struct {
	svc     AuthService
	cookies cookieJar
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHandler creates a Handler. metrics may be nil.
func NewHandler(svc AuthService, session auth.SessionConfig, logger *slog.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:     svc,
		cookies: cookieJar{cfg: session},
		logger:  logger.With("component", "auth_handler"),
		metrics: metrics,
	}
}

type signupRequest struct {
	Email           string `json:"email" form:"email" binding:"required,email"`
	Password        string `json:"password" form:"password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password" binding:"required,eqfield=Password"`
	FirstName       string `json:"first_name" form:"first_name" binding:"max=100"`
	LastName        string `json:"last_name" form:"last_name" binding:"max=100"`
	PhoneCountry    string `json:"phone_country" form:"phone_country" binding:"omitempty,oneof=au ph"`
	Phone           string `json:"phone" form:"phone" binding:"max=20"`
}

type signinRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" form:"token" binding:"required"`
	Password        string `json:"password" form:"password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password" binding:"omitempty,eqfield=Password"`
}

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	PhoneCountry string    `json:"phone_country,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:           u.ID.String(),
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PhoneCountry: u.PhoneCountry,
		Phone:        u.Phone,
		CreatedAt:    u.CreatedAt,
	}
}

func meta(c *gin.Context) auth.SessionMeta {
	return auth.SessionMeta{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
}

// Signup handles POST /auth/signup.
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeValidation(c, "signup", err)
		return
	}

	res, err := h.svc.Signup(c.Request.Context(), auth.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Profile: auth.Profile{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			PhoneCountry: req.PhoneCountry,
			Phone:        req.Phone,
		},
		Meta: meta(c),
	})
	if err != nil {
		h.writeError(c, "signup", err)
		return
	}

	h.metrics.RecordAuthOutcome("signup", "success")
	h.cookies.set(c, res.Token)
	c.JSON(http.StatusCreated, gin.H{"user": newUserResponse(res.User)})
}

// Signin handles POST /auth/signin.
func (h *Handler) Signin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeValidation(c, "signin", err)
		return
	}

	res, err := h.svc.Signin(c.Request.Context(), req.Email, req.Password, meta(c))
	if err != nil {
		h.writeError(c, "signin", err)
		return
	}

	h.metrics.RecordAuthOutcome("signin", "success")
	h.cookies.set(c, res.Token)
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(res.User)})
}

// Logout handles GET and POST /auth/logout. It always clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	if token := h.cookies.token(c); token != "" {
		if err := h.svc.Logout(c.Request.Context(), token); err != nil {
			errutil.LogErrorContext(c.Request.Context(), h.logger, "logout failed", err)
		}
	}
	h.metrics.RecordAuthOutcome("logout", "success")
	h.cookies.clear(c)
	c.Status(http.StatusNoContent)
}

// ForgotPassword handles POST /auth/forgot-password.
// The response never reveals whether the email is registered.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeValidation(c, "forgot_password", err)
		return
	}

	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		errutil.LogErrorContext(c.Request.Context(), h.logger, "forgot password failed", err)
	}
	h.metrics.RecordAuthOutcome("forgot_password", "accepted")
	c.JSON(http.StatusAccepted, gin.H{"message": "if the address is registered, a reset link has been sent"})
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeValidation(c, "reset_password", err)
		return
	}

	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.writeError(c, "reset_password", err)
		return
	}

	h.metrics.RecordAuthOutcome("reset_password", "success")
	c.Status(http.StatusNoContent)
}

// Session handles GET /auth/session.
func (h *Handler) Session(c *gin.Context) {
	token := h.cookies.token(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errNotAuthenticated, Code: auth.CodeSessionInvalid})
		return
	}

	user, err := h.svc.Authenticate(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, "session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}
