// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the auth flows over HTTP.
package web

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/holomush/authcore/internal/observability"
)

// NewRouter builds the gin engine with middleware and the auth routes.
func NewRouter(h *Handler, logger *slog.Logger, metrics *observability.Metrics) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	// RequestID owns the header; the access log picks the ID up from context.
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		WithRequestID: false,
		Filters:       []sloggin.Filter{sloggin.IgnorePath("/healthz/liveness")},
	}))
	r.Use(Metrics(metrics))

	a := r.Group("/auth")
	a.POST("/signup", h.Signup)
	a.POST("/signin", h.Signin)
	a.GET("/logout", h.Logout)
	a.POST("/logout", h.Logout)
	a.POST("/forgot-password", h.ForgotPassword)
	a.POST("/reset-password", h.ResetPassword)
	a.GET("/session", h.Session)

	return r
}
