// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/pkg/errutil"
)

const (
	errInternalServer   = "internal server error"
	errValidation       = "invalid request"
	errDuplicateEmail   = "email already registered"
	errInvalidLogin     = "invalid email or password"
	errInvalidToken     = "invalid or expired token"
	errNotAuthenticated = "not authenticated"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps a flow error onto a status and a generic body. Anything
// unrecognised is logged and reported as a 500.
func (h *Handler) writeError(c *gin.Context, flow string, err error) {
	var (
		status int
		body   errorBody
	)
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		status, body = http.StatusConflict, errorBody{Error: errDuplicateEmail, Code: auth.CodeDuplicateEmail}
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, body = http.StatusUnauthorized, errorBody{Error: errInvalidLogin, Code: auth.CodeInvalidCredentials}
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		status, body = http.StatusBadRequest, errorBody{Error: errInvalidToken, Code: auth.CodeInvalidToken}
	case errors.Is(err, auth.ErrSessionInvalid):
		status, body = http.StatusUnauthorized, errorBody{Error: errNotAuthenticated, Code: auth.CodeSessionInvalid}
	default:
		errutil.LogErrorContext(c.Request.Context(), h.logger, flow+" failed", err)
		h.metrics.RecordAuthOutcome(flow, "error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: errInternalServer})
		return
	}
	h.metrics.RecordAuthOutcome(flow, "rejected")
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) writeValidation(c *gin.Context, flow string, err error) {
	h.metrics.RecordAuthOutcome(flow, "invalid")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errValidation, "details": err.Error()})
}
