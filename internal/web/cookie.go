// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/holomush/authcore/internal/auth"
)

// cookieJar writes and reads the session cookie according to SessionConfig.
type cookieJar struct {
	cfg auth.SessionConfig
}

func (j cookieJar) sameSite() http.SameSite {
	switch j.cfg.CookieSameSite {
	case auth.SameSiteStrict:
		return http.SameSiteStrictMode
	case auth.SameSiteNone:
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// set issues the session cookie. A zero TTL yields a browser-session cookie.
func (j cookieJar) set(c *gin.Context, token string) {
	c.SetSameSite(j.sameSite())
	c.SetCookie(j.cfg.CookieName, token, int(j.cfg.TTL.Seconds()), "/", j.cfg.CookieDomain, j.cfg.CookieSecure, true)
}

func (j cookieJar) clear(c *gin.Context) {
	c.SetSameSite(j.sameSite())
	c.SetCookie(j.cfg.CookieName, "", -1, "/", j.cfg.CookieDomain, j.cfg.CookieSecure, true)
}

// token reads the session token from the cookie, falling back to a bearer
// Authorization header for non-browser clients.
func (j cookieJar) token(c *gin.Context) string {
	if v, err := c.Cookie(j.cfg.CookieName); err == nil && v != "" {
		return v
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
