// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", auth.NormalizeEmail("  Alice@Example.COM "))
	assert.Equal(t, "", auth.NormalizeEmail("   "))
}

func TestNewUser(t *testing.T) {
	t.Run("normalizes email and trims profile", func(t *testing.T) {
		u, err := auth.NewUser("Alice@Example.com", "hash", auth.Profile{FirstName: " Alice ", PhoneCountry: " PH ", Phone: "555"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.Equal(t, "Alice", u.FirstName)
		assert.Equal(t, auth.PhoneCountryPH, u.PhoneCountry)
		assert.Equal(t, "555", u.Phone)
		assert.False(t, u.CreatedAt.IsZero())
	})

	tests := []struct {
		name    string
		email   string
		hash    string
		profile auth.Profile
		code    string
	}{
		{"empty email", " ", "hash", auth.Profile{}, "USER_INVALID_EMAIL"},
		{"malformed email", "not-an-email", "hash", auth.Profile{}, "USER_INVALID_EMAIL"},
		{"empty hash", "a@example.com", "", auth.Profile{}, "USER_INVALID_HASH"},
		{"long first name", "a@example.com", "hash", auth.Profile{FirstName: strings.Repeat("x", auth.MaxNameLength+1)}, "USER_INVALID_NAME"},
		{"long last name", "a@example.com", "hash", auth.Profile{LastName: strings.Repeat("x", auth.MaxNameLength+1)}, "USER_INVALID_NAME"},
		{"long phone", "a@example.com", "hash", auth.Profile{Phone: strings.Repeat("1", auth.MaxPhoneLength+1)}, "USER_INVALID_PHONE"},
		{"unsupported phone country", "a@example.com", "hash", auth.Profile{PhoneCountry: "nz"}, "USER_INVALID_PHONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewUser(tt.email, tt.hash, tt.profile)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestUser_DisplayName(t *testing.T) {
	u := &auth.User{Email: "a@example.com"}
	assert.Equal(t, "a@example.com", u.DisplayName())
	u.FirstName = "Ann"
	assert.Equal(t, "Ann", u.DisplayName())
}

func TestNewNotification(t *testing.T) {
	now := time.Now()

	n, err := auth.NewNotification(auth.KindWelcome, "a@example.com", nil, now)
	require.NoError(t, err)
	assert.NotNil(t, n.Payload)
	assert.Equal(t, now, n.CreatedAt)

	_, err = auth.NewNotification("sms", "a@example.com", nil, now)
	errutil.AssertErrorCode(t, err, "NOTIFICATION_INVALID_KIND")

	_, err = auth.NewNotification(auth.KindLogin, "", nil, now)
	errutil.AssertErrorCode(t, err, "NOTIFICATION_INVALID_RECIPIENT")
}
