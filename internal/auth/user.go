// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Profile field limits.
const (
	MaxNameLength  = 100
	MaxPhoneLength = 20
)

// Supported phone number regions.
const (
	PhoneCountryAU = "au"
	PhoneCountryPH = "ph"
)

// ValidPhoneCountry reports whether c is empty or a supported region.
func ValidPhoneCountry(c string) bool {
	switch c {
	case "", PhoneCountryAU, PhoneCountryPH:
		return true
	}
	return false
}

// User is an account identity with its password hash.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	PhoneCountry string
	Phone        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile carries the optional descriptive fields of a User.
type Profile struct {
	FirstName    string
	LastName     string
	PhoneCountry string
	Phone        string
}

// NormalizeEmail returns the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser creates a validated User. The email is normalized.
func NewUser(email, passwordHash string, profile Profile) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if _, err := mail.ParseAddress(normalized); err != nil {
		return nil, oops.Code("USER_INVALID_EMAIL").With("email", normalized).Wrap(err)
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if len(profile.FirstName) > MaxNameLength || len(profile.LastName) > MaxNameLength {
		return nil, oops.Code("USER_INVALID_NAME").Errorf("name exceeds %d characters", MaxNameLength)
	}
	if len(profile.Phone) > MaxPhoneLength {
		return nil, oops.Code("USER_INVALID_PHONE").Errorf("phone exceeds %d characters", MaxPhoneLength)
	}
	country := strings.ToLower(strings.TrimSpace(profile.PhoneCountry))
	if !ValidPhoneCountry(country) {
		return nil, oops.Code("USER_INVALID_PHONE").With("phone_country", profile.PhoneCountry).Errorf("unsupported phone country")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(profile.FirstName),
		LastName:     strings.TrimSpace(profile.LastName),
		PhoneCountry: country,
		Phone:        strings.TrimSpace(profile.Phone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// DisplayName is the name used in greetings.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Email
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Fails with ErrDuplicateEmail when the
	// normalized email already exists, including under concurrent callers.
	Create(ctx context.Context, user *User) error

	// GetByEmail retrieves a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePasswordHash replaces the password hash.
	// Fails with ErrUserNotFound if the user does not exist.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, hash string) error
}
