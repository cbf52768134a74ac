// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// NotificationKind identifies a transactional email.
type NotificationKind string

// Notification kinds emitted by the auth flows.
const (
	KindWelcome                NotificationKind = "welcome"
	KindLogin                  NotificationKind = "login"
	KindPasswordResetRequest   NotificationKind = "password_reset_request"
	KindPasswordResetConfirmed NotificationKind = "password_reset_confirmed"
)

// Payload keys.
const (
	PayloadFirstName = "first_name"
	PayloadLoginTime = "login_time"
	PayloadResetURL  = "reset_url"
	PayloadExpiresAt = "expires_at"
)

// SecretPayloadKeys returns the payload keys that carry live credentials.
// Stores drop them once a notification is delivered or dead-lettered.
func SecretPayloadKeys() []string {
	return []string{PayloadResetURL}
}

// ScrubPayload removes secret keys from payload in place.
func ScrubPayload(payload map[string]string) {
	for _, k := range SecretPayloadKeys() {
		delete(payload, k)
	}
}

// Valid reports whether k is a known kind.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindWelcome, KindLogin, KindPasswordResetRequest, KindPasswordResetConfirmed:
		return true
	}
	return false
}

// Notification is an outbound message recorded after a flow commits and
// delivered asynchronously.
type Notification struct {
	ID        ulid.ULID
	Kind      NotificationKind
	Recipient string
	Payload   map[string]string
	CreatedAt time.Time
}

// NewNotification creates a validated Notification.
func NewNotification(kind NotificationKind, recipient string, payload map[string]string, now time.Time) (*Notification, error) {
	if !kind.Valid() {
		return nil, oops.Code("NOTIFICATION_INVALID_KIND").With("kind", string(kind)).Errorf("unknown notification kind")
	}
	if recipient == "" {
		return nil, oops.Code("NOTIFICATION_INVALID_RECIPIENT").Errorf("recipient cannot be empty")
	}
	if payload == nil {
		payload = map[string]string{}
	}
	return &Notification{
		ID:        ulid.Make(),
		Kind:      kind,
		Recipient: recipient,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// Outbox records notifications for asynchronous delivery.
type Outbox interface {
	Enqueue(ctx context.Context, n *Notification) error
}
