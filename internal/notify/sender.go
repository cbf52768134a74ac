// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
	"github.com/samber/oops"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs emails instead of sending them. Used for local development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message. The body is logged at debug level only.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email (local delivery)",
		"to", msg.To,
		"subject", msg.Subject,
	)
	s.logger.DebugContext(ctx, "email body (local delivery)",
		"to", msg.To,
		"body", msg.Text,
	)
	return nil
}

// ResendConfig configures ResendSender.
type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// AdminBCC, when set, receives a blind copy of every message.
	AdminBCC string
}

// ResendSender sends emails through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	bcc    []string
}

// NewResendSender creates a ResendSender with the default HTTP client.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("resend API key is required")
	}
	return NewResendSenderWithClient(resend.NewClient(cfg.APIKey), cfg)
}

// NewResendSenderWithClient creates a ResendSender around an existing client.
func NewResendSenderWithClient(client *resend.Client, cfg ResendConfig) (*ResendSender, error) {
	if cfg.FromEmail == "" {
		return nil, oops.Code("NOTIFY_CONFIG_INVALID").Errorf("from email is required")
	}
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	s := &ResendSender{client: client, from: from}
	if cfg.AdminBCC != "" {
		s.bcc = []string{cfg.AdminBCC}
	}
	return s, nil
}

// Send delivers the message through Resend.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		Bcc:     s.bcc,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").
			With("provider", "resend").
			With("subject", msg.Subject).
			Wrap(err)
	}
	return nil
}
