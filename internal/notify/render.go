// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var kinds = []auth.NotificationKind{
	auth.KindWelcome,
	auth.KindLogin,
	auth.KindPasswordResetRequest,
	auth.KindPasswordResetConfirmed,
}

type kindTemplates struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// Renderer turns notifications into email messages.
type Renderer struct {
	appName   string
	baseURL   string
	templates map[auth.NotificationKind]kindTemplates
}

type templateData struct {
	AppName   string
	BaseURL   string
	Recipient string
	Payload   map[string]string
}

// NewRenderer parses the embedded templates for every notification kind.
func NewRenderer(appName, baseURL string) (*Renderer, error) {
	r := &Renderer{
		appName:   appName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: make(map[auth.NotificationKind]kindTemplates, len(kinds)),
	}
	for _, kind := range kinds {
		name := string(kind)
		text, err := texttemplate.New(name+".txt.tmpl").
			Option("missingkey=zero").
			ParseFS(templatesFS, "templates/"+name+".txt.tmpl")
		if err != nil {
			return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").With("kind", name).Wrap(err)
		}
		html, err := htmltemplate.New(name+".html.tmpl").
			Option("missingkey=zero").
			ParseFS(templatesFS, "templates/"+name+".html.tmpl")
		if err != nil {
			return nil, oops.Code("NOTIFY_TEMPLATE_INVALID").With("kind", name).Wrap(err)
		}
		r.templates[kind] = kindTemplates{text: text, html: html}
	}
	return r, nil
}

// Render produces the message for n.
func (r *Renderer) Render(n auth.Notification) (Message, error) {
	t, ok := r.templates[n.Kind]
	if !ok {
		return Message{}, oops.Code("NOTIFY_UNKNOWN_KIND").With("kind", string(n.Kind)).Errorf("no template for notification kind")
	}
	data := templateData{
		AppName:   r.appName,
		BaseURL:   r.baseURL,
		Recipient: n.Recipient,
		Payload:   n.Payload,
	}

	var subject, text, html bytes.Buffer
	if err := t.text.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", string(n.Kind)).With("part", "subject").Wrap(err)
	}
	if err := t.text.ExecuteTemplate(&text, "body", data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", string(n.Kind)).With("part", "text").Wrap(err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, oops.Code("NOTIFY_RENDER_FAILED").With("kind", string(n.Kind)).With("part", "html").Wrap(err)
	}

	return Message{
		To:      n.Recipient,
		Subject: strings.TrimSpace(subject.String()),
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}
