// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Options controls Load.
type Options struct {
	// File is an optional YAML config path.
	File string
	// Flags are the parsed command-line flags. Only changed flags apply.
	Flags *pflag.FlagSet
	// Environ replaces the process environment when non-nil.
	Environ map[string]string
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"http-addr":     "http.addr",
	"metrics-addr":  "http.metrics_addr",
	"store":         "store.backend",
	"base-url":      "app.base_url",
	"mail-provider": "mail.provider",
	"log-format":    "log.format",
	"log-level":     "log.level",
}

// RegisterFlags adds the config flags to fs with the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("metrics-addr", d.HTTP.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("store", d.Store.Backend, "store backend (postgres or memory)")
	fs.String("base-url", d.App.BaseURL, "public base URL used in emailed links")
	fs.String("mail-provider", d.Mail.Provider, "notification sender (log or resend)")
	fs.String("log-format", d.Log.Format, "log format (json, text or pretty)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn or error)")
}

// Load builds the effective configuration and validates it.
func Load(opts Options) (*Config, error) {
	cfg := Default()
	unmarshal := koanf.UnmarshalConf{Tag: "yaml"}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("file", opts.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.With("file", opts.File).Wrap(err)
		}
		k := koanf.New(".")
		if err := k.Load(file.Provider(opts.File), kyaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("file", opts.File).Wrap(err)
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshal); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("file", opts.File).Wrap(err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: opts.Environ}); err != nil {
		return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	if opts.Flags != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(opts.Flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshal); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return oops.Code("CONFIG_INVALID").With("fields", strings.Join(fields, ", ")).Wrap(err)
		}
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if c.Mail.Provider == MailResend && c.Mail.FromEmail == "" {
		return oops.Code("CONFIG_INVALID").With("fields", "Config.Mail.FromEmail:required_if").
			Errorf("mail.from_email is required for the resend provider")
	}
	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return oops.Code("CONFIG_INVALID").With("schedule", c.Maintenance.Schedule).Wrap(err)
		}
	}
	return nil
}

const redacted = "[REDACTED]"

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Store.DatabaseURL != "" {
		if u, err := url.Parse(out.Store.DatabaseURL); err == nil && u.User != nil {
			out.Store.DatabaseURL = u.Redacted()
		} else if err != nil {
			out.Store.DatabaseURL = redacted
		}
	}
	if out.Mail.ResendAPIKey != "" {
		out.Mail.ResendAPIKey = redacted
	}
	return &out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	return data, nil
}
