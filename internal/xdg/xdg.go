// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates authcore config files under the XDG Base Directory
// layout.
package xdg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

const (
	appName = "authcore"

	// ConfigFileName is the file looked up in each config directory.
	ConfigFileName = "config.yaml"

	defaultConfigDirs = "/etc/xdg"
)

// ConfigDir returns the user config directory for authcore.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// SystemConfigDirs returns the system config directories for authcore in
// priority order, from XDG_CONFIG_DIRS or /etc/xdg.
func SystemConfigDirs() []string {
	raw := os.Getenv("XDG_CONFIG_DIRS")
	if raw == "" {
		raw = defaultConfigDirs
	}
	var dirs []string
	for _, d := range strings.Split(raw, string(os.PathListSeparator)) {
		if d == "" || !filepath.IsAbs(d) {
			continue
		}
		dirs = append(dirs, filepath.Join(d, appName))
	}
	return dirs
}

// FindConfigFile returns the first existing config.yaml in the user
// config directory, then the system ones.
func FindConfigFile() (string, bool) {
	var dirs []string
	if user, err := ConfigDir(); err == nil {
		dirs = append(dirs, user)
	}
	dirs = append(dirs, SystemConfigDirs()...)

	for _, dir := range dirs {
		path := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}
