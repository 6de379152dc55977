// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package xdg locates the FitDojo config file under the XDG base directories.
package xdg

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "fitdojo"
	configFileName = "config.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/fitdojo, falling back to
// ~/.config/fitdojo.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// FindConfigFile returns ConfigFile if it exists, or "" when there is none.
func FindConfigFile() (string, error) {
	path := ConfigFile()
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	if info.IsDir() {
		return "", oops.Code("CONFIG_FILE_INVALID").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}
