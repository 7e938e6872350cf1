// Package util holds small helpers shared across packages.
package util

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a user-supplied filesystem path: a leading tilde
// expands to the home directory, $VAR and ${VAR} references expand from the
// environment, and the result is cleaned. Config file paths, workflow
// directories, and decision log locations all pass through here so the same
// shorthand works everywhere.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		path = filepath.Join(home, path[2:])
	}

	return filepath.Clean(os.ExpandEnv(path)), nil
}
