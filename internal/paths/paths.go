// Package paths provides centralized path resolution for goscribe.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "GOSCRIBE_HOME"

// ConfigFileName is the name of the JSON config file.
const ConfigFileName = "goscribe.json"

// BaseDir returns the goscribe base directory ($GOSCRIBE_HOME or ~/.goscribe).
func BaseDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".goscribe"), nil
}

// DataPath returns a path within the goscribe data directory.
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active goscribe.json path.
// Priority: ./goscribe.json (current dir) > <base>/goscribe.json.
// When neither exists the default location is returned; a missing file is a valid state.
func ConfigPath() (string, error) {
	if _, err := os.Stat(ConfigFileName); err == nil {
		absPath, err := filepath.Abs(ConfigFileName)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}
	return DataPath(ConfigFileName)
}

// RecordingsDir returns the directory holding history.json and sidecar audio files.
func RecordingsDir() (string, error) {
	return DataPath("recordings")
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
