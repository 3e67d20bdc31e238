// Package paths resolves the configuration and data directories of the
// tracker CLI.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/juju/errors"
)

// Directory names used next to the working directory.
const (
	DefaultConfigDirName = ".tracker"
	DefaultDataDirName   = ".tracker-db"
)

// Environment variables overriding the directories.
const (
	EnvConfigDir = "TRACKER_CONFIG_DIR"
	EnvDataDir   = "TRACKER_DATA_DIR"
)

const appName = "tracker"

// platformDir holds platform lookups replaced in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/tracker or ~/.config/tracker on Linux, the user
// configuration directory elsewhere.
func DefaultConfigDir() (string, error) {
	return userDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the per-user data directory:
// $XDG_DATA_HOME/tracker or ~/.local/share/tracker on Linux, the user
// configuration directory elsewhere.
func DefaultDataDir() (string, error) {
	return userDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func userDir(xdgEnv, homeRelative string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", errors.Annotate(err, "user configuration directory")
		}
		return filepath.Join(dir, appName), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", errors.Annotate(err, "home directory")
	}
	return filepath.Join(home, homeRelative, appName), nil
}

// ResolveConfigDir returns the configuration directory, in order of
// precedence: flag, TRACKER_CONFIG_DIR, a .tracker directory in the working
// directory, DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", errors.Annotate(err, "working directory")
	}
	local := filepath.Join(cwd, DefaultConfigDirName)
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return local, nil
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory, in order of precedence: flag,
// the data_dir configuration value, TRACKER_DATA_DIR, a .tracker-db
// directory in the working directory.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", errors.Annotate(err, "working directory")
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}
