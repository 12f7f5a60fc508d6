package config

import (
	"os"
	"path/filepath"
)

const (
	defaultHomeDirName = ".heimdall"

	databaseFileName = "heimdall.db"
	overrideFileName = "plugins.override.yaml"
	pidFileName      = "heimdalld.pid"
)

// Paths contains the on-disk layout of a Heimdall data directory.
type Paths struct {
	Home         string // Data directory root
	Database     string // SQLite document store path
	Logs         string // Logs directory
	Plugins      string // Plugin directory (one sub-directory per plugin)
	OverrideFile string // Optional plugin allow/deny override file
	PIDFile      string // Written while the host runs
}

// GetPaths returns the directory layout rooted at home.
// An empty home falls back to DefaultHome.
func GetPaths(home string) Paths {
	if home == "" {
		home = DefaultHome()
	}
	home = ExpandPath(home)

	return Paths{
		Home:         home,
		Database:     filepath.Join(home, databaseFileName),
		Logs:         filepath.Join(home, "logs"),
		Plugins:      filepath.Join(home, "plugins"),
		OverrideFile: filepath.Join(home, overrideFileName),
		PIDFile:      filepath.Join(home, pidFileName),
	}
}

// DefaultHome returns the default data directory (~/.heimdall).
func DefaultHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, defaultHomeDirName)
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure for the given layout if it does not exist.
func EnsureDirs(paths Paths) error {
	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.Plugins,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}
