package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the directory log files are written to,
// ~/.pampax/logs, falling back to the temp dir when no home is available.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pampax", "logs")
	}
	return filepath.Join(home, ".pampax", "logs")
}

// DefaultLogPath returns the path of the main log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "pampax.log")
}

// EnsureLogDir creates the log directory if it does not exist yet.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
