package config

import (
	"os"
	"path/filepath"
)

// EnvConfig names a config file when --config is not given.
const EnvConfig = "EVENTRA_CONFIG"

// DefaultStorePath is the file store prefix used without a config:
// $XDG_DATA_HOME/eventra/store, falling back to ~/.local/share.
func DefaultStorePath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "eventra_store")
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "eventra", "store")
}
