package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the application's default paths. Environment
// variables win over the XDG-style home defaults:
//   - DIRSAFE_CONFIG_PATH: config file location (default: ~/.config/dirsafe.toml)
//   - DIRSAFE_HOME: base directory for dirsafe data (default: ~/.local/share/dirsafe)
func GetDefaults() (map[string]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	baseDir := envOr("DIRSAFE_HOME", filepath.Join(home, ".local", "share", "dirsafe"))
	return map[string]string{
		"config_path": envOr("DIRSAFE_CONFIG_PATH", filepath.Join(home, ".config", "dirsafe.toml")),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
