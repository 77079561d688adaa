package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dirsafe.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Backup      BackupConfig      `toml:"backup"`
	Store       StoreConfig       `toml:"store"`
	Compression CompressionConfig `toml:"compression"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
}

// BackupConfig names the directory being protected and where its
// backups land.
type BackupConfig struct {
	SourcePath string `toml:"source_path"`
	DestPath   string `toml:"dest_path"`
}

// StoreConfig selects the catalog persistence backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"`           // "json", "sqlite", or "memory"
	Path string `toml:"path,omitempty"` // catalog file; unused for type=memory
}

// CompressionConfig controls the compression stage.
type CompressionConfig struct {
	Enabled bool `toml:"enabled"`
	Level   int  `toml:"level"` // zlib level 0-9
}

// EncryptionConfig controls the encryption stage. The key file holds
// raw key bytes; when absent and encryption is enabled, the key is
// derived from a passphrase at the prompt.
type EncryptionConfig struct {
	Enabled bool   `toml:"enabled"`
	KeyPath string `toml:"key_path,omitempty"`
}

// SchedulerConfig tunes the background scheduler.
type SchedulerConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	RetryAttempts       int    `toml:"retry_attempts"`
	RetryDelaySeconds   int    `toml:"retry_delay_seconds"`
	StateFile           string `toml:"state_file,omitempty"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type: "json",
			Path: filepath.Join(baseDir, "catalog.json"),
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
		},
		Encryption: EncryptionConfig{
			KeyPath: filepath.Join(baseDir, "keys", "dirsafe.key"),
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: 10,
			RetryAttempts:       3,
			RetryDelaySeconds:   60,
			StateFile:           filepath.Join(baseDir, "schedules.json"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
