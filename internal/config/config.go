package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the huddled.toml server configuration.
type Config struct {
	// Listen is the HTTP/WebSocket listen address.
	Listen string `toml:"listen"`
	// DataDir holds the SQLite database, log file, and lock file.
	DataDir string `toml:"data_dir"`
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `toml:"allowed_origins"`
	// SendBuffer is the per-connection outbound event buffer size.
	SendBuffer int `toml:"send_buffer"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Listen:     "127.0.0.1:8400",
		DataDir:    filepath.Join(home, ".huddle"),
		SendBuffer: 256,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the SQLite database path under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "huddle.db")
}

// LogPath returns the daemon log file path under DataDir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "huddled.log")
}
