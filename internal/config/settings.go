package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings are the optional service-level settings, loaded from a YAML file
// beside the program. Flags override anything set here. This file is distinct
// from the env file: it never carries remote credentials.
type Settings struct {
	// ListenPort is the local HTTP port (127.0.0.1 only).
	ListenPort int `yaml:"listen_port"`
	// DataDir holds the SQLite store file. Default: directory of the program,
	// resolved by the caller when left as ".".
	DataDir string `yaml:"data_dir"`
	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level"`
}

func DefaultSettings() Settings {
	return Settings{
		ListenPort: 5000,
		DataDir:    ".",
		LogFormat:  "text",
		LogLevel:   "info",
	}
}

// LoadSettings reads path, filling unset fields with defaults. A missing file
// returns the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	p := strings.TrimSpace(path)
	if p == "" {
		return s, nil
	}

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("invalid settings file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.ListenPort <= 0 || s.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port: %d", s.ListenPort)
	}
	switch s.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format: %q", s.LogFormat)
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", s.LogLevel)
	}
	return nil
}
