// Package config provides configuration management for the dlpproxy server.
// It handles loading and parsing YAML configuration files and provides
// structured access to application settings: listen port, database path,
// logging behavior, and the global DLP action.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DlpAction is the global fallback action applied when the DLP gate finds
// at least one detection for a backend that has DLP enabled.
type DlpAction string

const (
	// DlpActionBlock rejects the request with a provider-shaped 400.
	DlpActionBlock DlpAction = "block"
	// DlpActionRedact lets the request through with placeholders substituted in.
	DlpActionRedact DlpAction = "redact"
)

// DefaultPort is used when neither the config file nor QPORT sets a port.
const DefaultPort = 8008

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port the proxy listens on.
	Port int `yaml:"port"`
	// DBPath is the path to the SQLite database backing the Record Writer.
	DBPath string `yaml:"db-path"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
	// LoggingToFile switches logrus output from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file"`
	// LogDir is the directory the rotating log file is written under
	// when LoggingToFile is set.
	LogDir string `yaml:"log-dir"`
	// DlpAction is the global action taken when DLP detections are found
	// for a backend that has DLP enabled.
	DlpAction DlpAction `yaml:"dlp-action"`
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, and fills in defaults for anything left unset.
// A missing file is not an error: the proxy starts with built-in defaults.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Port:      DefaultPort,
		DBPath:    "dlpproxy.db",
		LogDir:    "logs",
		DlpAction: DlpActionRedact,
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "dlpproxy.db"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.DlpAction != DlpActionBlock && cfg.DlpAction != DlpActionRedact {
		cfg.DlpAction = DlpActionRedact
	}

	return cfg, nil
}
