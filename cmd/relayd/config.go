package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the relay daemon's on-disk configuration, following the
// shape of internal/config/config.go: yaml-tagged fields, Load reads
// and unmarshals, then applies hardcoded defaults for anything left
// zero.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`
	Listen  string `yaml:"listen"`
}

func defaultConfig() *Config {
	return &Config{
		AppName: "relayd",
		Listen:  ":8787",
	}
}

// Load reads filename, falling back to hardcoded defaults for any
// field left unset, exactly as internal/config/config.go does for the
// orchestrator's own configuration.
func Load(filename string) (*Config, error) {
	cfg := defaultConfig()
	if filename == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("relayd: reading config %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("relayd: parsing config %s: %w", filename, err)
	}

	if cfg.Listen == "" {
		cfg.Listen = ":8787"
	}
	return cfg, nil
}
