// Package config defines the on-disk YAML layer of speed-daemon's
// configuration, sitting between defaults and the flag/env layers that
// cmd/speed-daemon applies on top. Grounded on sadewadee-maboo's
// internal/config.Config, trimmed to the fields this service actually has
// and loaded with the same gopkg.in/yaml.v3 library.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the shape of the optional YAML config file. Every field is a
// pointer so Load can tell "absent from file" apart from "zero value",
// letting flag/env layers override only what the file actually set.
type File struct {
	Listen          *string `yaml:"listen"`
	LogFormat       *string `yaml:"log_format"`
	LogLevel        *string `yaml:"log_level"`
	MetricsAddr     *string `yaml:"metrics_addr"`
	AdminAddr       *string `yaml:"admin_addr"`
	MaxClients      *int    `yaml:"max_clients"`
	ReadTimeout     *string `yaml:"read_timeout"`
	LogMetricsEvery *string `yaml:"log_metrics_interval"`
	MDNSEnable      *bool   `yaml:"mdns_enable"`
	MDNSName        *string `yaml:"mdns_name"`
}

// Load reads and parses a YAML config file. A missing path is not an
// error: it returns an empty File so callers can treat "no file" and
// "empty file" identically.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}
