// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration loaded from config.yaml.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the external fitting engine bridge.
type EngineConfig struct {
	// Interpreter is the engine executable. Defaults to "Rscript".
	Interpreter string `yaml:"interpreter"`

	// ScriptDir holds the engine entry scripts.
	ScriptDir string `yaml:"script_dir"`

	// TimeoutMinutes is the default per-run deadline. Module-specific
	// deadlines override it.
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// KeepWorkdir retains staged run directories for debugging.
	KeepWorkdir bool `yaml:"keep_workdir"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Timeout converts the configured minutes to a duration; zero means the
// bridge default applies.
func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// LoadConfig reads the YAML config at path. An empty path tries
// "config.yaml" and quietly falls back to defaults when the file does
// not exist; an explicit path must exist.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
