// Copyright (C) 2025 larmo-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads daemon configuration from YAML or JSON files with
// ${VAR} environment substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Exchange    *ExchangeConfig `yaml:"exchange" json:"exchange"`
	CA          *CAConfig       `yaml:"ca" json:"ca"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ExchangeConfig configures the certificate exchange endpoint.
type ExchangeConfig struct {
	Network string `yaml:"network" json:"network"` // "tcp" or "unix"
	Address string `yaml:"address" json:"address"`
	// Password authorizes clients; prefer ${LARMO_PASSWORD} over a
	// literal value in the file.
	Password     string `yaml:"password" json:"password"`
	ValidityDays int    `yaml:"validity_days" json:"validity_days"`
	MaxFrameSize uint64 `yaml:"max_frame_size" json:"max_frame_size"`
}

// CAConfig configures the embedded certificate authority.
type CAConfig struct {
	CommonName string `yaml:"common_name" json:"common_name"`
	KeyType    string `yaml:"key_type" json:"key_type"` // "ed25519" or "rsa"
	KeyFile    string `yaml:"key_file" json:"key_file"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	RootDays   int    `yaml:"root_days" json:"root_days"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoadFromFile loads configuration from a YAML or JSON file, substitutes
// environment variables and applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	SubstituteEnvVarsInConfig(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Exchange == nil {
		cfg.Exchange = &ExchangeConfig{}
	}
	if cfg.Exchange.Network == "" {
		cfg.Exchange.Network = "tcp"
	}
	if cfg.Exchange.Address == "" {
		cfg.Exchange.Address = "0.0.0.0:5915"
	}
	if cfg.Exchange.Password == "" {
		cfg.Exchange.Password = os.Getenv("LARMO_PASSWORD")
	}
	if cfg.Exchange.ValidityDays == 0 {
		cfg.Exchange.ValidityDays = 365
	}
	if cfg.Exchange.MaxFrameSize == 0 {
		cfg.Exchange.MaxFrameSize = 1 << 20
	}

	if cfg.CA == nil {
		cfg.CA = &CAConfig{}
	}
	if cfg.CA.CommonName == "" {
		cfg.CA.CommonName = "LarmoCA"
	}
	if cfg.CA.KeyType == "" {
		cfg.CA.KeyType = "ed25519"
	}
	if cfg.CA.KeyFile == "" {
		cfg.CA.KeyFile = ".larmo/ca-key.pem"
	}
	if cfg.CA.CertFile == "" {
		cfg.CA.CertFile = ".larmo/ca-cert.pem"
	}
	if cfg.CA.RootDays == 0 {
		cfg.CA.RootDays = 3650
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9615"
	}
}

// Validate checks the fields that have no workable defaults.
func (c *Config) Validate() error {
	if c.Exchange == nil || c.Exchange.Password == "" {
		return fmt.Errorf("exchange password is not set (set LARMO_PASSWORD or exchange.password)")
	}
	switch c.Exchange.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("unsupported exchange network %q", c.Exchange.Network)
	}
	switch strings.ToLower(c.CA.KeyType) {
	case "ed25519", "rsa":
	default:
		return fmt.Errorf("unsupported CA key type %q", c.CA.KeyType)
	}
	return nil
}
