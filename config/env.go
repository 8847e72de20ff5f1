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

package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// LoadEnvFile loads a .env file into the process environment when one
// exists; a missing file is not an error.
func LoadEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig substitutes environment variables in every
// string field of the config
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Environment = SubstituteEnvVars(cfg.Environment)

	if cfg.Exchange != nil {
		cfg.Exchange.Network = SubstituteEnvVars(cfg.Exchange.Network)
		cfg.Exchange.Address = SubstituteEnvVars(cfg.Exchange.Address)
		cfg.Exchange.Password = SubstituteEnvVars(cfg.Exchange.Password)
	}

	if cfg.CA != nil {
		cfg.CA.CommonName = SubstituteEnvVars(cfg.CA.CommonName)
		cfg.CA.KeyType = SubstituteEnvVars(cfg.CA.KeyType)
		cfg.CA.KeyFile = SubstituteEnvVars(cfg.CA.KeyFile)
		cfg.CA.CertFile = SubstituteEnvVars(cfg.CA.CertFile)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Address = SubstituteEnvVars(cfg.Metrics.Address)
	}
}

// GetEnvironment returns the current environment from LARMO_ENV or
// defaults to development
func GetEnvironment() string {
	env := os.Getenv("LARMO_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}
