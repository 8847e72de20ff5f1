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

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/larmo-project/larmo/config"
	"github.com/larmo-project/larmo/crypto/certs"
	"github.com/larmo-project/larmo/crypto/keys"
	"github.com/larmo-project/larmo/internal/logger"
)

func caAlgorithm(keyType string) (*keys.Algorithm, error) {
	switch strings.ToLower(keyType) {
	case "ed25519":
		return keys.Ed25519(), nil
	case "rsa":
		return keys.RSA(), nil
	default:
		return nil, fmt.Errorf("unsupported CA key type %q", keyType)
	}
}

// loadOrCreateCA loads the authority from disk, or generates and persists
// a fresh one on first run.
func loadOrCreateCA(cfg *config.CAConfig) (*certs.CertificateAuthority, error) {
	alg, err := caAlgorithm(cfg.KeyType)
	if err != nil {
		return nil, err
	}

	_, keyErr := os.Stat(cfg.KeyFile)
	_, certErr := os.Stat(cfg.CertFile)
	if keyErr == nil && certErr == nil {
		kp, err := keys.FromPemFile(alg, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading CA key: %w", err)
		}
		root, err := certs.Deserialize(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("loading CA certificate: %w", err)
		}
		logger.Info("loaded certificate authority",
			logger.String("cert_file", cfg.CertFile))
		return certs.LoadAuthority(root, kp)
	}

	kp, err := keys.Generate(alg)
	if err != nil {
		return nil, err
	}
	ca, err := certs.NewAuthority(certs.CommonName(cfg.CommonName), kp, cfg.RootDays)
	if err != nil {
		return nil, err
	}

	for _, path := range []string{cfg.KeyFile, cfg.CertFile} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating CA directory: %w", err)
			}
		}
	}
	if err := kp.ToPemFilePrivKey(cfg.KeyFile); err != nil {
		return nil, err
	}
	if err := ca.RootCertificate().Serialize(cfg.CertFile); err != nil {
		return nil, err
	}

	logger.Info("generated certificate authority",
		logger.String("common_name", cfg.CommonName),
		logger.String("key_type", cfg.KeyType),
		logger.String("cert_file", cfg.CertFile))
	return ca, nil
}
