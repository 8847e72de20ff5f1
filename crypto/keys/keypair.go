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

// Package keys manages the key pairs behind certificates: Ed25519 and
// RSA-2048 generation, PEM (PKCS#8 private, SPKI public) and DER codecs,
// and the digest policy each algorithm uses for X.509 signing. Loading a
// serialized key whose embedded algorithm disagrees with the declared one
// fails with ErrWrongKeyType.
package keys

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Common errors
var (
	ErrWrongKeyType = errors.New("key algorithm does not match the declared type")
	ErrInvalidPEM   = errors.New("no PEM block found")
)

const (
	pemTypePrivateKey = "PRIVATE KEY"
	pemTypePublicKey  = "PUBLIC KEY"
)

// KeyPair is a private/public key pair of one of the two supported
// algorithms.
type KeyPair struct {
	alg    *Algorithm
	signer crypto.Signer
}

// Generate creates a fresh key pair of the given algorithm.
func Generate(alg *Algorithm) (*KeyPair, error) {
	signer, err := alg.generate()
	if err != nil {
		return nil, fmt.Errorf("generating %s key pair: %w", alg.Type(), err)
	}
	return &KeyPair{alg: alg, signer: signer}, nil
}

// FromDer parses a PKCS#8 private key and checks it against the declared
// algorithm.
func FromDer(alg *Algorithm, der []byte) (*KeyPair, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok || !alg.matches(signer) {
		return nil, fmt.Errorf("%w: want %s", ErrWrongKeyType, alg.Type())
	}
	return &KeyPair{alg: alg, signer: signer}, nil
}

// FromPem parses a PEM-armored PKCS#8 private key.
func FromPem(alg *Algorithm, pemStr string) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, ErrInvalidPEM
	}
	return FromDer(alg, block.Bytes)
}

// FromPemFile reads a PEM private key file.
func FromPemFile(alg *Algorithm, path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return FromPem(alg, string(data))
}

// Type returns the key algorithm.
func (kp *KeyPair) Type() KeyType { return kp.alg.Type() }

// Algorithm returns the algorithm descriptor.
func (kp *KeyPair) Algorithm() *Algorithm { return kp.alg }

// Signer exposes the private key for X.509 signing operations.
func (kp *KeyPair) Signer() crypto.Signer { return kp.signer }

// Public returns the public half.
func (kp *KeyPair) Public() crypto.PublicKey { return kp.signer.Public() }

// DigestType returns the digest used when this key signs X.509
// structures; 0 for Ed25519.
func (kp *KeyPair) DigestType() crypto.Hash { return kp.alg.Digest() }

// ToDerPrivKey serializes the private key as PKCS#8 DER.
func (kp *KeyPair) ToDerPrivKey() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.signer)
	if err != nil {
		return nil, fmt.Errorf("marshaling PKCS#8 private key: %w", err)
	}
	return der, nil
}

// ToDerPubKey serializes the public key as SPKI DER.
func (kp *KeyPair) ToDerPubKey() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.signer.Public())
	if err != nil {
		return nil, fmt.Errorf("marshaling SPKI public key: %w", err)
	}
	return der, nil
}

// ToPemPrivKey returns the PEM armor of the PKCS#8 private key.
func (kp *KeyPair) ToPemPrivKey() (string, error) {
	der, err := kp.ToDerPrivKey()
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der})), nil
}

// ToPemPubKey returns the PEM armor of the SPKI public key.
func (kp *KeyPair) ToPemPubKey() (string, error) {
	der, err := kp.ToDerPubKey()
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})), nil
}

// ToPemFilePrivKey writes the private key PEM to path with owner-only
// permissions.
func (kp *KeyPair) ToPemFilePrivKey(path string) error {
	pemStr, err := kp.ToPemPrivKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(pemStr), 0o600); err != nil {
		return fmt.Errorf("writing private key file: %w", err)
	}
	return nil
}

// ToPemFilePubKey writes the public key PEM to path.
func (kp *KeyPair) ToPemFilePubKey(path string) error {
	pemStr, err := kp.ToPemPubKey()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(pemStr), 0o644); err != nil {
		return fmt.Errorf("writing public key file: %w", err)
	}
	return nil
}
