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

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
)

// KeyType identifies a supported key algorithm.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeRSA     KeyType = "RSA"
)

const rsaKeyBits = 2048

// Algorithm is the dispatcher for one key type: generation, the digest
// policy used when signing X.509 structures, and the type check applied
// when ingesting serialized keys. The set is closed; the two instances are
// Ed25519 and RSA.
type Algorithm struct {
	keyType  KeyType
	generate func() (crypto.Signer, error)
	digest   crypto.Hash
	x509Alg  x509.SignatureAlgorithm
	matches  func(key crypto.Signer) bool
}

// Type returns the algorithm's key type.
func (a *Algorithm) Type() KeyType { return a.keyType }

// Digest returns the digest used for X.509 signing; 0 for Ed25519, which
// signs the message directly.
func (a *Algorithm) Digest() crypto.Hash { return a.digest }

// X509SignatureAlgorithm returns the signature algorithm stamped into
// certificates and CSRs signed with this key type.
func (a *Algorithm) X509SignatureAlgorithm() x509.SignatureAlgorithm { return a.x509Alg }

var ed25519Algorithm = &Algorithm{
	keyType: KeyTypeEd25519,
	generate: func() (crypto.Signer, error) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	},
	digest:  0,
	x509Alg: x509.PureEd25519,
	matches: func(key crypto.Signer) bool {
		_, ok := key.(ed25519.PrivateKey)
		return ok
	},
}

var rsaAlgorithm = &Algorithm{
	keyType: KeyTypeRSA,
	generate: func() (crypto.Signer, error) {
		return rsa.GenerateKey(rand.Reader, rsaKeyBits)
	},
	digest:  crypto.SHA256,
	x509Alg: x509.SHA256WithRSA,
	matches: func(key crypto.Signer) bool {
		_, ok := key.(*rsa.PrivateKey)
		return ok
	},
}

// Ed25519 returns the Ed25519 algorithm descriptor.
func Ed25519() *Algorithm { return ed25519Algorithm }

// RSA returns the RSA-2048 algorithm descriptor.
func RSA() *Algorithm { return rsaAlgorithm }
