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

package certs

import (
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/larmo-project/larmo/crypto/keys"
)

// ErrMalformedRequest rejects CSRs that are unsigned, tampered with, carry
// no subject or public key, or request extensions.
var ErrMalformedRequest = errors.New("malformed certificate request")

// DefaultRootDays is the validity of a freshly generated root certificate.
const DefaultRootDays = 3650

// CertificateAuthority owns a self-signed root certificate, its key pair
// and a monotonic serial counter. It is safe for concurrent Certify calls.
type CertificateAuthority struct {
	keyPair *keys.KeyPair
	root    *Certificate

	mu         sync.Mutex
	nextSerial int64
}

// NewAuthority creates an authority with a fresh self-signed root valid
// for the given number of days.
func NewAuthority(name Name, kp *keys.KeyPair, days int) (*CertificateAuthority, error) {
	root := NewCertificate(kp, name, days)
	root.template.Issuer = root.template.Subject
	root.template.BasicConstraintsValid = true
	root.template.IsCA = true
	if err := root.Sign(kp); err != nil {
		return nil, fmt.Errorf("self-signing root certificate: %w", err)
	}
	return &CertificateAuthority{keyPair: kp, root: root, nextSerial: 1}, nil
}

// LoadAuthority reconstructs an authority from an existing root
// certificate and its key pair. The serial counter restarts at 1; serial
// persistence across restarts is not supported.
func LoadAuthority(root *Certificate, kp *keys.KeyPair) (*CertificateAuthority, error) {
	ok, err := root.Verify(kp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("root certificate is not signed by the given key pair")
	}
	return &CertificateAuthority{keyPair: kp, root: root, nextSerial: 1}, nil
}

// RootCertificate returns the self-signed root.
func (ca *CertificateAuthority) RootCertificate() *Certificate {
	return ca.root
}

// KeyPair returns the authority's signing key pair.
func (ca *CertificateAuthority) KeyPair() *keys.KeyPair {
	return ca.keyPair
}

// Certify mints a certificate from the CSR's subject and public key,
// issued by the authority, valid for the given number of days. CSR
// extensions are rejected rather than silently dropped.
func (ca *CertificateAuthority) Certify(req *CertificateRequest, days int) (*Certificate, error) {
	if err := ca.validate(req); err != nil {
		return nil, err
	}

	ca.mu.Lock()
	serial := ca.nextSerial
	ca.nextSerial++
	ca.mu.Unlock()

	notBefore := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:       big.NewInt(serial),
		Subject:            req.req.Subject,
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(time.Duration(days) * 24 * time.Hour),
		SignatureAlgorithm: ca.keyPair.Algorithm().X509SignatureAlgorithm(),
	}

	der, err := x509.CreateCertificate(
		rand.Reader, template, ca.root.signed, req.PublicKey(), ca.keyPair.Signer())
	if err != nil {
		return nil, fmt.Errorf("signing certificate for %v: %w", req.Subject(), err)
	}
	return FromDer(der)
}

func (ca *CertificateAuthority) validate(req *CertificateRequest) error {
	if req == nil || req.req == nil {
		return ErrMalformedRequest
	}
	if len(req.Subject()) == 0 {
		return fmt.Errorf("%w: empty subject", ErrMalformedRequest)
	}
	if req.PublicKey() == nil {
		return fmt.Errorf("%w: no public key", ErrMalformedRequest)
	}
	if err := req.CheckSignature(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(req.req.ExtraExtensions) > 0 || len(req.req.Extensions) > 0 {
		return fmt.Errorf("%w: extensions are not supported", ErrMalformedRequest)
	}
	return nil
}
