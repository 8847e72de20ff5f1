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
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/larmo-project/larmo/crypto/keys"
)

const pemTypeCertificateRequest = "CERTIFICATE REQUEST"

// CertificateRequest is a PKCS#10 certificate signing request. It is
// signed and sealed on construction; there is no way to alter it
// afterwards.
type CertificateRequest struct {
	req *x509.CertificateRequest
	der []byte
}

// NewRequest builds and self-signs a CSR for the key pair.
func NewRequest(kp *keys.KeyPair, name Name) (*CertificateRequest, error) {
	template := x509.CertificateRequest{
		Subject:            name.toPkix(),
		SignatureAlgorithm: kp.Algorithm().X509SignatureAlgorithm(),
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, kp.Signer())
	if err != nil {
		return nil, fmt.Errorf("creating certificate request: %w", err)
	}
	return RequestFromDER(der)
}

// RequestFromDER parses a DER-encoded CSR.
func RequestFromDER(der []byte) (*CertificateRequest, error) {
	req, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate request: %w", err)
	}
	return &CertificateRequest{req: req, der: der}, nil
}

// ToDER returns the DER encoding.
func (r *CertificateRequest) ToDER() []byte {
	return r.der
}

// ToPemFile writes the CSR PEM to path.
func (r *CertificateRequest) ToPemFile(path string) error {
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificateRequest, Bytes: r.der})
	if err := os.WriteFile(path, pemBytes, 0o644); err != nil {
		return fmt.Errorf("writing certificate request file: %w", err)
	}
	return nil
}

// RequestFromPemFile reads a CSR PEM file.
func RequestFromPemFile(path string) (*CertificateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate request file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeCertificateRequest {
		return nil, ErrInvalidPEM
	}
	return RequestFromDER(block.Bytes)
}

// Subject returns the requested subject attributes in order.
func (r *CertificateRequest) Subject() Name {
	return nameFromPkix(r.req.Subject)
}

// PublicKey returns the requesting public key.
func (r *CertificateRequest) PublicKey() crypto.PublicKey {
	return r.req.PublicKey
}

// CheckSignature verifies the CSR's self-signature.
func (r *CertificateRequest) CheckSignature() error {
	return r.req.CheckSignature()
}
