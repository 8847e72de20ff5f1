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

// Package certs holds the X.509 lifecycle primitives used by the
// certificate exchange: certificates, PKCS#10 signing requests, and the
// embedded certificate authority that mints client certificates.
package certs

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/larmo-project/larmo/crypto/keys"
)

// Common errors
var (
	ErrNotSigned  = errors.New("certificate is not signed")
	ErrInvalidPEM = errors.New("no certificate PEM block found")
)

const pemTypeCertificate = "CERTIFICATE"

// Certificate is an X.509 v3 certificate. A freshly constructed one is an
// unsigned template; Sign (or CertificateAuthority.Certify) produces the
// sealed form that can be serialized and verified.
type Certificate struct {
	template *x509.Certificate
	signed   *x509.Certificate
	der      []byte
}

// NewCertificate builds an unsigned certificate for the given key's public
// half, valid from now for the given number of days.
func NewCertificate(kp *keys.KeyPair, name Name, days int) *Certificate {
	notBefore := time.Now().UTC()
	return &Certificate{
		template: &x509.Certificate{
			SerialNumber:       big.NewInt(0),
			Subject:            name.toPkix(),
			NotBefore:          notBefore,
			NotAfter:           notBefore.Add(time.Duration(days) * 24 * time.Hour),
			PublicKey:          kp.Public(),
			SignatureAlgorithm: kp.Algorithm().X509SignatureAlgorithm(),
		},
	}
}

// Sign self-signs the certificate in place with the issuer key pair and
// its digest policy. The subject becomes the issuer.
func (c *Certificate) Sign(issuer *keys.KeyPair) error {
	c.template.SignatureAlgorithm = issuer.Algorithm().X509SignatureAlgorithm()
	der, err := x509.CreateCertificate(
		rand.Reader, c.template, c.template, c.template.PublicKey, issuer.Signer())
	if err != nil {
		return fmt.Errorf("signing certificate: %w", err)
	}
	return c.setSigned(der)
}

func (c *Certificate) setSigned(der []byte) error {
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parsing signed certificate: %w", err)
	}
	c.signed = parsed
	c.der = der
	return nil
}

// Verify reports whether the certificate's signature validates against the
// issuer key pair. An unsigned certificate fails with ErrNotSigned.
func (c *Certificate) Verify(issuer *keys.KeyPair) (bool, error) {
	if c.signed == nil {
		return false, ErrNotSigned
	}
	verifier := x509.Certificate{PublicKey: issuer.Public()}
	err := verifier.CheckSignature(
		c.signed.SignatureAlgorithm, c.signed.RawTBSCertificate, c.signed.Signature)
	return err == nil, nil
}

// VerifyIssuedBy reports whether the certificate's signature validates
// against the issuer certificate's public key.
func (c *Certificate) VerifyIssuedBy(issuer *Certificate) (bool, error) {
	if c.signed == nil || issuer.signed == nil {
		return false, ErrNotSigned
	}
	err := issuer.signed.CheckSignature(
		c.signed.SignatureAlgorithm, c.signed.RawTBSCertificate, c.signed.Signature)
	return err == nil, nil
}

// ToDer returns the DER encoding of the signed certificate.
func (c *Certificate) ToDer() ([]byte, error) {
	if c.der == nil {
		return nil, ErrNotSigned
	}
	return c.der, nil
}

// FromDer parses a signed certificate from its DER encoding.
func FromDer(der []byte) (*Certificate, error) {
	c := &Certificate{}
	if err := c.setSigned(der); err != nil {
		return nil, err
	}
	return c, nil
}

// ToString returns the PEM text of the signed certificate.
func (c *Certificate) ToString() (string, error) {
	der, err := c.ToDer()
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})), nil
}

// FromPem parses a signed certificate from PEM text.
func FromPem(pemStr string) (*Certificate, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != pemTypeCertificate {
		return nil, ErrInvalidPEM
	}
	return FromDer(block.Bytes)
}

// Serialize writes the certificate PEM to path.
func (c *Certificate) Serialize(path string) error {
	pemStr, err := c.ToString()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(pemStr), 0o644); err != nil {
		return fmt.Errorf("writing certificate file: %w", err)
	}
	return nil
}

// Deserialize reads a certificate PEM file.
func Deserialize(path string) (*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	return FromPem(string(data))
}

// GetSubjectName returns the subject attributes in order.
func (c *Certificate) GetSubjectName() Name {
	if c.signed != nil {
		return nameFromPkix(c.signed.Subject)
	}
	return nameFromPkix(c.template.Subject)
}

// GetIssuerName returns the issuer attributes in order.
func (c *Certificate) GetIssuerName() Name {
	if c.signed != nil {
		return nameFromPkix(c.signed.Issuer)
	}
	return nameFromPkix(c.template.Issuer)
}

// SerialNumber returns the certificate serial.
func (c *Certificate) SerialNumber() *big.Int {
	if c.signed != nil {
		return c.signed.SerialNumber
	}
	return c.template.SerialNumber
}

// NotAfter returns the end of the validity window.
func (c *Certificate) NotAfter() time.Time {
	if c.signed != nil {
		return c.signed.NotAfter
	}
	return c.template.NotAfter
}

// GetHash returns the SHA-256 digest of the DER encoding. Peers use it to
// confirm they hold the same root certificate.
func (c *Certificate) GetHash() ([]byte, error) {
	der, err := c.ToDer()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	return sum[:], nil
}
