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

// Package speke implements Simple Password Exponential Key Exchange, a
// password-authenticated Diffie-Hellman variant. Two parties that share a
// password and a safe prime derive the same symmetric key without ever
// sending the password, then prove key agreement to each other with
// key-confirmation tags.
//
// A session is one half of one exchange:
//
//	s, err := speke.New("client", password, speke.SafePrime)
//	// send s.PublicKey() and s.ID() to the peer
//	err = s.ProvideRemotePublicKeyIDPair(peerPub, peerID)
//	kcd, err := s.KeyConfirmationData()
//	// send kcd; feed the peer's tag to s.ConfirmKey
//
// After a successful ConfirmKey both parties hold the same EncryptionKey
// and can authenticate application messages with HmacSign.
package speke

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"strconv"

	"github.com/larmo-project/larmo/crypto/bignum"
)

// Protocol constants. The hash is SHA3-512 throughout; the derived key is
// sized for AES-192-GCM.
const (
	KeyLength = 24

	hkdfInfo  = "Larmo_SPEKE_HKDF"
	kcdMethod = "KC_1_U"
)

// SafePrime is the deployed exchange modulus, the 2048-bit MODP group of
// RFC 3526 §3. (p-1)/2 is prime.
var SafePrime = bignum.MustHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF")

// Common errors
var (
	ErrInvalidPrime          = errors.New("safe prime must be an odd prime")
	ErrPeerPublicKeyInvalid  = errors.New("peer public key out of range")
	ErrPeerIdentifierInvalid = errors.New("peer identifier equals the local identifier")
	ErrRemoteAlreadyProvided = errors.New("peer public key and identifier already provided")
	ErrRemoteNotProvided     = errors.New("peer public key and identifier not yet provided")
	ErrWiped                 = errors.New("speke session wiped")
)

// SPEKE is the state of one side of an exchange. It is not safe for
// concurrent use; the owning session serializes access.
type SPEKE struct {
	id               string
	idNumbered       string
	remoteIDNumbered string

	p   *bignum.BigNum // safe prime
	q   *bignum.BigNum // (p-1)/2
	gen *bignum.BigNum // H(password)^2 mod p

	privKey   *bignum.BigNum // random in [1, q-1]
	pubKey    *bignum.BigNum // gen^privKey mod p
	remotePub *bignum.BigNum

	keyingMaterial []byte
	encryptionKey  []byte
	kcd            []byte

	registry *Registry
	wiped    bool
}

// New creates a session keyed to the process-wide identifier registry.
func New(id, password string, safePrime *bignum.BigNum) (*SPEKE, error) {
	return NewWithRegistry(id, password, safePrime, DefaultRegistry)
}

// NewWithRegistry creates a session using an explicit identifier registry.
func NewWithRegistry(id, password string, safePrime *bignum.BigNum, registry *Registry) (*SPEKE, error) {
	if !safePrime.IsOdd() || safePrime.BitLen() < 3 {
		return nil, ErrInvalidPrime
	}

	s := &SPEKE{
		id:       id,
		p:        safePrime,
		q:        safePrime.Sub(bignum.FromUint64(1)).Div(bignum.FromUint64(2)),
		registry: registry,
	}

	// g = H(password)^2 mod p
	var err error
	s.gen, err = bignum.FromBytes(Hash([]byte(password))).ModExp(bignum.FromUint64(2), s.p)
	if err != nil {
		return nil, fmt.Errorf("deriving generator: %w", err)
	}

	s.privKey, err = bignum.RandomInRange(bignum.FromUint64(1), s.q.Sub(bignum.FromUint64(1)))
	if err != nil {
		return nil, fmt.Errorf("sampling private exponent: %w", err)
	}
	s.pubKey, err = s.gen.ModExp(s.privKey, s.p)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	return s, nil
}

// ID returns the caller-supplied local identifier.
func (s *SPEKE) ID() string {
	return s.id
}

// PublicKey returns the big-endian bytes of g^x mod p.
func (s *SPEKE) PublicKey() []byte {
	return s.pubKey.Bytes()
}

// ProvideRemotePublicKeyIDPair installs the peer's public value and
// identifier, stamping both identifiers with the registry counter. It must
// be called exactly once per session.
func (s *SPEKE) ProvideRemotePublicKeyIDPair(remotePub []byte, remoteID string) error {
	if s.wiped {
		return ErrWiped
	}
	if s.remotePub != nil {
		return ErrRemoteAlreadyProvided
	}
	if remoteID == s.id {
		return ErrPeerIdentifierInvalid
	}

	y := bignum.FromBytes(remotePub)
	if y.Cmp(bignum.FromUint64(2)) < 0 || y.Cmp(s.p.Sub(bignum.FromUint64(2))) > 0 {
		return ErrPeerPublicKeyInvalid
	}
	s.remotePub = y

	n := strconv.Itoa(s.registry.Next(remoteID))
	s.idNumbered = s.id + "-" + n
	s.remoteIDNumbered = remoteID + "-" + n

	return nil
}

// EncryptionKey returns the shared symmetric key, deriving it on first use.
// The key is KeyLength bytes.
func (s *SPEKE) EncryptionKey() ([]byte, error) {
	if err := s.ensureEncryptionKey(); err != nil {
		return nil, err
	}
	return s.encryptionKey, nil
}

// KeyConfirmationData returns the local key-confirmation tag,
// HMAC_K("KC_1_U" || local || remote || X || Y).
func (s *SPEKE) KeyConfirmationData() ([]byte, error) {
	if s.kcd == nil {
		tag, err := s.genKCD(s.idNumbered, s.remoteIDNumbered, s.pubKey, s.remotePub)
		if err != nil {
			return nil, err
		}
		s.kcd = tag
	}
	return s.kcd, nil
}

// ConfirmKey checks the peer's key-confirmation tag in constant time.
func (s *SPEKE) ConfirmKey(remoteKCD []byte) (bool, error) {
	expected, err := s.genKCD(s.remoteIDNumbered, s.idNumbered, s.remotePub, s.pubKey)
	if err != nil {
		return false, err
	}
	return hmac.Equal(remoteKCD, expected), nil
}

// HmacSign authenticates message with HMAC-SHA3-512 under the shared key.
func (s *SPEKE) HmacSign(message []byte) ([]byte, error) {
	if err := s.ensureEncryptionKey(); err != nil {
		return nil, err
	}
	return Sum(s.encryptionKey, message), nil
}

// ConfirmHmacSignature checks a peer signature in constant time.
func (s *SPEKE) ConfirmHmacSignature(signature, message []byte) (bool, error) {
	expected, err := s.HmacSign(message)
	if err != nil {
		return false, err
	}
	return hmac.Equal(signature, expected), nil
}

// Wipe discards the private exponent and all derived key material. The
// session is unusable afterwards.
func (s *SPEKE) Wipe() {
	if s.privKey != nil {
		s.privKey.Wipe()
	}
	zero(s.keyingMaterial)
	zero(s.encryptionKey)
	zero(s.kcd)
	s.keyingMaterial = nil
	s.encryptionKey = nil
	s.kcd = nil
	s.wiped = true
}

func (s *SPEKE) ensureKeyingMaterial() error {
	if s.wiped {
		return ErrWiped
	}
	if s.remotePub == nil {
		return ErrRemoteNotProvided
	}
	if s.keyingMaterial != nil {
		return nil
	}

	kRaw, err := s.remotePub.ModExp(s.privKey, s.p)
	if err != nil {
		return fmt.Errorf("diffie-hellman step: %w", err)
	}

	firstID, secondID := s.idNumbered, s.remoteIDNumbered
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}
	firstPub, secondPub := orderedPubKeys(s.pubKey, s.remotePub)

	rawBytes := kRaw.Bytes()
	s.keyingMaterial = Hash(
		[]byte(firstID), []byte(secondID), firstPub, secondPub, rawBytes)

	kRaw.Wipe()
	zero(rawBytes)
	return nil
}

func (s *SPEKE) ensureEncryptionKey() error {
	if s.encryptionKey != nil {
		return nil
	}
	if err := s.ensureKeyingMaterial(); err != nil {
		return err
	}

	firstPub, secondPub := orderedPubKeys(s.pubKey, s.remotePub)
	salt := append(append([]byte{}, firstPub...), secondPub...)

	key, err := DeriveKey(s.keyingMaterial, salt, []byte(hkdfInfo), KeyLength)
	if err != nil {
		return err
	}
	s.encryptionKey = key
	return nil
}

// genKCD computes HMAC_K("KC_1_U" || firstID || secondID || firstPub ||
// secondPub); the caller picks the argument order for the local and the
// expected remote tag.
func (s *SPEKE) genKCD(firstID, secondID string, firstPub, secondPub *bignum.BigNum) ([]byte, error) {
	if err := s.ensureEncryptionKey(); err != nil {
		return nil, err
	}
	return Sum(s.encryptionKey,
		[]byte(kcdMethod),
		[]byte(firstID), []byte(secondID),
		firstPub.Bytes(), secondPub.Bytes()), nil
}

func orderedPubKeys(a, b *bignum.BigNum) (first, second []byte) {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return a.Bytes(), b.Bytes()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
