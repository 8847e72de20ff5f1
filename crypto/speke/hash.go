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

package speke

import (
	"crypto/hmac"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// Hash returns the SHA3-512 digest of the concatenation of parts.
func Hash(parts ...[]byte) []byte {
	d := sha3.New512()
	for _, p := range parts {
		d.Write(p)
	}
	return d.Sum(nil)
}

// Sum returns the HMAC-SHA3-512 tag over the concatenation of parts.
func Sum(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha3.New512, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// DeriveKey runs HKDF-SHA3-512 extract-and-expand over ikm and returns
// length bytes of output keying material.
func DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	key := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha3.New512, ikm, salt, info), key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}
