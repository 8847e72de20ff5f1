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

// Package bignum wraps math/big with the arbitrary-precision operations
// used by the SPEKE key exchange: modular arithmetic, primality testing,
// safe-prime generation and uniform random sampling.
package bignum

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Common errors
var (
	ErrInvalidModulus = errors.New("modulus must be odd")
	ErrInvalidDecimal = errors.New("invalid decimal number string")
	ErrInvalidRange   = errors.New("invalid sampling range")
)

const primalityRounds = 64

// BigNum is an arbitrary-precision nonnegative integer. The zero value is
// ready to use and represents 0. Operations return new values and never
// mutate their operands.
type BigNum struct {
	v *big.Int
}

// New returns a BigNum holding 0.
func New() *BigNum {
	return &BigNum{v: new(big.Int)}
}

// FromUint64 returns a BigNum holding n.
func FromUint64(n uint64) *BigNum {
	return &BigNum{v: new(big.Int).SetUint64(n)}
}

// FromDecimal parses a base-10 number string.
func FromDecimal(s string) (*BigNum, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return &BigNum{v: v}, nil
}

// MustDecimal is FromDecimal for compile-time constants; it panics on a
// malformed string.
func MustDecimal(s string) *BigNum {
	n, err := FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FromHex parses a base-16 number string without a 0x prefix.
func FromHex(s string) (*BigNum, error) {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex number string %q", s)
	}
	return &BigNum{v: v}, nil
}

// MustHex is FromHex for compile-time constants; it panics on a malformed
// string.
func MustHex(s string) *BigNum {
	n, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FromBytes interprets b as a big-endian unsigned integer.
func FromBytes(b []byte) *BigNum {
	return &BigNum{v: new(big.Int).SetBytes(b)}
}

func (n *BigNum) int() *big.Int {
	if n.v == nil {
		return new(big.Int)
	}
	return n.v
}

// Bytes returns the big-endian byte representation. The result for 0 is an
// empty slice, matching FromBytes(nil).
func (n *BigNum) Bytes() []byte {
	return n.int().Bytes()
}

// String returns the base-10 representation.
func (n *BigNum) String() string {
	return n.int().String()
}

// Cmp compares n and m, returning -1, 0 or +1.
func (n *BigNum) Cmp(m *BigNum) int {
	return n.int().Cmp(m.int())
}

// Equal reports whether n == m.
func (n *BigNum) Equal(m *BigNum) bool {
	return n.Cmp(m) == 0
}

// IsZero reports whether n == 0.
func (n *BigNum) IsZero() bool {
	return n.int().Sign() == 0
}

// IsOdd reports whether the lowest bit of n is set.
func (n *BigNum) IsOdd() bool {
	return n.int().Bit(0) == 1
}

// IsPrime runs math/big's ProbablyPrime: Miller-Rabin rounds plus a
// Baillie-PSW test, which is exact for inputs below 2^64.
func (n *BigNum) IsPrime() bool {
	return n.int().ProbablyPrime(primalityRounds)
}

// BitLen returns the length of n in bits.
func (n *BigNum) BitLen() int {
	return n.int().BitLen()
}

// Add returns n + m.
func (n *BigNum) Add(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Add(n.int(), m.int())}
}

// Sub returns n - m.
func (n *BigNum) Sub(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Sub(n.int(), m.int())}
}

// Mul returns n * m.
func (n *BigNum) Mul(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Mul(n.int(), m.int())}
}

// Div returns n / m, truncated towards zero.
func (n *BigNum) Div(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Quo(n.int(), m.int())}
}

// Mod returns n mod m.
func (n *BigNum) Mod(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Mod(n.int(), m.int())}
}

// Exp returns n^m.
func (n *BigNum) Exp(m *BigNum) *BigNum {
	return &BigNum{v: new(big.Int).Exp(n.int(), m.int(), nil)}
}

// ModAdd returns (n + m) mod mod.
func (n *BigNum) ModAdd(m, mod *BigNum) *BigNum {
	r := new(big.Int).Add(n.int(), m.int())
	return &BigNum{v: r.Mod(r, mod.int())}
}

// ModSub returns (n - m) mod mod.
func (n *BigNum) ModSub(m, mod *BigNum) *BigNum {
	r := new(big.Int).Sub(n.int(), m.int())
	return &BigNum{v: r.Mod(r, mod.int())}
}

// ModMul returns (n * m) mod mod.
func (n *BigNum) ModMul(m, mod *BigNum) *BigNum {
	r := new(big.Int).Mul(n.int(), m.int())
	return &BigNum{v: r.Mod(r, mod.int())}
}

// ModSqr returns n² mod mod.
func (n *BigNum) ModSqr(mod *BigNum) *BigNum {
	return n.ModMul(n, mod)
}

// ModExp returns n^exp mod mod. The modulus must be odd: math/big only
// guarantees exponent-independent timing for odd moduli, and an even
// modulus is never valid in the protocols built on this package.
func (n *BigNum) ModExp(exp, mod *BigNum) (*BigNum, error) {
	if !mod.IsOdd() {
		return nil, ErrInvalidModulus
	}
	return &BigNum{v: new(big.Int).Exp(n.int(), exp.int(), mod.int())}, nil
}

// Wipe overwrites the number's backing storage with zeros. Use it to
// discard secret exponents and raw key material.
func (n *BigNum) Wipe() {
	if n.v == nil {
		return
	}
	w := n.v.Bits()
	for i := range w {
		w[i] = 0
	}
	n.v.SetInt64(0)
}

// PrimeGenerate produces a random prime of the given bit length. When safe
// is set, the result p additionally satisfies that (p-1)/2 is prime.
func PrimeGenerate(bits int, safe bool) (*BigNum, error) {
	if bits < 3 {
		return nil, fmt.Errorf("prime generation: bit length %d too small", bits)
	}
	if !safe {
		p, err := rand.Prime(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("prime generation: %w", err)
		}
		return &BigNum{v: p}, nil
	}

	one := big.NewInt(1)
	for {
		q, err := rand.Prime(rand.Reader, bits-1)
		if err != nil {
			return nil, fmt.Errorf("safe prime generation: %w", err)
		}
		// p = 2q + 1
		p := new(big.Int).Lsh(q, 1)
		p.Add(p, one)
		if p.ProbablyPrime(primalityRounds) {
			return &BigNum{v: p}, nil
		}
	}
}

// RandomBelow samples uniformly from [0, upper).
func RandomBelow(upper *BigNum) (*BigNum, error) {
	if upper.int().Sign() <= 0 {
		return nil, ErrInvalidRange
	}
	r, err := rand.Int(rand.Reader, upper.int())
	if err != nil {
		return nil, fmt.Errorf("random sampling: %w", err)
	}
	return &BigNum{v: r}, nil
}

// RandomInRange samples uniformly from the closed interval [lower, upper].
func RandomInRange(lower, upper *BigNum) (*BigNum, error) {
	if lower.Cmp(upper) > 0 {
		return nil, ErrInvalidRange
	}
	span := new(big.Int).Sub(upper.int(), lower.int())
	span.Add(span, big.NewInt(1))
	r, err := rand.Int(rand.Reader, span)
	if err != nil {
		return nil, fmt.Errorf("random sampling: %w", err)
	}
	return &BigNum{v: r.Add(r, lower.int())}, nil
}
