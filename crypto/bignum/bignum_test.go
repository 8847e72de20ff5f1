package bignum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimal(t *testing.T) {
	n, err := FromDecimal("2692367")
	require.NoError(t, err)
	assert.Equal(t, "2692367", n.String())

	_, err = FromDecimal("not a number")
	assert.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestBytesRoundTrip(t *testing.T) {
	cases := []string{"0", "1", "255", "256", "2692367",
		"123456789012345678901234567890123456789012345678901234567890"}
	for _, c := range cases {
		n := MustDecimal(c)
		assert.Equal(t, 0, n.Cmp(FromBytes(n.Bytes())), "round trip of %s", c)
	}
}

func TestArithmetic(t *testing.T) {
	a := FromUint64(100)
	b := FromUint64(7)

	assert.Equal(t, "107", a.Add(b).String())
	assert.Equal(t, "93", a.Sub(b).String())
	assert.Equal(t, "700", a.Mul(b).String())
	assert.Equal(t, "14", a.Div(b).String())
	assert.Equal(t, "2", a.Mod(b).String())
	assert.Equal(t, "10000000000000", FromUint64(10).Exp(FromUint64(13)).String())

	// operands are not mutated
	assert.Equal(t, "100", a.String())
	assert.Equal(t, "7", b.String())
}

func TestModularArithmetic(t *testing.T) {
	mod := FromUint64(13)

	assert.Equal(t, "4", FromUint64(10).ModAdd(FromUint64(7), mod).String())
	assert.Equal(t, "3", FromUint64(10).ModSub(FromUint64(7), mod).String())
	assert.Equal(t, "5", FromUint64(10).ModMul(FromUint64(7), mod).String())
	assert.Equal(t, "9", FromUint64(10).ModSqr(mod).String())
}

func TestModExp(t *testing.T) {
	r, err := FromUint64(4).ModExp(FromUint64(13), FromUint64(497))
	require.NoError(t, err)
	assert.Equal(t, "445", r.String())

	_, err = FromUint64(4).ModExp(FromUint64(13), FromUint64(496))
	assert.ErrorIs(t, err, ErrInvalidModulus)
}

func TestPredicates(t *testing.T) {
	assert.True(t, FromUint64(2692367).IsPrime())
	assert.False(t, FromUint64(2692365).IsPrime())
	assert.True(t, FromUint64(3).IsOdd())
	assert.False(t, FromUint64(4).IsOdd())
	assert.True(t, New().IsZero())
	assert.False(t, FromUint64(1).IsZero())
}

func TestPrimeGenerate(t *testing.T) {
	p, err := PrimeGenerate(64, false)
	require.NoError(t, err)
	assert.True(t, p.IsPrime())
	assert.Equal(t, 64, p.BitLen())
}

func TestPrimeGenerateSafe(t *testing.T) {
	p, err := PrimeGenerate(64, true)
	require.NoError(t, err)
	require.True(t, p.IsPrime())

	q := p.Sub(FromUint64(1)).Div(FromUint64(2))
	assert.True(t, q.IsPrime(), "(p-1)/2 must be prime for a safe prime")
}

func TestRandomBelow(t *testing.T) {
	upper := FromUint64(10)
	for i := 0; i < 200; i++ {
		r, err := RandomBelow(upper)
		require.NoError(t, err)
		assert.True(t, r.Cmp(upper) < 0)
		assert.True(t, r.Cmp(New()) >= 0)
	}

	_, err := RandomBelow(New())
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRandomInRange(t *testing.T) {
	lower, upper := FromUint64(5), FromUint64(8)
	seen := map[string]bool{}
	for i := 0; i < 400; i++ {
		r, err := RandomInRange(lower, upper)
		require.NoError(t, err)
		assert.True(t, r.Cmp(lower) >= 0)
		assert.True(t, r.Cmp(upper) <= 0)
		seen[r.String()] = true
	}
	// both closed bounds must be reachable
	assert.True(t, seen["5"])
	assert.True(t, seen["8"])

	_, err := RandomInRange(upper, lower)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestWipe(t *testing.T) {
	n := MustDecimal("123456789012345678901234567890")
	n.Wipe()
	assert.True(t, n.IsZero())
}
