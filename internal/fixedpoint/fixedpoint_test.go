package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad literal: " + s)
	}
	return v
}

func TestMulWadDown(t *testing.T) {
	t.Run("one times wad is identity", func(t *testing.T) {
		got, err := MulWadDown(WAD, bi("123456789000000000000"))
		require.NoError(t, err)
		assert.Equal(t, bi("123456789000000000000"), got)
	})

	t.Run("truncates toward zero", func(t *testing.T) {
		// (1.5e18 + 1) * 2 / 3 leaves a remainder, so the result truncates down to 1e18.
		a := bi("1500000000000000001")
		b := bi("2")
		got, err := MulDivDown(a, b, bi("3"))
		require.NoError(t, err)
		assert.Equal(t, bi("1000000000000000000"), got)
	})

	t.Run("multiplying by zero does not error", func(t *testing.T) {
		_, err := MulWadDown(bi("1"), bi("0"))
		require.NoError(t, err)
	})

	t.Run("division by zero errors", func(t *testing.T) {
		_, err := MulDivDown(bi("1"), bi("1"), bi("0"))
		assert.ErrorIs(t, err, ErrArithmeticOverflow)
	})
}

func TestMulDivUpRoundsAwayFromZero(t *testing.T) {
	down, err := MulDivDown(bi("10"), bi("1"), bi("3"))
	require.NoError(t, err)
	up, err := MulDivUp(bi("10"), bi("1"), bi("3"))
	require.NoError(t, err)

	assert.Equal(t, bi("3"), down)
	assert.Equal(t, bi("4"), up)
}

func TestMulDivUpExactNoRoundingAdded(t *testing.T) {
	up, err := MulDivUp(bi("9"), bi("1"), bi("3"))
	require.NoError(t, err)
	assert.Equal(t, bi("3"), up)
}

func TestMulWadUpExceedsDownByAtMostOne(t *testing.T) {
	cases := [][2]string{
		{"1", "1"},
		{"1500000000000000001", "333333333333333333"},
		{"999999999999999999", "1000000000000000001"},
		{"123456789123456789", "987654321987654321"},
	}
	for _, c := range cases {
		a, b := bi(c[0]), bi(c[1])
		down, err := MulWadDown(a, b)
		require.NoError(t, err)
		up, err := MulWadUp(a, b)
		require.NoError(t, err)

		assert.True(t, down.Cmp(up) <= 0, "a=%s b=%s", a, b)
		diff := new(big.Int).Sub(up, down)
		assert.True(t, diff.Cmp(big.NewInt(1)) <= 0, "a=%s b=%s", a, b)
	}
}

func TestMulDivRejectsNegativeOperands(t *testing.T) {
	_, err := MulDivDown(bi("-1"), bi("1"), bi("1"))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	_, err = MulDivDown(bi("1"), bi("-1"), bi("1"))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestDivWadRoundTrip(t *testing.T) {
	a := bi("3141592653589793238")
	b := bi("2000000000000000000")

	down, err := DivWadDown(a, b)
	require.NoError(t, err)
	up, err := DivWadUp(a, b)
	require.NoError(t, err)

	assert.True(t, down.Cmp(up) <= 0)
	diff := new(big.Int).Sub(up, down)
	assert.True(t, diff.Cmp(big.NewInt(1)) <= 0)
}

func TestLnWadIdentity(t *testing.T) {
	got, err := LnWad(WAD)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), got)
}

func TestLnWadMatchesOnChainFixtures(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"2000000000000000000", "693147180559945309"},   // ln(2)
		{"500000000000000000", "-693147180559945310"},   // ln(0.5)
		{"1200000000000000000", "182321556793954626"},   // ln(1.2)
		{"10000000000000000000", "2302585092994045683"}, // ln(10)
		{"1000000000000", "-13815510557964274105"},      // ln(1e-6)
	}
	for _, c := range cases {
		got, err := LnWad(bi(c.in))
		require.NoError(t, err)
		assert.Equal(t, bi(c.out), got, "lnWad(%s)", c.in)
	}
}

func TestLnWadMonotonic(t *testing.T) {
	low, err := LnWad(bi("500000000000000000"))
	require.NoError(t, err)
	high, err := LnWad(bi("2000000000000000000"))
	require.NoError(t, err)
	assert.True(t, low.Cmp(high) < 0)
}

func TestLnWadNonPositiveErrors(t *testing.T) {
	_, err := LnWad(big.NewInt(0))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	_, err = LnWad(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}
