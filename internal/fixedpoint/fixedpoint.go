// Package fixedpoint implements WAD-scaled (10^18) fixed-point arithmetic
// matching the on-chain contract's rounding behavior bit-for-bit: truncating
// and ceiling variants of mul/div, a fused mul-div, and a natural logarithm
// for signed WAD values used by the floating rate curve.
//
// Every operation here is pure and deterministic; there is no RPC or state
// involved. Overflow of the 512-bit intermediate product is reported as
// ErrArithmeticOverflow rather than silently wrapping, per the engine's
// AccrualError taxonomy.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// WAD is the fixed-point scale used by every monetary quantity in the
// engine: 10^18.
var WAD = big.NewInt(1e18)

// ErrArithmeticOverflow is returned when a 512-bit intermediate product
// cannot be represented, or a division by zero is attempted.
var ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")

func toU256(x *big.Int) (*uint256.Int, bool) {
	// uint256.FromBig wraps negatives to two's complement; a negative
	// operand here is always an upstream underflow, so report it instead.
	if x.Sign() < 0 {
		return nil, true
	}
	u, overflow := uint256.FromBig(x)
	return u, overflow
}

// MulDivDown computes floor(a*b/c) without rounding, matching Solidity's
// FixedPointMathLib.mulDivDown / PRBMath mulDiv.
func MulDivDown(a, b, c *big.Int) (*big.Int, error) {
	if c.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	au, aOv := toU256(a)
	bu, bOv := toU256(b)
	cu, cOv := toU256(c)
	if aOv || bOv || cOv {
		return nil, ErrArithmeticOverflow
	}
	result, overflow := new(uint256.Int).MulDivOverflow(au, bu, cu)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return result.ToBig(), nil
}

// MulDivUp computes ceil(a*b/c).
func MulDivUp(a, b, c *big.Int) (*big.Int, error) {
	down, err := MulDivDown(a, b, c)
	if err != nil {
		return nil, err
	}
	if a.Sign() == 0 || b.Sign() == 0 {
		return down, nil
	}
	// remainder = a*b mod c; round up when non-zero.
	prod := new(big.Int).Mul(a, b)
	rem := new(big.Int).Mod(prod, c)
	if rem.Sign() != 0 {
		down = new(big.Int).Add(down, big.NewInt(1))
	}
	return down, nil
}

// MulWadDown computes floor(a*b/WAD).
func MulWadDown(a, b *big.Int) (*big.Int, error) {
	return MulDivDown(a, b, WAD)
}

// MulWadUp computes ceil(a*b/WAD).
func MulWadUp(a, b *big.Int) (*big.Int, error) {
	return MulDivUp(a, b, WAD)
}

// DivWadDown computes floor(a*WAD/b).
func DivWadDown(a, b *big.Int) (*big.Int, error) {
	return MulDivDown(a, WAD, b)
}

// DivWadUp computes ceil(a*WAD/b).
func DivWadUp(a, b *big.Int) (*big.Int, error) {
	return MulDivUp(a, WAD, b)
}

func bigFromDec(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: bad constant " + s)
	}
	return v
}

// Coefficients of the (8,8)-term monic rational approximation LnWad
// evaluates in 2^96 fixed point, plus the finalization factors folding the
// range reduction and basis conversions back into a WAD result.
var (
	lnP0 = bigFromDec("3273285459638523848632254066296")
	lnP1 = bigFromDec("24828157081833163892658089445524")
	lnP2 = bigFromDec("43456485725739037958740375743393")
	lnP3 = bigFromDec("11111509109440967052023855526967")
	lnP4 = bigFromDec("45023709667254063763336534515857")
	lnP5 = bigFromDec("14706773417378608786704636184526")
	lnP6 = new(big.Int).Lsh(bigFromDec("795164235651350426258249787498"), 96)

	lnQ0 = bigFromDec("5573035233440673466300451813936")
	lnQ1 = bigFromDec("71694874799317883764090561454958")
	lnQ2 = bigFromDec("283447036172924575727196451306956")
	lnQ3 = bigFromDec("401686690394027663651624208769553")
	lnQ4 = bigFromDec("204048457590392012362485061816622")
	lnQ5 = bigFromDec("31853899698501571402653359427138")
	lnQ6 = bigFromDec("909429971244387300277376558375")

	lnScale = bigFromDec("1677202110996718588342820967067443963516166")
	lnLn2K  = bigFromDec("16597577552685614221487285958193947469193820559219878177908093499208371")
	lnBase  = bigFromDec("600920179829731861736702779321621459595472258049074101567377883020018308")
)

// LnWad returns the natural logarithm of a WAD-scaled value as a signed
// WAD, a direct port of the on-chain integer algorithm the interest rate
// model evaluates: range-reduce x into [2^96, 2^97) so
// ln(x) = k·ln2 + ln(z), evaluate the rational approximation p(z)/q(z) in
// 2^96 fixed point, then fold the reduction term and basis conversions
// back in. Bit-identical to the contract for every positive 256-bit input.
//
// x must be strictly positive; LnWad(WAD) == 0.
func LnWad(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, ErrArithmeticOverflow
	}

	k := x.BitLen() - 97
	z := new(big.Int)
	if k >= 0 {
		z.Rsh(x, uint(k))
	} else {
		z.Lsh(x, uint(-k))
	}

	// p is left in 2^192 basis so the division needs no scale-up.
	p := new(big.Int).Add(z, lnP0)
	p.Mul(p, z).Rsh(p, 96).Add(p, lnP1)
	p.Mul(p, z).Rsh(p, 96).Add(p, lnP2)
	p.Mul(p, z).Rsh(p, 96).Sub(p, lnP3)
	p.Mul(p, z).Rsh(p, 96).Sub(p, lnP4)
	p.Mul(p, z).Rsh(p, 96).Sub(p, lnP5)
	p.Mul(p, z).Sub(p, lnP6)

	q := new(big.Int).Add(z, lnQ0)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ1)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ2)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ3)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ4)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ5)
	q.Mul(q, z).Rsh(q, 96).Add(q, lnQ6)

	// q has no zeros on the reduced domain; Quo truncates toward zero the
	// way the contract's sdiv does.
	r := new(big.Int).Quo(p, q)

	r.Mul(r, lnScale)
	r.Add(r, new(big.Int).Mul(lnLn2K, big.NewInt(int64(k))))
	r.Add(r, lnBase)
	r.Rsh(r, 174)
	if r.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return r, nil
}
