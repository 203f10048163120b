// Package divisor provides exact software division and modulo by a runtime
// uint64 divisor.
//
// The set count of an artifact is odd and only known at load time, so the
// hot lookup path cannot use a compile-time constant divisor. A Divisor
// precomputes a Robison-style reciprocal so that both quotient and remainder
// cost a 128-bit product, a shift and a subtract. Results are exact over the
// entire uint64 input range.
package divisor

import "math/bits"

// Divisor is a precomputed reciprocal for a fixed uint64 divisor.
// The zero value divides by zero and returns 0 / m from Div / Mod.
type Divisor struct {
	val uint64
	fac uint64
	tip uint64
	sft uint
}

// New precomputes the reciprocal for n.
func New(n uint64) Divisor {
	d := Divisor{val: n}
	if n == 0 {
		return d
	}
	d.sft = 63
	m := uint64(1) << 63
	for ; m > n; m >>= 1 {
		d.sft--
	}
	d.fac = ^uint64(0)
	d.tip = ^uint64(0)
	if m == n {
		// Power of two: saturated factor reduces Div to a plain shift.
		return d
	}
	d.fac, _ = bits.Div64(m, 0, n)
	r := d.fac*n + n
	if r <= m {
		d.fac++
		d.tip = 0
	} else {
		d.tip = d.fac
	}
	return d
}

// Value returns the divisor.
func (d Divisor) Value() uint64 {
	return d.val
}

// Div returns m / d.
func (d Divisor) Div(m uint64) uint64 {
	hi, lo := bits.Mul64(d.fac, m)
	_, carry := bits.Add64(lo, d.tip, 0)
	return (hi + carry) >> d.sft
}

// Mod returns m % d.
func (d Divisor) Mod(m uint64) uint64 {
	return m - d.val*d.Div(m)
}
