// Package fixedpoint implements 17.14 fixed-point arithmetic.
//
// A Value holds a signed 32-bit integer whose low 14 bits are the fraction.
// Multiplication and division widen to 64 bits before rescaling.
package fixedpoint

import "fmt"

// F is the scale factor (2^14).
const F = 1 << 14

// Value is a 17.14 fixed-point number.
type Value int32

// FromInt converts an integer to fixed point.
func FromInt(n int) Value {
	return Value(n * F)
}

// Int converts to an integer, truncating toward zero.
func (x Value) Int() int {
	return int(x) / F
}

// Round converts to the nearest integer. Ties round away from zero.
func (x Value) Round() int {
	if x >= 0 {
		return int((int64(x) + F/2) / F)
	}
	return int((int64(x) - F/2) / F)
}

// Add returns x + y.
func (x Value) Add(y Value) Value { return x + y }

// Sub returns x - y.
func (x Value) Sub(y Value) Value { return x - y }

// AddInt returns x + n.
func (x Value) AddInt(n int) Value { return x + Value(n*F) }

// SubInt returns x - n.
func (x Value) SubInt(n int) Value { return x - Value(n*F) }

// Mul returns x * y.
func (x Value) Mul(y Value) Value {
	return Value(int64(x) * int64(y) / F)
}

// MulInt returns x * n.
func (x Value) MulInt(n int) Value { return x * Value(n) }

// Div returns x / y.
func (x Value) Div(y Value) Value {
	return Value(int64(x) * F / int64(y))
}

// DivInt returns x / n.
func (x Value) DivInt(n int) Value { return x / Value(n) }

// Hundredths returns 100*x rounded to the nearest integer, the convention used
// when load average and recent CPU cross the kernel boundary.
func (x Value) Hundredths() int {
	return x.MulInt(100).Round()
}

// String formats x with two decimal places.
func (x Value) String() string {
	h := x.Hundredths()
	sign := ""
	if h < 0 {
		sign = "-"
		h = -h
	}
	return fmt.Sprintf("%s%d.%02d", sign, h/100, h%100)
}
