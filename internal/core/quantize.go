package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is used when an asset declares no precision.
const DefaultPrecision = 28

// divisionGuardDigits is the extra scale kept by Div before rounding to
// significant digits, so that small quotients keep their leading digits.
const divisionGuardDigits = 32

// Precision is a fixed significant-digit arithmetic context. Every result is
// rounded half-even to Digits significant digits; operands are used as-is.
type Precision struct {
	Digits int
}

func NewPrecision(digits int) Precision {
	if digits <= 0 {
		digits = DefaultPrecision
	}
	return Precision{Digits: digits}
}

func (p Precision) digits() int {
	if p.Digits <= 0 {
		return DefaultPrecision
	}
	return p.Digits
}

// Round rounds d half-even to the context's significant digits.
func (p Precision) Round(d decimal.Decimal) decimal.Decimal {
	places, ok := p.places(d)
	if !ok {
		return d
	}
	return d.RoundBank(places)
}

// RoundUp rounds d toward positive infinity at the context's significant digits.
func (p Precision) RoundUp(d decimal.Decimal) decimal.Decimal {
	places, ok := p.places(d)
	if !ok {
		return d
	}
	return d.RoundCeil(places)
}

func (p Precision) Add(a, b decimal.Decimal) decimal.Decimal {
	return p.Round(a.Add(b))
}

func (p Precision) Sub(a, b decimal.Decimal) decimal.Decimal {
	return p.Round(a.Sub(b))
}

func (p Precision) Mul(a, b decimal.Decimal) decimal.Decimal {
	return p.Round(a.Mul(b))
}

// Div returns a/b rounded to the context. Division by zero returns zero.
func (p Precision) Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return p.Round(a.DivRound(b, int32(p.digits()+divisionGuardDigits)))
}

// DivUp is Div rounded toward positive infinity.
func (p Precision) DivUp(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return p.RoundUp(a.DivRound(b, int32(p.digits()+divisionGuardDigits)))
}

// places returns the decimal places that keep Digits significant digits of d,
// or false when d already fits.
func (p Precision) places(d decimal.Decimal) (int32, bool) {
	if d.IsZero() {
		return 0, false
	}
	coef := new(big.Int).Abs(d.Coefficient())
	n := len(coef.String())
	digits := p.digits()
	if n <= digits {
		return 0, false
	}
	return -(d.Exponent() + int32(n-digits)), true
}
