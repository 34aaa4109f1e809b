// Package decimal provides the fixed-point type used on every ledger path:
// prices, sizes, fees, and PnL. Floating point never appears here.
package decimal

import (
	"encoding/json"
	"fmt"

	shopspring "github.com/shopspring/decimal"
)

// Rounding selects how a Decimal is rounded when reducing to a target scale.
type Rounding int

const (
	HalfEven Rounding = iota
	HalfUp
	Down
)

// DefaultScale is used whenever a caller does not specify one explicitly.
const DefaultScale = 8

// Decimal wraps shopspring/decimal, taking an explicit scale and rounding
// mode wherever a value is divided or rounded, and removes NaN and silent
// division by zero from the API.
type Decimal struct {
	d shopspring.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: shopspring.Zero}

// New builds a Decimal from an integer mantissa and base-10 exponent, e.g.
// New(12345, -2) == 123.45.
func New(value int64, exp int32) Decimal {
	return Decimal{d: shopspring.New(value, exp)}
}

// NewFromInt builds a Decimal from a plain integer.
func NewFromInt(value int64) Decimal {
	return Decimal{d: shopspring.NewFromInt(value)}
}

// Parse parses a base-10 string. Returns an error for malformed input;
// never returns NaN.
func Parse(s string) (Decimal, error) {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustParse is Parse but panics on error; reserved for constants in tests
// and config defaults, never for values derived from external input.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) String() string { return d.d.String() }

// StringFixed formats with exactly `places` digits after the decimal point.
func (d Decimal) StringFixed(places int32) string { return d.d.StringFixed(places) }

func (d Decimal) Add(o Decimal) Decimal { return Decimal{d: d.d.Add(o.d)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d)} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{d: d.d.Mul(o.d)} }
func (d Decimal) Neg() Decimal          { return Decimal{d: d.d.Neg()} }
func (d Decimal) Abs() Decimal          { return Decimal{d: d.d.Abs()} }

// ErrDivisionByZero is returned by Div when the divisor is zero.
var ErrDivisionByZero = fmt.Errorf("decimal: division by zero")

// Div divides to DefaultScale using HalfEven rounding. Use DivRound for
// explicit control.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	return d.DivRound(o, DefaultScale, HalfEven)
}

// DivRound divides and rounds the quotient to `scale` digits using `mode`.
// Internally divides to a few guard digits beyond scale before rounding, so
// the final rounding decision reflects the true quotient rather than an
// already-truncated intermediate.
func (d Decimal) DivRound(o Decimal, scale int32, mode Rounding) (Decimal, error) {
	if o.d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	const guardDigits = 4
	q := d.d.DivRound(o.d, scale+guardDigits)
	return Decimal{d: q}.Round(scale, mode), nil
}

// Round reduces to `scale` digits using the given rounding mode.
func (d Decimal) Round(scale int32, mode Rounding) Decimal {
	switch mode {
	case HalfUp:
		return Decimal{d: d.d.Round(scale)}
	case Down:
		return Decimal{d: d.d.Truncate(scale)}
	default:
		return Decimal{d: d.d.RoundBank(scale)}
	}
}

func (d Decimal) Cmp(o Decimal) int          { return d.d.Cmp(o.d) }
func (d Decimal) Equal(o Decimal) bool       { return d.d.Equal(o.d) }
func (d Decimal) LessThan(o Decimal) bool    { return d.d.LessThan(o.d) }
func (d Decimal) LessOrEqual(o Decimal) bool { return d.d.LessThanOrEqual(o.d) }
func (d Decimal) GreaterThan(o Decimal) bool { return d.d.GreaterThan(o.d) }
func (d Decimal) GreaterOrEqual(o Decimal) bool {
	return d.d.GreaterThanOrEqual(o.d)
}
func (d Decimal) IsZero() bool     { return d.d.IsZero() }
func (d Decimal) IsPositive() bool { return d.d.IsPositive() }
func (d Decimal) IsNegative() bool { return d.d.IsNegative() }
func (d Decimal) Sign() int        { return d.d.Sign() }

func (d Decimal) Float64() float64 {
	f, _ := d.d.Float64()
	return f
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.d.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// fall back to numeric literal form, e.g. unquoted 1.5
		var raw shopspring.Decimal
		if err2 := json.Unmarshal(data, &raw); err2 != nil {
			return fmt.Errorf("decimal: unmarshal: %w", err)
		}
		d.d = raw
		return nil
	}
	parsed, err := shopspring.NewFromString(s)
	if err != nil {
		return fmt.Errorf("decimal: unmarshal %q: %w", s, err)
	}
	d.d = parsed
	return nil
}

// Min returns the lesser of a and b.
func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the greater of a and b.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
