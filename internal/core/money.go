// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer cents. Parsing and percentage maths go through
// shopspring/decimal so no float rounding leaks into stored values.
package core

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative amount in a single currency, stored as cents.
type Money struct {
	Cents int64
}

var (
	hundred  = decimal.NewFromInt(100)
	maxMoney = decimal.New(1<<62, -2)
)

// ParseAmount converts a decimal string to Money.
//
// Dot (12.34) is the decimal separator. A comma is read as the separator
// only when it is the sole one and at most two digits follow it (12,34), so
// grouped input such as "1,000" is rejected instead of misread. More than two
// significant decimals, negative, empty or non-numeric input fails with
// ErrInvalidAmount. Zero is valid.
//
// Examples:
//
//	ParseAmount("400")     -> 40000 cents
//	ParseAmount("12,5")    -> 1250 cents
//	ParseAmount("1,000")   -> ErrInvalidAmount
//	ParseAmount("12.345")  -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		frac := s[i+1:]
		if strings.ContainsAny(frac, ",.") || strings.Contains(s[:i], ".") || len(frac) == 0 || len(frac) > 2 {
			return Money{}, ErrInvalidAmount
		}
		s = s[:i] + "." + frac
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts d to cents. Amounts finer than a cent are
// rejected rather than rounded.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() || d.GreaterThan(maxMoney) || !d.Equal(d.Truncate(2)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Shift(2).IntPart()}, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Add returns m+o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// String formats the amount with two decimals, e.g. "400.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(b []byte) error {
	var raw json.Number
	if err := json.Unmarshal(b, &raw); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ErrInvalidAmount
		}
		raw = json.Number(s)
	}
	parsed, err := ParseAmount(raw.String())
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
