// Package money provides the decimal amount type shared by every balance,
// order volume, and minimum-order-size value in the liquidation agent.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is an arbitrary-precision decimal quantity. The exchange sends
// every numeric value as a JSON string; Amount round-trips through that
// representation without losing precision.
type Amount struct {
	decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

// New wraps a decimal.Decimal as an Amount.
func New(d decimal.Decimal) Amount {
	return Amount{d}
}

// Parse parses a decimal string such as "0.00123400" into an Amount.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

// MustParse panics on an invalid string; used only for compile-time-known
// constants in tests and static tables.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Decimal.IsZero()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.Decimal.IsPositive()
}

// LessThan reports whether a < other.
func (a Amount) LessThan(other Amount) bool {
	return a.Decimal.LessThan(other.Decimal)
}

// GreaterThanOrEqual reports whether a >= other.
func (a Amount) GreaterThanOrEqual(other Amount) bool {
	return a.Decimal.GreaterThanOrEqual(other.Decimal)
}

// Sub returns a - other.
func (a Amount) Sub(other Amount) Amount {
	return Amount{a.Decimal.Sub(other.Decimal)}
}

// Add returns a + other.
func (a Amount) Add(other Amount) Amount {
	return Amount{a.Decimal.Add(other.Decimal)}
}

// Min returns the lesser of a and other.
func (a Amount) Min(other Amount) Amount {
	if a.LessThan(other) {
		return a
	}
	return other
}

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	return Amount{a.Decimal.Abs()}
}

// String renders the amount with trailing zeros trimmed, matching the
// form the exchange expects in order-placement request bodies.
func (a Amount) String() string {
	return a.Decimal.String()
}

// MarshalJSON encodes the amount as a JSON string (not a bare number) to
// match the exchange's own wire format.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Decimal.String())
}

// UnmarshalJSON accepts both a JSON string and a bare JSON number, since
// different exchange endpoints are inconsistent about quoting.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("money: invalid amount %q: %w", s, err)
		}
		a.Decimal = d
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("money: amount is neither string nor number: %w", err)
	}
	a.Decimal = decimal.NewFromFloat(f)
	return nil
}
