package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ─── Money ──────────────────────────────────────────────────────────────────
// Amounts are parsed and rounded once, at the ingestion boundary.
// Everything downstream compares exact decimals.

// MoneyScale is the number of decimal places kept for every amount.
const MoneyScale = 2

// Money is a signed decimal amount in the account currency.
type Money struct {
	d decimal.Decimal
}

// ParseMoney parses s and rounds it half away from zero to MoneyScale places.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Money{d: d.Round(MoneyScale)}, nil
}

// MustMoney is ParseMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromDecimal wraps d, applying the boundary rounding.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyScale)}
}

// Decimal exposes the underlying value for arithmetic.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }
func (m Money) IsPositive() bool { return m.d.IsPositive() }
func (m Money) IsZero() bool { return m.d.IsZero() }
func (m Money) String() string { return m.d.StringFixed(MoneyScale) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// MarshalJSON encodes the amount as a fixed-scale string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number. null reads
// as zero, like a NULL column.
func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Money{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as TEXT so SQLite never rounds it through a float.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads an amount stored by Value.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return m.scanString(v)
	case []byte:
		return m.scanString(string(v))
	case nil:
		*m = Money{}
		return nil
	default:
		return fmt.Errorf("scan money: unsupported type %T", src)
	}
}

func (m *Money) scanString(s string) error {
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
