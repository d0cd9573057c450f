package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity of an asset in its smallest unit
// (wei for the native currency, base units for tokens). The zero value is 0.
// Arithmetic helpers never mutate their operands.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 string (or a 0x-prefixed hex string).
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	var a Amount
	if s == "" {
		return a, fmt.Errorf("amount: empty string")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if err := a.v.SetFromHex(s); err != nil {
			return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
		}
		return a, nil
	}
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return a, nil
}

// MustParseAmount is ParseAmount for constants; it panics on malformed input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is 0.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Eq reports whether a and b are equal.
func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b and reports whether the sum overflowed 256 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// Sub returns a-b and reports whether it underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	_, underflow := out.v.SubOverflow(&a.v, &b.v)
	return out, underflow
}

// MulUint64 returns a*n and reports whether the product overflowed.
func (a Amount) MulUint64(n uint64) (Amount, bool) {
	var out Amount
	var m uint256.Int
	m.SetUint64(n)
	_, overflow := out.v.MulOverflow(&a.v, &m)
	return out, overflow
}

// DivUint64 returns floor(a/n). Division by zero yields zero.
func (a Amount) DivUint64(n uint64) Amount {
	var out Amount
	var d uint256.Int
	d.SetUint64(n)
	out.v.Div(&a.v, &d)
	return out
}

// ModUint64 returns a mod n. Modulo by zero yields zero.
func (a Amount) ModUint64(n uint64) Amount {
	var out Amount
	var d uint256.Int
	d.SetUint64(n)
	out.v.Mod(&a.v, &d)
	return out
}

// String renders the amount in base 10.
func (a Amount) String() string { return a.v.Dec() }

// MarshalJSON renders a as a quoted base-10 string so no precision is lost
// in JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v.Dec())
}

// UnmarshalJSON accepts a quoted decimal or hex string, or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	s = strings.Trim(s, `"`)
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer so amounts bind as NUMERIC text.
func (a Amount) Value() (driver.Value, error) {
	return a.v.Dec(), nil
}

// Scan implements sql.Scanner for NUMERIC columns read as text.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := ParseAmount(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("amount: negative value %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	default:
		return fmt.Errorf("amount: unsupported scan type %T", src)
	}
}
