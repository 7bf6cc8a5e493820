// Package money pins every ledger balance and delta to a scale-2 decimal so
// no float64 ever touches an account balance.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimal places a ledger amount carries.
const Scale = 2

// Amount wraps decimal.Decimal rounded to Scale on every construction path.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a decimal.Decimal, rounding to Scale.
func New(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Scale)}
}

// FromString parses a decimal string such as "123.45".
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// FromStringStrict parses a decimal string and rejects one carrying more
// than Scale decimal places, rather than silently rounding it away — used
// by the HTTP handlers to reject over-precise amounts and deltas.
func FromStringStrict(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	if !HasProperScale(d) {
		return Amount{}, fmt.Errorf("money: %q has more than %d decimal places", s, Scale)
	}
	return Amount{d: d}, nil
}

// FromCents builds an Amount from an integer number of minor units.
func FromCents(cents int64) Amount {
	return New(decimal.New(cents, -Scale))
}

// Decimal returns the underlying decimal.Decimal.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// String renders the amount with exactly Scale decimal places.
func (a Amount) String() string { return a.d.StringFixed(Scale) }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// Negative reports whether the amount is strictly less than zero.
func (a Amount) Negative() bool { return a.d.IsNegative() }

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int { return a.d.Sign() }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return New(a.d.Add(b.d)) }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return New(a.d.Sub(b.d)) }

// Neg returns -a.
func (a Amount) Neg() Amount { return New(a.d.Neg()) }

// GreaterThan reports a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }

// LessThan reports a < b.
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }

// Equal reports a == b.
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

// HasProperScale reports whether the value, as supplied by a caller, already
// carries no more than Scale decimal places — used to reject deltas with the
// wrong scale per the INVALID_DELTA error in the balance engine protocol.
func HasProperScale(d decimal.Decimal) bool {
	return d.Round(Scale).Equal(d)
}

// MarshalJSON renders the amount as a quoted decimal string, never a JSON
// number, so clients never round-trip through binary floating point.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := FromString(s)
		if perr != nil {
			return perr
		}
		*a = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("money: cannot unmarshal %s", string(b))
	}
	*a = New(decimal.NewFromFloat(f))
	return nil
}

// Value implements driver.Valuer for pgx/database-sql parameter binding.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner for reading NUMERIC(.,2) columns back out.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case float64:
		*a = New(decimal.NewFromFloat(v))
		return nil
	case string:
		parsed, err := FromString(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := FromString(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case nil:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}
