package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxMessageLength bounds a money request message, in characters.
const MaxMessageLength = 500

// Bounds checked before any big-int work. int64 holds at most 19 digits.
const (
	maxAmountLength   = 32
	maxAmountExponent = 18
	maxAmountDigits   = 19
)

// ParseAmount reads a JSON number or numeric string as minor units.
// Anything that is not an exact integer representable as int64 is rejected,
// so "12.50" and "1e-2" fail while "1250" and "1.25e3" pass.
func ParseAmount(raw string) (int64, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return 0, Wrap(ErrInvalidAmount, fmt.Errorf("amount is required"))
	}
	if len(raw) > maxAmountLength {
		return 0, Wrap(ErrInvalidAmount, fmt.Errorf("amount has %d characters, limit %d", len(raw), maxAmountLength))
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, Wrap(ErrInvalidAmount, err)
	}
	exp := int(d.Exponent())
	if exp > maxAmountExponent || exp < -maxAmountExponent || d.NumDigits()+exp > maxAmountDigits {
		return 0, Wrap(ErrInvalidAmount, fmt.Errorf("%q out of range", raw))
	}
	if !d.IsInteger() {
		return 0, Wrap(ErrInvalidAmount, fmt.Errorf("fractional minor units in %q", raw))
	}
	if !d.BigInt().IsInt64() {
		return 0, Wrap(ErrInvalidAmount, fmt.Errorf("%q out of range", raw))
	}
	return d.IntPart(), nil
}

// ValidateAmount enforces 0 < amount <= limit.
func ValidateAmount(amount, limit int64) error {
	if amount <= 0 {
		return Wrap(ErrInvalidAmount, fmt.Errorf("got %d, want > 0", amount))
	}
	if amount > limit {
		return Wrap(ErrInvalidAmount, fmt.Errorf("got %d, limit %d", amount, limit))
	}
	return nil
}

// TruncateMessage cuts msg to MaxMessageLength characters.
func TruncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= MaxMessageLength {
		return msg
	}
	return string([]rune(msg)[:MaxMessageLength])
}
