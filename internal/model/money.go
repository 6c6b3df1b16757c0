package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents.  It travels over JSON as a decimal string
// with two fractional digits ("100.00") and is stored as BIGINT cents.
type Money int64

// ErrInvalidMoney is returned when a decimal amount cannot be parsed.
var ErrInvalidMoney = errors.New("invalid money amount")

// Cents returns the raw amount.
func (m Money) Cents() int64 { return int64(m) }

// Mul multiplies the amount by an item count.
func (m Money) Mul(n int) Money { return m * Money(n) }

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the amount as a quoted decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return ErrInvalidMoney
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return ErrInvalidMoney
		}
		s = raw
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMoney parses "123", "123.4" or "123.45" with an optional leading
// minus.  Both parts must be plain ASCII digits.  More than two fractional
// digits are rejected rather than rounded, as are amounts that do not fit
// in int64 cents.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return 0, ErrInvalidMoney
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidMoney
	}
	var f int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		f, _ = strconv.ParseInt(frac, 10, 64)
	}
	if w > (math.MaxInt64-f)/100 {
		return 0, ErrInvalidMoney
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Money(v), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
