// Package room normalizes room numbers. "33", "033", " 33 " and 33 all refer
// to the same room; display pads pure numerics to two digits.
package room

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Canonical returns the comparison form of a room number.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if isDigits(s) {
		trimmed := strings.TrimLeft(s, "0")
		if trimmed == "" {
			return "0"
		}
		return trimmed
	}
	return strings.ToUpper(s)
}

// Display returns the presentation form: pure numerics padded to two digits.
func Display(raw string) string {
	c := Canonical(raw)
	if isDigits(c) && len(c) < 2 {
		return "0" + c
	}
	return c
}

// Equal reports whether a and b name the same room.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// FromAny normalizes a room number read from a legacy document, where it may
// be stored as a string, an integer, a float or a json.Number.
func FromAny(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Canonical(x)
	case json.Number:
		return Canonical(x.String())
	case int:
		return Canonical(strconv.Itoa(x))
	case int64:
		return Canonical(strconv.FormatInt(x, 10))
	case float64:
		if x == float64(int64(x)) {
			return Canonical(strconv.FormatInt(int64(x), 10))
		}
		return Canonical(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		return Canonical(fmt.Sprint(x))
	}
}

// Number is a room number that accepts either a JSON string or a JSON number
// and always stores the canonical form.
type Number string

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*n = Number(FromAny(v))
	return nil
}

func (n Number) String() string { return string(n) }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
