// Package rut cleans, validates and formats Chilean RUT identifiers.
//
// All helpers are total: malformed input yields false or an empty string,
// never a panic. Parse is the only function that reports why a value was rejected.
package rut

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrInvalid    = errors.New("invalid rut")
	ErrEmpty      = fmt.Errorf("%w: empty value", ErrInvalid)
	ErrTooShort   = fmt.Errorf("%w: body must have at least one digit", ErrInvalid)
	ErrNonNumeric = fmt.Errorf("%w: body must be numeric", ErrInvalid)
	ErrCheckDigit = fmt.Errorf("%w: check digit mismatch", ErrInvalid)
)

var weights = [...]int{2, 3, 4, 5, 6, 7}

// RUT is a parsed identifier with a verified check digit.
type RUT struct {
	Body     string
	Verifier string
}

// String returns the dotted form, e.g. 12.345.678-5.
func (r RUT) String() string {
	return groupThousands(r.Body) + "-" + r.Verifier
}

// Clean returns the canonical form of raw: no dots, hyphens or whitespace, upper case.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}

// CheckDigit computes the mod 11 verifier for a numeric body.
// It returns "" when body is empty or contains anything but ASCII digits.
func CheckDigit(body string) string {
	if !isDigits(body) {
		return ""
	}

	sum := 0
	for i, w := len(body)-1, 0; i >= 0; i, w = i-1, w+1 {
		sum += int(body[i]-'0') * weights[w%len(weights)]
	}

	switch dv := 11 - sum%11; dv {
	case 11:
		return "0"
	case 10:
		return "K"
	default:
		return string(rune('0' + dv))
	}
}

// Parse cleans raw and verifies its check digit.
func Parse(raw string) (RUT, error) {
	clean := Clean(raw)
	if clean == "" {
		return RUT{}, ErrEmpty
	}
	if len(clean) < 2 {
		return RUT{}, ErrTooShort
	}

	body, verifier := clean[:len(clean)-1], clean[len(clean)-1:]
	if !isDigits(body) {
		return RUT{}, ErrNonNumeric
	}
	if CheckDigit(body) != verifier {
		return RUT{}, ErrCheckDigit
	}

	return RUT{Body: body, Verifier: verifier}, nil
}

// Validate reports whether raw is a RUT with a matching check digit.
func Validate(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Format returns the dotted form of raw. ok is false when raw does not validate.
func Format(raw string) (formatted string, ok bool) {
	r, err := Parse(raw)
	if err != nil {
		return "", false
	}
	return r.String(), true
}

// FormatInput formats a partially typed value for display. The last character
// is treated as the verifier; the check digit itself is not verified.
func FormatInput(raw string) string {
	var b strings.Builder
	for _, r := range Clean(raw) {
		if (r >= '0' && r <= '9') || r == 'K' {
			b.WriteRune(r)
		}
	}

	// K is only meaningful as the verifier.
	chars := b.String()
	if n := len(chars); n > 0 {
		chars = strings.ReplaceAll(chars[:n-1], "K", "") + chars[n-1:]
	}

	if len(chars) < 2 {
		return chars
	}
	return groupThousands(chars[:len(chars)-1]) + "-" + chars[len(chars)-1:]
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
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
