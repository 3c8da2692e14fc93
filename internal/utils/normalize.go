package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SanitizeText trims s, drops control characters and collapses whitespace runs.
func SanitizeText(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(cleaned), " ")
}

func NormalizeName(raw string) string {
	sanitized := SanitizeText(raw)
	if sanitized == "" {
		return ""
	}
	// Casers hold state and must not be shared between goroutines.
	return cases.Title(language.Spanish).String(sanitized)
}

func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range trimmed {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if normalized == "+" {
		return ""
	}
	return normalized
}
