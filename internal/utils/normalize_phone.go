package utils

import (
	"fmt"
	"strings"
)

// NormalizePhone normalizes a phone number to E.164-ish form: digits only,
// optional leading +, French 0-prefixed numbers rewritten to +33.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separators are dropped
		default:
			return "", fmt.Errorf("invalid character %q in phone number", r)
		}
	}

	normalized := b.String()
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}
	if strings.HasPrefix(normalized, "0") && len(normalized) == 10 {
		normalized = "+33" + normalized[1:]
	}

	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("phone number must have 8 to 15 digits")
	}

	return normalized, nil
}
