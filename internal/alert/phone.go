package alert

import (
	"errors"
	"fmt"
	"strings"
)

// E.164 bounds: country code plus subscriber number, 8..15 digits.
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

var errMalformedPhone = errors.New("malformed phone number")

// NormalizePhone canonicalizes a contact number to +<digits> form.
// Separators and surrounding noise are stripped; a 00 prefix is treated
// as +; bare national numbers get defaultCC prepended when one is
// configured. Malformed numbers are rejected, never guessed at.
func NormalizePhone(raw, defaultCC string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", errMalformedPhone)
	}

	plus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.', r == '+':
			// separator noise
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", errMalformedPhone, r, raw)
		}
	}

	num := digits.String()
	switch {
	case plus:
		// already international
	case strings.HasPrefix(num, "00"):
		num = num[2:]
	case defaultCC != "":
		num = strings.TrimPrefix(defaultCC, "+") + num
	default:
		return "", fmt.Errorf("%w: %q has no country code", errMalformedPhone, raw)
	}

	if len(num) < minPhoneDigits || len(num) > maxPhoneDigits {
		return "", fmt.Errorf("%w: %q normalizes to %d digits", errMalformedPhone, raw, len(num))
	}
	if num[0] == '0' {
		return "", fmt.Errorf("%w: %q has a zero country code", errMalformedPhone, raw)
	}
	return "+" + num, nil
}
