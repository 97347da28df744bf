package app

import "strings"

const countryCallingCode = "233"

// NormalizePhone canonicalizes a Ghanaian phone number to international
// format without a leading plus:
//
//	0599188713   -> 233599188713
//	599188713    -> 233599188713
//	233599188713 -> 233599188713
//
// All non-digit characters are stripped first, so "+233 59 918 8713" and
// "059-918-8713" normalize the same way. Numbers that do not match any of the
// three shapes are passed through digits-only, so already-international
// numbers from other countries keep working.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < 9 {
		return "", ErrInvalidPhone
	}

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return countryCallingCode + digits[1:], nil
	case len(digits) == 9:
		return countryCallingCode + digits, nil
	default:
		return digits, nil
	}
}
