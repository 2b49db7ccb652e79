package classify

import "regexp"

// nonDigit matches any non-digit character for stripping from card numbers
var nonDigit = regexp.MustCompile(`\D`)

// LuhnValid validates a candidate card number using the Luhn checksum.
// Separators (spaces, dashes) are stripped before validation. The check
// cuts false positives from order IDs and tracking numbers that happen
// to be 16 digits; the redactor applies the same gate so the two layers
// agree on what a card is.
func LuhnValid(number string) bool {
	digits := nonDigit.ReplaceAllString(number, "")

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
