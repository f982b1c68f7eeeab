package handlers

import (
	"regexp"
	"strings"
	"unicode"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidateEmail checks the address shape only.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword requires 8 to 50 characters with an upper case letter, a
// lower case letter, a digit and a symbol, and no whitespace.
func ValidatePassword(password string) bool {
	if len(password) < 8 || len(password) > 50 {
		return false
	}

	var (
		isUpper   = false
		isLower   = false
		isNumber  = false
		isSpecial = false
		isSpace   = false
	)

	for _, s := range password {
		switch {
		case unicode.IsSpace(s):
			isSpace = true
		case unicode.IsUpper(s):
			isUpper = true
		case unicode.IsLower(s):
			isLower = true
		case unicode.IsDigit(s):
			isNumber = true
		case unicode.IsPunct(s) || unicode.IsSymbol(s):
			isSpecial = true
		default:
		}
	}

	return isUpper && isLower && isNumber && isSpecial && !isSpace
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
