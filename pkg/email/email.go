// Package email holds helpers for working with account email addresses.
package email

import (
	"strings"
	"unicode"
)

// NamesFromAddress guesses a first and last name from the local part of
// addr, splitting on '.', '_', '-' and '+'. "jane.doe@x.io" yields
// ("Jane", "Doe"). Either result is empty when nothing usable is found.
func NamesFromAddress(addr string) (first, last string) {
	local := strings.TrimSpace(addr)
	if at := strings.LastIndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "", ""
	}
	first = capitalize(parts[0])
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}
	return first, last
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
