package util

import (
	"regexp"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	pinRegex  = regexp.MustCompile(`^[1-9][0-9]{3}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidPIN reports whether s has the shape of a pairing PIN (1000-9999).
func IsValidPIN(s string) bool {
	return pinRegex.MatchString(s)
}
