package util

import (
	"net/mail"
	"os"
	"strings"
)

// NormalizeSubjectKey trims and lower-cases an email so that every
// component keys the same identity the same way.
func NormalizeSubjectKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsValidEmail accepts a bare address such as "a@x.com" and nothing else.
// Display names, angle brackets and trailing text are rejected by the
// round trip through mail.ParseAddress.
func IsValidEmail(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && addr.Name == ""
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
