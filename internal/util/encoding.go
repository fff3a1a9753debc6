package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeUsername folds a username to the form used for lookups and
// lockout keys: NFKD, trimmed, lower case.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(Normalize(s)))
}
