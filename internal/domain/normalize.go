package domain

import "strings"

// NormalizeName trims leading/trailing whitespace and collapses internal whitespace runs.
// It is applied to expense source names before they are persisted.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
