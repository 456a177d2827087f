// Package normalize canonicalizes identities before they are stored or compared.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization trims surrounding whitespace
// and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Pair returns a stable key for the unordered identity pair {a, b}.
// Pair(a, b) == Pair(b, a) for all inputs.
func Pair(a, b string) string {
	a, b = Email(a), Email(b)
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
