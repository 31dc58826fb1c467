package symbolindex

import "golang.org/x/text/cases"

// Normalize returns the case-folded form used for ordering and prefix
// matching. Both keys and query prefixes pass through it, so "O", "o" and
// "Operator" all fold onto the same lowercase space.
func Normalize(s string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(s)
}
