package symbolindex

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
)

// FormatError reports malformed index input. It always unwraps to
// apperrors.ErrFormat.
type FormatError struct {
	// Record is the zero-based position of the offending record, or -1.
	Record int
	Key    string
	// Offset is the byte offset in the encoded input, or -1.
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(apperrors.ErrFormat.Error())
	if e.Record >= 0 {
		fmt.Fprintf(&b, ": record %d", e.Record)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %q)", e.Key)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at byte %d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *FormatError) Unwrap() error {
	return apperrors.ErrFormat
}

func recordError(pos int, key, reason string) *FormatError {
	return &FormatError{Record: pos, Key: key, Offset: -1, Reason: reason}
}
