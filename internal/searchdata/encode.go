package searchdata

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
)

// Encode writes records as a searchData fragment that Decode reads back to
// the same keys and entries. The display name of a record is taken from its
// first entry. Reference flags are always written as 1.
func Encode(w io.Writer, records []symbolindex.Record) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("var searchData=\n[\n")
	for i, rec := range records {
		if len(rec.Entries) == 0 {
			return fmt.Errorf("encoding record %d (key %q): no entries", i, rec.Key)
		}
		bw.WriteString("  [")
		writeString(bw, EncodeKey(rec.Key))
		bw.WriteString(",[")
		writeString(bw, rec.Entries[0].DisplayName)
		for _, e := range rec.Entries {
			bw.WriteString(",[")
			writeString(bw, e.AnchorURL)
			bw.WriteString(",1,")
			writeString(bw, JoinLabel(e.Signature, e.ContainingFile))
			bw.WriteString("]")
		}
		bw.WriteString("]]")
		if i < len(records)-1 {
			bw.WriteByte(',')
		}
		bw.WriteByte('\n')
	}
	bw.WriteString("];\n")
	return bw.Flush()
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func writeString(w *bufio.Writer, s string) {
	w.WriteByte('\'')
	stringEscaper.WriteString(w, s)
	w.WriteByte('\'')
}
