// Package searchdata reads and writes the search index fragments emitted by
// Doxygen HTML output (search/functions_6f.js and friends):
//
//	var searchData=
//	[
//	  ['operator_20bool',['operator bool',['../classmatrix.html#ae84',1,'matrix::operator bool()']]],
//	  ...
//	];
//
// Every record is a raw key followed by a display name and one
// [url, flag, label] triple per documented reference. Values are kept as
// opaque strings: HTML entities inside labels are never unescaped.
package searchdata

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
)

// labelSeparator splits "signature:&#160;File.h" labels.
const labelSeparator = ":&#160;"

// Decode parses one fragment into raw records, in input order. Malformed input
// yields a *symbolindex.FormatError.
func Decode(r io.Reader) ([]symbolindex.RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading search data: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory fragment.
func DecodeBytes(data []byte) ([]symbolindex.RawRecord, error) {
	l := &lexer{src: data}
	l.skipPreamble()
	l.skipSpace()
	if l.pos >= len(l.src) {
		return nil, &symbolindex.FormatError{Record: -1, Offset: -1, Reason: "empty input"}
	}
	root, err := l.value(0)
	if err != nil {
		return nil, syntaxFormatError(err)
	}
	if err := l.finish(); err != nil {
		return nil, syntaxFormatError(err)
	}
	if root.kind != kindArray {
		return nil, shapeError(-1, "", root, "top-level value must be an array")
	}

	records := make([]symbolindex.RawRecord, 0, len(root.items))
	for i, item := range root.items {
		rec, err := decodeRecord(i, item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(pos int, n node) (symbolindex.RawRecord, error) {
	if n.kind != kindArray || len(n.items) != 2 {
		return symbolindex.RawRecord{}, shapeError(pos, "", n, "record must be a [key, entries] pair")
	}
	keyNode, payload := n.items[0], n.items[1]
	if keyNode.kind != kindString || keyNode.text == "" {
		return symbolindex.RawRecord{}, shapeError(pos, "", keyNode, "missing key")
	}
	key := DecodeKey(keyNode.text)
	if payload.kind != kindArray {
		return symbolindex.RawRecord{}, shapeError(pos, key, payload, "entries must be a list")
	}
	if len(payload.items) < 2 {
		return symbolindex.RawRecord{}, shapeError(pos, key, payload, "entries list needs a display name and at least one reference")
	}
	display := payload.items[0]
	if display.kind != kindString {
		return symbolindex.RawRecord{}, shapeError(pos, key, display, "display name must be a string")
	}

	rec := symbolindex.RawRecord{
		Key:         key,
		DisplayName: display.text,
		Entries:     make([]symbolindex.Entry, 0, len(payload.items)-1),
	}
	for i, ref := range payload.items[1:] {
		if ref.kind != kindArray || len(ref.items) != 3 ||
			ref.items[0].kind != kindString ||
			ref.items[1].kind != kindNumber ||
			ref.items[2].kind != kindString {
			return symbolindex.RawRecord{}, shapeError(pos, key, ref,
				fmt.Sprintf("reference %d must be [url, flag, label]", i))
		}
		if ref.items[0].text == "" {
			return symbolindex.RawRecord{}, shapeError(pos, key, ref, fmt.Sprintf("reference %d has an empty url", i))
		}
		sig, file := SplitLabel(ref.items[2].text)
		rec.Entries = append(rec.Entries, symbolindex.Entry{
			DisplayName:    display.text,
			AnchorURL:      ref.items[0].text,
			ContainingFile: file,
			Signature:      sig,
		})
	}
	return rec, nil
}

// SplitLabel separates a reference label into signature and containing file.
// Labels without the separator name the containing scope or file only.
func SplitLabel(label string) (signature, file string) {
	i := strings.LastIndex(label, labelSeparator)
	if i < 0 {
		return "", label
	}
	return label[:i], label[i+len(labelSeparator):]
}

// JoinLabel is the inverse of SplitLabel.
func JoinLabel(signature, file string) string {
	if signature == "" {
		return file
	}
	return signature + labelSeparator + file
}

func shapeError(pos int, key string, n node, reason string) *symbolindex.FormatError {
	return &symbolindex.FormatError{Record: pos, Key: key, Offset: n.offset, Reason: reason}
}

func syntaxFormatError(err error) error {
	var se *syntaxError
	if errors.As(err, &se) {
		return &symbolindex.FormatError{Record: -1, Offset: se.offset, Reason: se.msg}
	}
	return err
}
