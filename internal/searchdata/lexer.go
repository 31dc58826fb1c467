package searchdata

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

type nodeKind int

const (
	kindString nodeKind = iota
	kindNumber
	kindArray
)

func (k nodeKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	default:
		return "array"
	}
}

// node is one literal value of a searchData array.
type node struct {
	kind   nodeKind
	offset int64
	text   string
	items  []node
}

// maxDepth bounds array nesting; the format never goes past four levels.
const maxDepth = 8

type lexer struct {
	src []byte
	pos int
}

type syntaxError struct {
	offset int64
	msg    string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("%s at byte %d", e.msg, e.offset)
}

func (l *lexer) errorf(format string, args ...any) *syntaxError {
	return &syntaxError{offset: int64(l.pos), msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			l.pos++
		default:
			return
		}
	}
}

// skipPreamble consumes an optional "var name =" assignment and a UTF-8 BOM.
func (l *lexer) skipPreamble() {
	if strings.HasPrefix(string(l.src), "\ufeff") {
		l.pos = len("\ufeff")
	}
	l.skipSpace()
	rest := string(l.src[l.pos:])
	if !strings.HasPrefix(rest, "var ") && !strings.HasPrefix(rest, "var\t") {
		return
	}
	if eq := strings.IndexByte(rest, '='); eq >= 0 && !strings.ContainsAny(rest[:eq], "['\"") {
		l.pos += eq + 1
	}
}

// finish accepts an optional trailing semicolon and requires end of input.
func (l *lexer) finish() error {
	l.skipSpace()
	if l.pos < len(l.src) && l.src[l.pos] == ';' {
		l.pos++
		l.skipSpace()
	}
	if l.pos != len(l.src) {
		return l.errorf("unexpected trailing data %q", l.peekContext())
	}
	return nil
}

func (l *lexer) peekContext() string {
	end := min(l.pos+16, len(l.src))
	return string(l.src[l.pos:end])
}

func (l *lexer) value(depth int) (node, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return node{}, l.errorf("unexpected end of input")
	}
	switch c := l.src[l.pos]; {
	case c == '[':
		if depth >= maxDepth {
			return node{}, l.errorf("arrays nested deeper than %d", maxDepth)
		}
		return l.array(depth + 1)
	case c == '\'' || c == '"':
		return l.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return l.number()
	default:
		return node{}, l.errorf("unexpected character %q", rune(c))
	}
}

func (l *lexer) array(depth int) (node, error) {
	n := node{kind: kindArray, offset: int64(l.pos)}
	l.pos++ // '['
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			return node{}, l.errorf("unterminated array")
		}
		if l.src[l.pos] == ']' {
			l.pos++
			return n, nil
		}
		item, err := l.value(depth)
		if err != nil {
			return node{}, err
		}
		n.items = append(n.items, item)
		l.skipSpace()
		if l.pos >= len(l.src) {
			return node{}, l.errorf("unterminated array")
		}
		switch l.src[l.pos] {
		case ',':
			l.pos++
		case ']':
			l.pos++
			return n, nil
		default:
			return node{}, l.errorf("expected ',' or ']' but found %q", rune(l.src[l.pos]))
		}
	}
}

func (l *lexer) number() (node, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		l.pos = start
		return node{}, l.errorf("invalid number %q", text)
	}
	return node{kind: kindNumber, offset: int64(start), text: text}, nil
}

func (l *lexer) str() (node, error) {
	start := l.pos
	quote := l.src[l.pos]
	l.pos++
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			l.pos = start
			return node{}, l.errorf("unterminated string")
		}
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			return node{kind: kindString, offset: int64(start), text: b.String()}, nil
		case c == '\n' || c == '\r':
			return node{}, l.errorf("newline in string literal")
		case c == '\\':
			if err := l.escape(&b); err != nil {
				return node{}, err
			}
		default:
			// Bytes are copied as-is; invalid UTF-8 stays invalid.
			_, size := utf8.DecodeRune(l.src[l.pos:])
			b.Write(l.src[l.pos : l.pos+size])
			l.pos += size
		}
	}
}

// escape decodes one JavaScript escape sequence starting at the backslash.
func (l *lexer) escape(b *strings.Builder) error {
	l.pos++ // '\'
	if l.pos >= len(l.src) {
		return l.errorf("unterminated escape")
	}
	c := l.src[l.pos]
	l.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case 'x':
		v, err := l.hex(2)
		if err != nil {
			return err
		}
		b.WriteRune(rune(v))
	case 'u':
		v, err := l.hex(4)
		if err != nil {
			return err
		}
		r := rune(v)
		if utf16.IsSurrogate(r) && strings.HasPrefix(string(l.src[l.pos:]), `\u`) {
			save := l.pos
			l.pos += 2
			lo, err := l.hex(4)
			if pair := utf16.DecodeRune(r, rune(lo)); err == nil && pair != utf8.RuneError {
				r = pair
			} else {
				l.pos = save
			}
		}
		b.WriteRune(r)
	default:
		// Any other escaped character stands for itself: \' \" \\ \/.
		l.pos--
		_, size := utf8.DecodeRune(l.src[l.pos:])
		b.Write(l.src[l.pos : l.pos+size])
		l.pos += size
	}
	return nil
}

func (l *lexer) hex(digits int) (uint64, error) {
	if l.pos+digits > len(l.src) {
		return 0, l.errorf("truncated hex escape")
	}
	v, err := strconv.ParseUint(string(l.src[l.pos:l.pos+digits]), 16, 32)
	if err != nil {
		return 0, l.errorf("invalid hex escape %q", l.src[l.pos:l.pos+digits])
	}
	l.pos += digits
	return v, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
