// Package symbolindex holds the immutable symbol lookup structure behind the
// documentation search box. An Index is built once from a Source and answers
// case-insensitive prefix queries and exact key lookups without locking.
package symbolindex

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
)

// Source yields the raw records an Index is built from. Implementations may
// perform I/O.
type Source interface {
	Records(ctx context.Context) ([]RawRecord, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]RawRecord, error)

func (f SourceFunc) Records(ctx context.Context) ([]RawRecord, error) {
	return f(ctx)
}

// Stats describes a built Index.
type Stats struct {
	Records    int       `json:"records"`
	Entries    int       `json:"entries"`
	Generation uint64    `json:"generation"`
	BuiltAt    time.Time `json:"built_at"`
}

// Index maps symbol keys to records. It is read-only after Build returns and
// safe for concurrent use.
type Index struct {
	records    []Record
	folded     []string
	byKey      map[string]int
	entries     int
	generation  uint64
	builtAt     time.Time
	fingerprint string
}

type options struct {
	generation uint64
	now        func() time.Time
}

// Option configures Build and Load.
type Option func(*options)

// WithGeneration stamps the index with a build generation. Caches key on it.
func WithGeneration(gen uint64) Option {
	return func(o *options) {
		o.generation = gen
	}
}

// WithClock overrides the clock used for Stats.BuiltAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Load reads every record from src and builds an Index. Read failures are
// returned as-is (wrapped); malformed data yields a *FormatError. No partial
// index is ever returned.
func Load(ctx context.Context, src Source, opts ...Option) (*Index, error) {
	raw, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index source: %w", err)
	}
	return Build(raw, opts...)
}

// Build validates raw records and constructs an Index. Duplicate keys are
// rejected rather than merged or overwritten.
func Build(raw []RawRecord, opts ...Option) (*Index, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	type slot struct {
		rec    Record
		folded string
	}
	slots := make([]slot, 0, len(raw))
	seen := make(map[string]int, len(raw))
	entryCount := 0

	for pos, r := range raw {
		if r.Key == "" {
			return nil, recordError(pos, "", "missing key")
		}
		if prev, dup := seen[r.Key]; dup {
			return nil, recordError(pos, r.Key, fmt.Sprintf("duplicate key (first seen at record %d)", prev))
		}
		seen[r.Key] = pos
		if len(r.Entries) == 0 {
			return nil, recordError(pos, r.Key, "record has no entries")
		}
		entries := make([]Entry, len(r.Entries))
		for i, e := range r.Entries {
			if e.AnchorURL == "" {
				return nil, recordError(pos, r.Key, fmt.Sprintf("entry %d has no anchor URL", i))
			}
			if e.DisplayName == "" {
				e.DisplayName = r.DisplayName
			}
			entries[i] = e
		}
		entryCount += len(entries)
		slots = append(slots, slot{
			rec:    Record{Key: r.Key, Entries: entries},
			folded: Normalize(r.Key),
		})
	}

	// Stable so keys that fold together keep their input order.
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].folded < slots[j].folded
	})

	idx := &Index{
		records:    make([]Record, len(slots)),
		folded:     make([]string, len(slots)),
		byKey:      make(map[string]int, len(slots)),
		entries:    entryCount,
		generation: o.generation,
		builtAt:    o.now(),
	}
	for i, s := range slots {
		idx.records[i] = s.rec
		idx.folded[i] = s.folded
		idx.byKey[s.rec.Key] = i
	}
	idx.fingerprint = fingerprint(idx.records)
	return idx, nil
}

// fingerprint hashes every key and entry field in index order. Strings are
// length-prefixed so field boundaries cannot collide.
func fingerprint(records []Record) string {
	h := sha256.New()
	var buf [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(buf[:], uint64(len(s)))
		h.Write(buf[:n])
		h.Write([]byte(s))
	}
	for _, r := range records {
		write(r.Key)
		n := binary.PutUvarint(buf[:], uint64(len(r.Entries)))
		h.Write(buf[:n])
		for _, e := range r.Entries {
			write(e.DisplayName)
			write(e.AnchorURL)
			write(e.ContainingFile)
			write(e.Signature)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Query returns the records whose folded key starts with the folded prefix,
// in folded-key order. The empty prefix matches every record. The sequence
// is computed lazily and may be ranged over any number of times.
func (x *Index) Query(prefix string) iter.Seq[Record] {
	lo, hi := x.span(prefix)
	return func(yield func(Record) bool) {
		for i := lo; i < hi; i++ {
			if !yield(x.records[i].clone()) {
				return
			}
		}
	}
}

// Count returns how many records Query(prefix) would yield.
func (x *Index) Count(prefix string) int {
	lo, hi := x.span(prefix)
	return hi - lo
}

// ExactLookup returns the record stored under key. The match is exact and
// case-sensitive; a miss wraps apperrors.ErrNotFound.
func (x *Index) ExactLookup(key string) (Record, error) {
	i, ok := x.byKey[key]
	if !ok {
		return Record{}, fmt.Errorf("lookup %q: %w", key, apperrors.ErrNotFound)
	}
	return x.records[i].clone(), nil
}

// Len returns the number of records.
func (x *Index) Len() int {
	return len(x.records)
}

// Generation returns the generation the index was built with.
func (x *Index) Generation() uint64 {
	return x.generation
}

// Fingerprint is a SHA-256 over the index content. Two indexes built from
// the same records have the same fingerprint in any process.
func (x *Index) Fingerprint() string {
	return x.fingerprint
}

func (x *Index) Stats() Stats {
	return Stats{
		Records:    len(x.records),
		Entries:    x.entries,
		Generation: x.generation,
		BuiltAt:    x.builtAt,
	}
}

// span returns the half-open range of records matching prefix.
func (x *Index) span(prefix string) (int, int) {
	if prefix == "" {
		return 0, len(x.records)
	}
	fp := Normalize(prefix)
	lo := sort.SearchStrings(x.folded, fp)
	hi := lo + sort.Search(len(x.folded)-lo, func(i int) bool {
		return !strings.HasPrefix(x.folded[lo+i], fp)
	})
	return lo, hi
}

// Collect drains seq, returning at most limit records (all when limit <= 0)
// together with the total number the sequence produced.
func Collect(seq iter.Seq[Record], limit int) ([]Record, int) {
	out := make([]Record, 0)
	total := 0
	for rec := range seq {
		total++
		if limit <= 0 || len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, total
}
