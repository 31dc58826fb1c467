package symbolindex

import "slices"

// Entry is one documented reference for a symbol. All fields are opaque
// display strings; markup and HTML entities are kept exactly as loaded.
type Entry struct {
	DisplayName    string `json:"display_name"`
	AnchorURL      string `json:"anchor_url"`
	ContainingFile string `json:"containing_file"`
	Signature      string `json:"signature,omitempty"`
}

// Record groups every entry sharing one symbol key. Entry order is the
// order the source supplied and controls display order for overloads.
type Record struct {
	Key     string  `json:"key"`
	Entries []Entry `json:"entries"`
}

// RawRecord is a record as produced by a Source, before validation.
// DisplayName fills Entry.DisplayName for entries that carry none.
type RawRecord struct {
	Key         string
	DisplayName string
	Entries     []Entry
}

func (r Record) clone() Record {
	return Record{Key: r.Key, Entries: slices.Clone(r.Entries)}
}
