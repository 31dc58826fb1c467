package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/postgres"
)

var entryColumns = []string{
	"key", "record_pos", "display_name", "entry_pos",
	"anchor_url", "containing_file", "signature",
}

// entryRow is one row of symbol_entries.
type entryRow struct {
	Key            string
	RecordPos      int
	DisplayName    string
	EntryPos       int
	AnchorURL      string
	ContainingFile string
	Signature      string
}

// Store persists records in the symbol_entries table, one row per entry.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "symbol-store"),
	}
}

// Replace swaps the table content for records in a single transaction.
// Readers see either the old set or the new one.
func (s *Store) Replace(ctx context.Context, records []symbolindex.RawRecord) (int, error) {
	rows := flatten(records)
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_entries`); err != nil {
			return fmt.Errorf("clearing symbol_entries: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("symbol_entries", entryColumns...))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.Key, r.RecordPos, r.DisplayName, r.EntryPos,
				r.AnchorURL, r.ContainingFile, r.Signature,
			); err != nil {
				return fmt.Errorf("copying record %d (key %q): %w", r.RecordPos, r.Key, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flushing copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("symbol entries replaced", "records", len(records), "rows", len(rows))
	return len(rows), nil
}

// Records reads the stored records back in their original order.
func (s *Store) Records(ctx context.Context) ([]symbolindex.RawRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT key, record_pos, display_name, entry_pos, anchor_url, containing_file, signature
		FROM symbol_entries
		ORDER BY record_pos, entry_pos`)
	if err != nil {
		return nil, fmt.Errorf("querying symbol_entries: %w", err)
	}
	defer rows.Close()

	var out []entryRow
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(&r.Key, &r.RecordPos, &r.DisplayName, &r.EntryPos,
			&r.AnchorURL, &r.ContainingFile, &r.Signature); err != nil {
			return nil, fmt.Errorf("scanning symbol_entries: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating symbol_entries: %w", err)
	}
	return assemble(out), nil
}

func flatten(records []symbolindex.RawRecord) []entryRow {
	var rows []entryRow
	for i, rec := range records {
		for j, e := range rec.Entries {
			display := e.DisplayName
			if display == "" {
				display = rec.DisplayName
			}
			rows = append(rows, entryRow{
				Key:            rec.Key,
				RecordPos:      i,
				DisplayName:    display,
				EntryPos:       j,
				AnchorURL:      e.AnchorURL,
				ContainingFile: e.ContainingFile,
				Signature:      e.Signature,
			})
		}
	}
	return rows
}

// assemble groups rows ordered by (record_pos, entry_pos) back into records.
func assemble(rows []entryRow) []symbolindex.RawRecord {
	var out []symbolindex.RawRecord
	for i, r := range rows {
		if i == 0 || r.RecordPos != rows[i-1].RecordPos {
			out = append(out, symbolindex.RawRecord{Key: r.Key, DisplayName: r.DisplayName})
		}
		last := &out[len(out)-1]
		last.Entries = append(last.Entries, symbolindex.Entry{
			DisplayName:    r.DisplayName,
			AnchorURL:      r.AnchorURL,
			ContainingFile: r.ContainingFile,
			Signature:      r.Signature,
		})
	}
	return out
}
