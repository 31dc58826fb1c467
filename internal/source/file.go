package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searchdata"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
)

// DefaultPattern is used when FileSource.Pattern is empty.
const DefaultPattern = config.DefaultIndexPattern

// FileSource reads search data fragments from disk. Each path is either a
// fragment file or a directory whose files matching Pattern are read.
// Records are returned file by file in sorted path order.
type FileSource struct {
	Paths   []string
	Pattern string
	Workers int
}

func (s *FileSource) pattern() string {
	if s.Pattern == "" {
		return DefaultPattern
	}
	return s.Pattern
}

// Files resolves Paths to the sorted, de-duplicated list of fragment files.
func (s *FileSource) Files() ([]string, error) {
	var files []string
	for _, p := range s.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
		}
		if !info.IsDir() {
			files = append(files, filepath.Clean(p))
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, s.pattern()))
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %w", apperrors.ErrInvalidInput, s.pattern(), err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: no files matching %q under %s",
				apperrors.ErrSourceUnavailable, s.pattern(), p)
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
				files = append(files, m)
			}
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// Dirs returns the directories that hold the source's files.
func (s *FileSource) Dirs() ([]string, error) {
	var dirs []string
	for _, p := range s.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
		}
		if info.IsDir() {
			dirs = append(dirs, filepath.Clean(p))
		} else {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	slices.Sort(dirs)
	return slices.Compact(dirs), nil
}

// Matches reports whether name would be picked up by the source.
func (s *FileSource) Matches(name string) bool {
	for _, p := range s.Paths {
		if filepath.Clean(p) == filepath.Clean(name) {
			return true
		}
	}
	ok, _ := filepath.Match(s.pattern(), filepath.Base(name))
	return ok
}

// Records decodes every file, at most Workers at a time.
func (s *FileSource) Records(ctx context.Context) ([]symbolindex.RawRecord, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	parts := make([][]symbolindex.RawRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs, err := decodeFile(path)
			if err != nil {
				return err
			}
			parts[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]symbolindex.RawRecord, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	slog.Default().With("component", "file-source").Debug("search data decoded",
		"files", len(files),
		"records", total,
	)
	return out, nil
}

func decodeFile(path string) ([]symbolindex.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	recs, err := searchdata.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return recs, nil
}
