package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
)

const fixturePath = "../searchdata/testdata/functions_6f.js"

const smallFragment = `var searchData=
[
  ['abs',['abs',['../group__Operators.html#ga1',1,'abs(const ScalarField &amp;):&#160;Operators.h']]],
  ['axpy',['axpy',['../group__Operators.html#ga2',1,'Operators.h']]]
];
`

func writeSearchDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "functions_6f.js"), fixture, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "functions_61.js"), []byte(smallFragment), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.css"), []byte("body{}"), 0o644))
	return dir
}

func TestFileSourceDirectory(t *testing.T) {
	dir := writeSearchDir(t)
	for _, workers := range []int{0, 1, 4} {
		src := &FileSource{Paths: []string{dir}, Pattern: "functions_*.js", Workers: workers}
		recs, err := src.Records(context.Background())
		require.NoError(t, err)
		require.Len(t, recs, 26)
		assert.Equal(t, "abs", recs[0].Key)
		assert.Equal(t, "axpy", recs[1].Key)
		assert.Equal(t, "o", recs[2].Key)
		assert.Equal(t, "Operators.h", recs[0].Entries[0].ContainingFile)
	}
}

func TestFileSourceFilesAreSortedAndDeduplicated(t *testing.T) {
	dir := writeSearchDir(t)
	single := filepath.Join(dir, "functions_61.js")
	src := &FileSource{Paths: []string{dir, single}}

	files, err := src.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "functions_6f.js")}, files)

	dirs, err := src.Dirs()
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, dirs)
}

func TestFileSourceSingleFile(t *testing.T) {
	src := &FileSource{Paths: []string{fixturePath}}
	idx, err := symbolindex.Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 24, idx.Len())
}

func TestFileSourceMatches(t *testing.T) {
	src := &FileSource{Paths: []string{"/docs/search"}, Pattern: "functions_*.js"}
	assert.True(t, src.Matches("/docs/search/functions_6f.js"))
	assert.False(t, src.Matches("/docs/search/search.css"))
	assert.False(t, src.Matches("/docs/search/.functions_6f.js.swp"))
}

func TestFileSourceErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		src := &FileSource{Paths: []string{filepath.Join(t.TempDir(), "nope")}}
		_, err := src.Records(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	})

	t.Run("no matching files", func(t *testing.T) {
		src := &FileSource{Paths: []string{t.TempDir()}}
		_, err := src.Records(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	})

	t.Run("malformed file names the file", func(t *testing.T) {
		dir := writeSearchDir(t)
		bad := filepath.Join(dir, "functions_62.js")
		require.NoError(t, os.WriteFile(bad, []byte("var searchData=[['b',[]]];"), 0o644))

		src := &FileSource{Paths: []string{dir}, Pattern: "functions_*.js", Workers: 2}
		recs, err := src.Records(context.Background())
		assert.Nil(t, recs)
		require.ErrorIs(t, err, apperrors.ErrFormat)
		assert.Contains(t, err.Error(), bad)

		var fe *symbolindex.FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, 0, fe.Record)
		assert.Equal(t, "b", fe.Key)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &FileSource{Paths: []string{writeSearchDir(t)}, Workers: 1}
		_, err := src.Records(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFileSourceDefaultPatternSkipsOtherFragments(t *testing.T) {
	dir := writeSearchDir(t)
	// A Doxygen search directory also holds the script and the all_* fragments,
	// whose keys repeat the functions_* ones.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.js"), []byte("function init_search() {}"), 0o644))
	fixture, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "all_6f.js"), fixture, 0o644))

	src := &FileSource{Paths: []string{dir}}
	idx, err := symbolindex.Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 26, idx.Len())
	assert.True(t, src.Matches(filepath.Join(dir, "functions_70.js")))
	assert.False(t, src.Matches(filepath.Join(dir, "all_6f.js")))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPattern, cfg.Index.Pattern)
}
