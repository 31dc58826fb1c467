package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
)

func TestFromConfig(t *testing.T) {
	src, err := FromConfig(config.IndexConfig{Source: config.SourceFile, Paths: []string{"docs/search"}, DecodeWorkers: 3}, Deps{})
	require.NoError(t, err)
	fs, ok := src.(*FileSource)
	require.True(t, ok)
	assert.Equal(t, 3, fs.Workers)

	src, err = FromConfig(config.IndexConfig{Source: config.SourceHTTP, URL: "http://docs.local/search/functions_6f.js", LoadAttempts: 5}, Deps{})
	require.NoError(t, err)
	hs, ok := src.(*HTTPSource)
	require.True(t, ok)
	assert.Equal(t, 5, hs.Retry.MaxAttempts)
	assert.NotNil(t, hs.Breaker)

	_, err = FromConfig(config.IndexConfig{Source: config.SourcePostgres}, Deps{})
	assert.Error(t, err)

	_, err = FromConfig(config.IndexConfig{Source: "ftp"}, Deps{})
	assert.Error(t, err)
}
