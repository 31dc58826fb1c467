package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, SourceFile, cfg.Index.Source)
	assert.Equal(t, "functions_*.js", cfg.Index.Pattern)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 200, cfg.Search.MaxResults)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
index:
  source: http
  url: https://docs.example.org/search/functions_6f.js
  loadAttempts: 5
search:
  defaultLimit: 5
  maxResults: 50
  requirePrefix: true
redis:
  addr: localhost:6379
  cacheTTL: 30s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, SourceHTTP, cfg.Index.Source)
	assert.Equal(t, 5, cfg.Index.LoadAttempts)
	assert.True(t, cfg.Search.RequirePrefix)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	// untouched fields keep their defaults
	assert.Equal(t, 4, cfg.Index.DecodeWorkers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SS_INDEX_PATHS", "a/search,b/search")
	t.Setenv("SS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SS_INDEX_WATCH", "true")
	t.Setenv("SS_SERVER_PORT", "not-a-number")
	t.Setenv("SS_SERVER_RATE_LIMIT", "0")
	t.Setenv("SS_SERVER_ADMIN_KEYS", "k1,k2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"a/search", "b/search"}, cfg.Index.Paths)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Index.Watch)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Zero(t, cfg.Server.RateLimit)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.AdminKeys)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown source", "index:\n  source: ftp\n"},
		{"http without url", "index:\n  source: http\n"},
		{"file without paths", "index:\n  source: file\n  paths: []\n"},
		{"default above max", "search:\n  defaultLimit: 500\n"},
		{"zero limit", "search:\n  maxResults: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithOverride(t *testing.T) {
	path := writeConfig(t, "index:\n  source: http\n  url: http://localhost/functions_6f.js\n")
	cfg, err := LoadWith(path, func(cfg *Config) {
		cfg.Index.Source = SourceFile
		cfg.Index.Paths = []string{"testdata"}
	})
	require.NoError(t, err)
	assert.Equal(t, SourceFile, cfg.Index.Source)
	assert.Equal(t, []string{"testdata"}, cfg.Index.Paths)

	_, err = LoadWith("", func(cfg *Config) { cfg.Index.Paths = nil })
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
