package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/starford/mdparts/pkg/config"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6000, cfg.Chunk.MaxChars)
	assert.Equal(t, 5, cfg.Chunk.DigestLines)
	assert.False(t, cfg.Catalog.Enabled)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
}

func TestChunkConfig_RejectsBadBudget(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Chunk.MaxChars = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Chunk.DigestLines = -1
	assert.Error(t, cfg.Validate())
}

func TestCatalogConfig_PathRequiredWhenEnabled(t *testing.T) {
	cfg := CatalogConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Path = "runs.db"
	assert.NoError(t, cfg.Validate())
}

func TestDocsConfig_RootRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Docs.Root = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ServiceDefaultsOutRoot(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Docs.Root = "site/docs"
	assert.Equal(t, filepath.Join("site", "docs", "reference"), cfg.Service().OutRoot)

	cfg.Chunk.OutRoot = "exports"
	assert.Equal(t, "exports", cfg.Service().OutRoot)
}

func TestConfig_LoadFromYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
app:
  log_level: debug
docs:
  root: handbook
chunk:
  max_chars: 2500
  expand_includes: true
catalog:
  enabled: true
  path: var/runs.db
watch:
  debounce: 1s
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(p, cfg))
	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, "handbook", cfg.Docs.Root)
	assert.Equal(t, 2500, cfg.Chunk.MaxChars)
	assert.True(t, cfg.Chunk.ExpandIncludes)
	assert.Equal(t, 5, cfg.Chunk.DigestLines)
	assert.Equal(t, "var/runs.db", cfg.Catalog.Path)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}
