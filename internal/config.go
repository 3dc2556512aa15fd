package internal

import (
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mdparts/internal/include"
	"github.com/starford/mdparts/internal/service"
	"github.com/starford/mdparts/internal/watch"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Docs    DocsConfig        `yaml:"docs"`
	Chunk   ChunkConfig       `yaml:"chunk"`
	Catalog CatalogConfig     `yaml:"catalog"`
	Watch   WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Docs.Validate(); err != nil {
		return err
	}
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	return c.Watch.Validate()
}

// Service returns the service settings derived from the configuration.
func (c *Config) Service() service.Config {
	out := c.Chunk.OutRoot
	if out == "" {
		out = filepath.Join(c.Docs.Root, "reference")
	}
	return service.Config{
		DocsRoot:        c.Docs.Root,
		OutRoot:         out,
		MaxChars:        c.Chunk.MaxChars,
		DigestLines:     c.Chunk.DigestLines,
		ExpandIncludes:  c.Chunk.ExpandIncludes,
		MaxIncludeDepth: c.Chunk.MaxIncludeDepth,
		WatchDebounce:   c.Watch.Debounce,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// DocsConfig holds the trusted documentation root. Include directives may not
// resolve outside it.
type DocsConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the docs configuration.
func (c *DocsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// ChunkConfig controls how documents are split and encoded.
type ChunkConfig struct {
	MaxChars        int    `yaml:"max_chars"`
	DigestLines     int    `yaml:"digest_lines"`
	ExpandIncludes  bool   `yaml:"expand_includes"`
	MaxIncludeDepth int    `yaml:"max_include_depth"`
	OutRoot         string `yaml:"out_root"`
}

// Validate validates the chunk configuration.
func (c *ChunkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxChars, validation.Required, validation.Min(1)),
		validation.Field(&c.DigestLines, validation.Min(0), validation.Max(200)),
		validation.Field(&c.MaxIncludeDepth, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// CatalogConfig holds the SQLite run catalog configuration.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// WatchConfig holds the watch command configuration.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Docs: DocsConfig{
			Root: "docs",
		},
		Chunk: ChunkConfig{
			MaxChars:        6000,
			DigestLines:     5,
			MaxIncludeDepth: include.DefaultMaxDepth,
		},
		Catalog: CatalogConfig{
			Path: "mdparts.db",
		},
		Watch: WatchConfig{
			Debounce: watch.DefaultDebounce,
		},
	}
}
