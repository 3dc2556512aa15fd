// Package service coordinates expansion, chunking, encoding, verification and
// the run catalog. The CLI and the watcher go through it exclusively.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/catalog"
	"github.com/starford/mdparts/internal/chunker"
	"github.com/starford/mdparts/internal/include"
	"github.com/starford/mdparts/internal/parser"
	"github.com/starford/mdparts/internal/parts"
	"github.com/starford/mdparts/internal/storage"
	"github.com/starford/mdparts/internal/watch"
)

// Config holds the chunking settings, already merged from file and flags.
type Config struct {
	DocsRoot        string
	OutRoot         string // parent of default output directories; defaults to <DocsRoot>/reference
	MaxChars        int
	DigestLines     int
	ExpandIncludes  bool
	MaxIncludeDepth int
	WatchDebounce   time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog records runs and verifications in c.
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for generation timestamps and default directory names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs encode and verify operations.
type Service struct {
	cfg     Config
	catalog catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Service.
func New(cfg Config, opts ...Option) *Service {
	if cfg.OutRoot == "" {
		cfg.OutRoot = filepath.Join(cfg.DocsRoot, "reference")
	}
	s := &Service{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EncodeRequest names the document to chunk. OutDir defaults to
// <OutRoot>/exports_<date>/chat_chunks/<stem>.
type EncodeRequest struct {
	Input  string
	OutDir string
}

// EncodeResult summarises a finished encode.
type EncodeResult struct {
	Source     string // as recorded in headers and the manifest
	Title      string
	Status     string // front matter status, if any
	OutDir     string
	Parts      int
	TotalChars int
	RunID      string // empty when the catalog is disabled or recording failed
	Manifest   *parts.Manifest
}

// DefaultOutDir returns the output directory used when a request leaves it empty.
func (s *Service) DefaultOutDir(input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(s.cfg.OutRoot, "exports_"+s.now().Format("2006-01-02"), "chat_chunks", stem)
}

// Encode expands (when enabled), chunks and writes one document. Every part is
// built in memory before the output directory is touched, so expansion and
// budget errors leave the filesystem unchanged.
func (s *Service) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.MaxChars < 1 {
		return nil, fmt.Errorf("service: max chars %d: %w", s.cfg.MaxChars, chunker.ErrInvalidBudget)
	}
	input, err := filepath.Abs(req.Input)
	if err != nil {
		return nil, fmt.Errorf("service: resolve input: %w", err)
	}
	text, err := storage.ReadText(input)
	if err != nil {
		return nil, err
	}

	var root *storage.FS
	if s.cfg.ExpandIncludes || req.OutDir == "" {
		if root, err = storage.NewFS(s.cfg.DocsRoot); err != nil {
			return nil, fmt.Errorf("service: docs root: %w", err)
		}
	}

	source := req.Input
	rel, inRoot := "", false
	if root != nil {
		if rel, inRoot = root.Rel(input); inRoot {
			source = rel
		}
	}

	meta := parser.Parse([]byte(text))
	title := meta.TitleOr(input)

	if s.cfg.ExpandIncludes {
		exp := include.New(root,
			include.WithMaxDepth(s.cfg.MaxIncludeDepth),
			include.WithLogger(s.logger))
		if inRoot {
			text, err = exp.ExpandFile(rel)
		} else {
			text, err = exp.Expand(text)
		}
		if err != nil {
			return nil, err
		}
	}

	chunks, err := chunker.Split(text, s.cfg.MaxChars)
	if err != nil {
		return nil, err
	}
	enc := parts.NewEncoder(parts.EncoderConfig{
		DigestLines: s.cfg.DigestLines,
		Now:         s.now,
		Logger:      s.logger,
	})
	bundle, err := enc.Build(chunks, parts.Source{Path: filepath.ToSlash(source), Title: title, MaxChars: s.cfg.MaxChars})
	if err != nil {
		return nil, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = s.DefaultOutDir(input)
	}
	if outDir, err = filepath.Abs(outDir); err != nil {
		return nil, fmt.Errorf("service: resolve output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("service: create output dir: %w", err)
	}
	out, err := storage.NewFS(outDir)
	if err != nil {
		return nil, err
	}
	if err := enc.Write(out, bundle); err != nil {
		return nil, err
	}

	res := &EncodeResult{
		Source:   bundle.Manifest.Source,
		Title:    title,
		Status:   meta.Status,
		OutDir:   out.Root(),
		Parts:    len(bundle.Parts),
		Manifest: bundle.Manifest,
	}
	for _, p := range bundle.Parts {
		res.TotalChars += p.Metrics.Chars
	}
	res.RunID = s.recordRun(res, bundle)

	s.logger.Info("service: encoded",
		slog.String("source", res.Source),
		slog.String("out_dir", res.OutDir),
		slog.Int("parts", res.Parts),
		slog.Int("chars", res.TotalChars))
	return res, nil
}

// recordRun stores the run in the catalog. Failures are logged, never returned.
func (s *Service) recordRun(res *EncodeResult, b *parts.Bundle) string {
	if s.catalog == nil {
		return ""
	}
	run := &catalog.Run{
		Source:     res.Source,
		OutDir:     res.OutDir,
		Title:      res.Title,
		Generated:  b.Manifest.Generated,
		MaxChars:   b.Manifest.MaxChars,
		PartCount:  len(b.Parts),
		TotalChars: res.TotalChars,
		Parts:      make([]catalog.RunPart, 0, len(b.Parts)),
	}
	for _, p := range b.Parts {
		run.Parts = append(run.Parts, catalog.RunPart{Index: p.Index, File: p.File, Chars: p.Metrics.Chars, SHA256: p.Digest})
	}
	if err := s.catalog.RecordRun(run); err != nil {
		s.logger.Warn("service: catalog record failed", slog.String("error", err.Error()))
		return ""
	}
	return run.ID
}

// VerifyRequest names a part directory and the optional extras.
type VerifyRequest struct {
	Dir             string
	Rebuild         string // write the reconstruction here when set
	CompareOriginal string // compare the reconstruction against this file when set
}

// VerifyResult carries the report and where the reconstruction went.
type VerifyResult struct {
	Dir         string
	Report      *parts.Report
	RebuiltPath string
	RunID       string
}

// Verify checks a part directory. The returned error covers problems that
// stop verification from running; check Report.Err for the outcome.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store, err := storage.NewFS(req.Dir)
	if err != nil {
		return nil, fmt.Errorf("service: part directory: %w", err)
	}

	opts := parts.VerifyOptions{Logger: s.logger}
	if req.CompareOriginal != "" {
		ref, err := storage.ReadText(req.CompareOriginal)
		if err != nil {
			return nil, fmt.Errorf("service: reference: %w", err)
		}
		opts.Reference = &ref
	}

	report, err := parts.Verify(store, opts)
	if err != nil {
		return nil, err
	}
	res := &VerifyResult{Dir: store.Root(), Report: report}

	if req.Rebuild != "" {
		path, err := writeFile(req.Rebuild, []byte(report.Rebuilt))
		if err != nil {
			return nil, err
		}
		res.RebuiltPath = path
	}

	res.RunID = s.recordVerification(res)
	s.logger.Info("service: verified",
		slog.String("dir", res.Dir),
		slog.Int("parts", len(report.Parts)),
		slog.Int("failures", len(report.Failures())),
		slog.Int("stray", len(report.Stray)))
	return res, nil
}

func (s *Service) recordVerification(res *VerifyResult) string {
	if s.catalog == nil {
		return ""
	}
	v := &catalog.Verification{
		OutDir:    res.Dir,
		CheckedAt: s.now(),
		OK:        res.Report.OK(),
		Failures:  len(res.Report.Failures()),
	}
	if c := res.Report.Comparison; c != nil {
		match := c.Match
		v.CompareOK = &match
	}
	run, err := s.catalog.LatestRun(res.Dir)
	switch {
	case err == nil:
		v.RunID = run.ID
	case !errors.Is(err, catalog.ErrRunNotFound):
		s.logger.Warn("service: catalog lookup failed", slog.String("error", err.Error()))
	}
	if err := s.catalog.RecordVerification(v); err != nil {
		s.logger.Warn("service: catalog record failed", slog.String("error", err.Error()))
	}
	return v.RunID
}

// Runs lists catalog runs, newest first.
func (s *Service) Runs(ctx context.Context, f catalog.RunFilter) ([]catalog.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return nil, fmt.Errorf("service: catalog is disabled: %w", apperr.ErrInvalidInput)
	}
	return s.catalog.ListRuns(f)
}

// Watch encodes req once, then again whenever the source or any markdown
// under the docs root changes, until ctx is cancelled. The output directory is
// fixed for the whole session and excluded from watching. Expansion errors
// during the session are logged and watching continues.
func (s *Service) Watch(ctx context.Context, req EncodeRequest, onEncode func(*EncodeResult)) error {
	if req.OutDir == "" {
		req.OutDir = s.DefaultOutDir(req.Input)
	}
	input, err := filepath.Abs(req.Input)
	if err != nil {
		return fmt.Errorf("service: resolve input: %w", err)
	}
	outDir, err := filepath.Abs(req.OutDir)
	if err != nil {
		return fmt.Errorf("service: resolve output dir: %w", err)
	}
	req.Input, req.OutDir = input, outDir

	encode := func(ctx context.Context) error {
		res, err := s.Encode(ctx, req)
		if err != nil {
			return err
		}
		if onEncode != nil {
			onEncode(res)
		}
		return nil
	}
	if err := encode(ctx); err != nil {
		if apperr.IsUsage(err) {
			return err
		}
		s.logger.Error("service: initial encode failed", slog.String("error", err.Error()))
	}

	return watch.Watch(ctx, watch.Options{
		Root:     s.cfg.DocsRoot,
		Source:   input,
		Skip:     []string{outDir},
		Debounce: s.cfg.WatchDebounce,
	}, s.logger, func(ctx context.Context, changed []string) error {
		s.logger.Debug("service: re-encoding", slog.Any("changed", changed))
		return encode(ctx)
	})
}

// writeFile writes data to an arbitrary path through a storage root at its directory.
func writeFile(path string, data []byte) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("service: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("service: create %s: %w", dir, err)
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		return "", err
	}
	if err := store.Write(filepath.Base(abs), data); err != nil {
		return "", err
	}
	return filepath.Join(store.Root(), filepath.Base(abs)), nil
}
