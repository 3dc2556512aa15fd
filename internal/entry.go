// Package internal wires configuration, logging and the service into the
// commands exposed by the CLI.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/catalog"
	"github.com/starford/mdparts/internal/checksum"
	"github.com/starford/mdparts/internal/service"
)

// ChunkRequest is the input of the chunk and watch commands.
type ChunkRequest = service.EncodeRequest

// VerifyRequest is the input of the verify command.
type VerifyRequest = service.VerifyRequest

func newApplication(opts []Option) (*application, error) {
	app := &application{stdout: os.Stdout, logOut: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := app.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v: %w", err, apperr.ErrInvalidInput)
	}
	return app, nil
}

// setup initialises the JSON logger and the service. The returned cleanup
// closes the catalog when one was opened.
func (a *application) setup() (*service.Service, *slog.Logger, func(), error) {
	cfg := a.config

	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("docs_root", cfg.Docs.Root),
		slog.Int("max_chars", cfg.Chunk.MaxChars),
		slog.Bool("expand_includes", cfg.Chunk.ExpandIncludes),
		slog.Bool("catalog", cfg.Catalog.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	opts := []service.Option{service.WithLogger(logger)}
	cleanup := func() {}
	if cfg.Catalog.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create catalog dir: %w", err)
		}
		db, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init catalog: %w", err)
		}
		opts = append(opts, service.WithCatalog(db))
		cleanup = func() { db.Close() }
	}
	return service.New(cfg.Service(), opts...), logger, cleanup, nil
}

// Chunk encodes one document into part files.
func Chunk(ctx context.Context, req ChunkRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, _, cleanup, err := app.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.Encode(ctx, req)
	if err != nil {
		return err
	}
	printEncode(app.stdout, res)
	return nil
}

func printEncode(w io.Writer, res *service.EncodeResult) {
	fmt.Fprintf(w, "Wrote %d part(s) to %s\n", res.Parts, res.OutDir)
	fmt.Fprintf(w, "  source: %s (%s chars)\n", res.Source, humanize.Comma(int64(res.TotalChars)))
	if res.RunID != "" {
		fmt.Fprintf(w, "  run: %s\n", res.RunID)
	}
}

// Verify checks a part directory and reports every part.
func Verify(ctx context.Context, req VerifyRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, _, cleanup, err := app.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.Verify(ctx, req)
	if err != nil {
		return err
	}
	report := res.Report
	w := app.stdout
	for _, p := range report.Parts {
		if p.OK() {
			fmt.Fprintf(w, "OK    %s  %s\n", p.Record.Part, checksum.Short(p.Digest))
			continue
		}
		for _, e := range p.Errs {
			fmt.Fprintf(w, "FAIL  %s\n", e)
		}
	}
	for _, name := range report.Stray {
		fmt.Fprintf(w, "WARN  %s is not listed in the manifest\n", name)
	}
	if res.RebuiltPath != "" {
		fmt.Fprintf(w, "Rebuilt %s chars to %s\n", humanize.Comma(int64(len([]rune(report.Rebuilt)))), res.RebuiltPath)
	}
	if c := report.Comparison; c != nil {
		if c.Match {
			fmt.Fprintf(w, "Reference matches (sha256 %s)\n", checksum.Short(c.ReferenceDigest))
		} else {
			fmt.Fprintf(w, "Reference differs: expected sha256 %s (%s chars), rebuilt %s (%s chars)\n",
				checksum.Short(c.ReferenceDigest), humanize.Comma(int64(c.ReferenceChars)),
				checksum.Short(c.RebuiltDigest), humanize.Comma(int64(c.RebuiltChars)))
		}
	}
	if err := report.Err(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Verified %d part(s) in %s\n", len(report.Parts), res.Dir)
	return nil
}

// Runs prints recorded encode runs, newest first.
func Runs(ctx context.Context, filter catalog.RunFilter, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, _, cleanup, err := app.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := svc.Runs(ctx, filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(app.stdout, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(app.stdout, "%s  %-14s  %3d part(s)  %9s chars  %s -> %s\n",
			r.ID, humanize.Time(r.Generated), r.PartCount, humanize.Comma(int64(r.TotalChars)), r.Source, r.OutDir)
	}
	return nil
}

// Watch encodes req and keeps re-encoding on changes until ctx is cancelled
// or the process receives SIGINT or SIGTERM.
func Watch(ctx context.Context, req ChunkRequest, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, logger, cleanup, err := app.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, cancel := context.WithCancel(gCtx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return svc.Watch(watchCtx, req, func(res *service.EncodeResult) {
			printEncode(app.stdout, res)
		})
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-watchCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Watch error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Watch stopped")
	return nil
}
