package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mdparts/internal"
	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/catalog"
	pkgconfig "github.com/starford/mdparts/pkg/config"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// usageError marks command-line mistakes that never reach the application.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// loadConfig reads the config file, if any, and applies command flags on top.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v: %w", err, apperr.ErrInvalidInput)
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("--log-level: %v: %w", err, apperr.ErrInvalidInput)
		}
	}
	if cmd.IsSet("docs-root") {
		cfg.Docs.Root = cmd.String("docs-root")
	}
	if cmd.IsSet("max-chars") {
		cfg.Chunk.MaxChars = int(cmd.Int("max-chars"))
	}
	if cmd.IsSet("digest-lines") {
		cfg.Chunk.DigestLines = int(cmd.Int("digest-lines"))
	}
	if cmd.IsSet("expand-includes") {
		cfg.Chunk.ExpandIncludes = cmd.Bool("expand-includes")
	}
	return cfg, nil
}

func onePath(cmd *cli.Command, what string) (string, error) {
	if cmd.NArg() != 1 {
		return "", usageError{msg: fmt.Sprintf("%s: expected exactly one %s argument", cmd.Name, what)}
	}
	return cmd.Args().First(), nil
}

func chunk(ctx context.Context, cmd *cli.Command) error {
	input, err := onePath(cmd, "file")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Chunk(ctx, internal.ChunkRequest{Input: input, OutDir: cmd.String("out")}, internal.WithConfig(cfg))
}

func verify(ctx context.Context, cmd *cli.Command) error {
	dir, err := onePath(cmd, "directory")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Verify(ctx, internal.VerifyRequest{
		Dir:             dir,
		Rebuild:         cmd.String("rebuild"),
		CompareOriginal: cmd.String("compare-original"),
	}, internal.WithConfig(cfg))
}

func watch(ctx context.Context, cmd *cli.Command) error {
	input, err := onePath(cmd, "file")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, internal.ChunkRequest{Input: input, OutDir: cmd.String("out")}, internal.WithConfig(cfg))
}

func runs(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Runs(ctx, catalog.RunFilter{
		Source: cmd.String("source"),
		Limit:  int(cmd.Int("limit")),
	}, internal.WithConfig(cfg))
}

func chunkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-chars",
			Usage: "Maximum characters per part body",
			Value: 6000,
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Output directory (default <docs-root>/reference/exports_<date>/chat_chunks/<stem>)",
		},
		&cli.BoolFlag{
			Name:  "expand-includes",
			Usage: "Expand --8<-- \"path\" directives relative to the docs root",
		},
		&cli.IntFlag{
			Name:  "digest-lines",
			Usage: "Head/tail lines shown in each part header",
			Value: 5,
		},
		&cli.StringFlag{
			Name:  "docs-root",
			Usage: "Trusted docs root for includes and default output",
			Value: "docs",
		},
	}
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), apperr.IsUsage(err):
		return exitUsage
	default:
		return exitFailed
	}
}

// usageFailed turns flag parsing errors into usageError so they exit with exitUsage.
func usageFailed(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return usageError{msg: err.Error()}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:         "mdparts",
		Usage:        "Split markdown into chat-safe, integrity-checked parts and verify them",
		OnUsageError: usageFailed,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("MDPARTS_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:         "chunk",
				Usage:        "Split a markdown file into parts with digests and a manifest",
				ArgsUsage:    "<path>",
				Flags:        chunkFlags(),
				Action:       chunk,
				OnUsageError: usageFailed,
			},
			{
				Name:      "verify",
				Usage:     "Verify a part directory and optionally rebuild the document",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rebuild", Usage: "Write the reconstructed document to this path"},
					&cli.StringFlag{Name: "compare-original", Usage: "Compare the reconstruction with this file"},
				},
				Action:       verify,
				OnUsageError: usageFailed,
			},
			{
				Name:         "watch",
				Usage:        "Chunk a file and re-chunk whenever it or the docs tree changes",
				ArgsUsage:    "<path>",
				Flags:        chunkFlags(),
				Action:       watch,
				OnUsageError: usageFailed,
			},
			{
				Name:  "runs",
				Usage: "List recorded runs from the catalog",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum runs to list", Value: 20},
					&cli.StringFlag{Name: "source", Usage: "Only runs of this source path"},
				},
				Action:       runs,
				OnUsageError: usageFailed,
			},
		},
	}
}

func main() {
	err := newCommand().Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
	}
	os.Exit(exitCode(err))
}
