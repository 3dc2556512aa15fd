package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/chunker"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"missing input", fmt.Errorf("storage: x.md: %w", apperr.ErrInputNotFound), exitUsage},
		{"bad budget", chunker.ErrInvalidBudget, exitUsage},
		{"bad args", usageError{msg: "chunk: expected exactly one file argument"}, exitUsage},
		{"cycle", fmt.Errorf("include: %w", apperr.ErrIncludeCycle), exitFailed},
		{"verification", fmt.Errorf("%w: %w", apperr.ErrVerificationFailed, apperr.ErrDigestMismatch), exitFailed},
		{"other", errors.New("disk full"), exitFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestRun_FlagErrorsExitWithUsage(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"non-numeric budget", []string{"mdparts", "chunk", "--max-chars", "abc", "x.md"}},
		{"unknown chunk flag", []string{"mdparts", "chunk", "--no-such-flag", "x.md"}},
		{"unknown verify flag", []string{"mdparts", "verify", "--bogus", "out"}},
		{"non-numeric limit", []string{"mdparts", "runs", "--limit", "many"}},
		{"unknown global flag", []string{"mdparts", "--nope", "runs"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newCommand()
			cmd.Writer = io.Discard
			cmd.ErrWriter = io.Discard

			err := cmd.Run(context.Background(), tc.args)
			require.Error(t, err)
			var ue usageError
			assert.True(t, errors.As(err, &ue), "got %T: %v", err, err)
			assert.Equal(t, exitUsage, exitCode(err))
		})
	}
}
