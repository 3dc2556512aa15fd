// Package include expands snippet-inclusion directives of the form
//
//	--8<-- "relative/path.md"
//
// into the referenced file's content, recursively. Targets must stay inside the
// trusted root; cycles and excessive nesting are rejected.
package include

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/storage"
)

// DefaultMaxDepth is the nesting limit used when no option overrides it.
const DefaultMaxDepth = 10

var directiveRe = regexp.MustCompile(`^\s*--8<--\s+"([^"]+)"\s*$`)

// Error describes a failed expansion with enough context to act on.
type Error struct {
	Err      error    // one of the apperr expansion sentinels
	Path     string   // directive path as written
	Resolved string   // absolute path, when resolution got that far
	Chain    []string // expansion stack, root-relative, including the offending path
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("include: ")
	b.WriteString(e.Err.Error())
	fmt.Fprintf(&b, " %q", e.Path)
	if e.Resolved != "" {
		fmt.Fprintf(&b, " (resolved: %s)", e.Resolved)
	}
	if len(e.Chain) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Chain, " -> "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures an Expander.
type Option func(*Expander)

// WithMaxDepth overrides the nesting limit.
func WithMaxDepth(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithLogger sets the logger used for per-include debug lines.
func WithLogger(l *slog.Logger) Option {
	return func(e *Expander) {
		if l != nil {
			e.logger = l
		}
	}
}

// Expander resolves directives against a trusted root.
type Expander struct {
	root     *storage.FS
	maxDepth int
	logger   *slog.Logger
}

// New creates an Expander confined to root.
func New(root *storage.FS, opts ...Option) *Expander {
	e := &Expander{
		root:     root,
		maxDepth: DefaultMaxDepth,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// frame is one document being expanded: its identity and the lines not yet emitted.
type frame struct {
	key   string
	lines []string
}

// Expand replaces every directive in text with the expanded target content.
func (e *Expander) Expand(text string) (string, error) {
	return e.expand(text, "")
}

// ExpandFile reads rel under the root and expands it. The file itself counts as
// the bottom of the stack, so a directive pointing back at it is a cycle.
func (e *Expander) ExpandFile(rel string) (string, error) {
	abs, err := e.root.Resolve(rel)
	if err != nil {
		return "", &Error{Err: apperr.ErrUnsafePath, Path: rel}
	}
	text, err := e.root.ReadText(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("include: source %s: %w", rel, apperr.ErrInputNotFound)
		}
		return "", err
	}
	return e.expand(text, stackKey(abs))
}

// expand walks an explicit stack of frames instead of recursing, so depth is
// bounded by maxDepth and the cycle check is a set lookup.
func (e *Expander) expand(text, origin string) (string, error) {
	var out strings.Builder
	out.Grow(len(text))

	onStack := make(map[string]struct{})
	stack := []frame{{key: origin, lines: splitLines(text)}}
	if origin != "" {
		onStack[origin] = struct{}{}
	}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.lines) == 0 {
			delete(onStack, top.key)
			stack = stack[:len(stack)-1]
			continue
		}
		line := top.lines[0]
		top.lines = top.lines[1:]

		m := directiveRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
		if m == nil {
			out.WriteString(line)
			continue
		}

		rel := strings.TrimSpace(m[1])
		next, err := e.open(rel, stack, onStack)
		if err != nil {
			return "", err
		}
		e.logger.Debug("include: expanded",
			slog.String("path", rel),
			slog.Int("depth", len(stack)))
		stack = append(stack, next)
		onStack[next.key] = struct{}{}
	}

	return out.String(), nil
}

// open validates a directive target against the current stack and loads it.
func (e *Expander) open(rel string, stack []frame, onStack map[string]struct{}) (frame, error) {
	abs, err := e.root.Resolve(rel)
	if err != nil {
		return frame{}, &Error{
			Err:      apperr.ErrUnsafePath,
			Path:     rel,
			Resolved: filepath.Join(e.root.Root(), filepath.FromSlash(rel)),
		}
	}
	if !e.root.Exists(rel) {
		return frame{}, &Error{Err: apperr.ErrIncludeNotFound, Path: rel, Resolved: abs}
	}
	key := stackKey(abs)
	if _, ok := onStack[key]; ok {
		return frame{}, &Error{
			Err:      apperr.ErrIncludeCycle,
			Path:     rel,
			Resolved: abs,
			Chain:    append(e.chain(stack), e.display(key)),
		}
	}
	if len(stack) > e.maxDepth {
		return frame{}, &Error{
			Err:      apperr.ErrDepthExceeded,
			Path:     rel,
			Resolved: abs,
			Chain:    append(e.chain(stack), e.display(abs)),
		}
	}
	text, err := e.root.ReadText(rel)
	if err != nil {
		return frame{}, fmt.Errorf("include: read %s: %w", rel, err)
	}
	return frame{key: key, lines: splitLines(text)}, nil
}

// stackKey identifies a file on the stack by its real path, so a symlink back
// to an open file is still a cycle.
func stackKey(abs string) string {
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

func (e *Expander) chain(stack []frame) []string {
	out := make([]string, 0, len(stack)+1)
	for _, f := range stack {
		if f.key == "" {
			out = append(out, "<input>")
			continue
		}
		out = append(out, e.display(f.key))
	}
	return out
}

func (e *Expander) display(abs string) string {
	if rel, ok := e.root.Rel(abs); ok {
		return rel
	}
	return abs
}

// splitLines splits text after each '\n', keeping terminators, so joining the
// result reproduces text exactly.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
