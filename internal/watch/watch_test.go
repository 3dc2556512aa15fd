package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) fn(_ context.Context, changed []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, changed)
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func startWatch(t *testing.T, opts Options, fn ChangeFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, opts, slog.New(slog.NewJSONHandler(io.Discard, nil)), fn) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watch did not stop after cancel")
		}
	})
	time.Sleep(100 * time.Millisecond)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiff(t *testing.T) {
	prev := map[string]string{"a.md": "1", "b.md": "2", "gone.md": "3"}
	next := map[string]string{"a.md": "1", "b.md": "changed", "new.md": "4"}
	assert.Equal(t, []string{"b.md", "gone.md", "new.md"}, diff(prev, next))
	assert.Empty(t, diff(next, next))
}

func TestWatch_ContentChangeTriggers(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "doc.md")
	writeFile(t, src, "# Doc\n")

	rec := &recorder{}
	startWatch(t, Options{Root: root, Source: src, Debounce: 50 * time.Millisecond}, rec.fn)

	writeFile(t, src, "# Doc\n\nmore\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"doc.md"}, rec.snapshot()[0])
}

func TestWatch_IgnoresIdenticalRewritesAndSkippedDirs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "doc.md")
	out := filepath.Join(root, "reference", "out")
	writeFile(t, src, "# Doc\n")
	require.NoError(t, os.MkdirAll(out, 0o755))

	rec := &recorder{}
	startWatch(t, Options{Root: root, Source: src, Skip: []string{out}, Debounce: 50 * time.Millisecond}, rec.fn)

	writeFile(t, src, "# Doc\n")
	writeFile(t, filepath.Join(out, "part-01.md"), "generated\n")
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	writeFile(t, filepath.Join(root, "_atoms", "a.md"), "atom\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"_atoms/a.md"}, rec.snapshot()[0])
}

func TestWatch_SourceOutsideRoot(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "standalone.md")
	writeFile(t, src, "v1\n")

	rec := &recorder{}
	startWatch(t, Options{Root: root, Source: src, Debounce: 50 * time.Millisecond}, rec.fn)

	writeFile(t, src, "v2\n")
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{src}, rec.snapshot()[0])
}

func TestWatch_MissingRoot(t *testing.T) {
	err := Watch(context.Background(), Options{Root: filepath.Join(t.TempDir(), "nope")}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.Error(t, err)
}
