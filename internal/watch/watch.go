// Package watch re-runs an action when markdown under a docs root changes.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/mdparts/internal/checksum"
	"github.com/starford/mdparts/internal/storage"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// Options describes what to watch.
type Options struct {
	Root     string        // docs root; every subdirectory is watched
	Source   string        // document being chunked, may live outside Root
	Skip     []string      // directories never watched, typically output directories
	Debounce time.Duration // quiet period before a change is acted on
}

// ChangeFunc is called with the sorted paths whose content changed since the
// previous call. Paths under Root are root-relative; Source is reported as given.
// A returned error is logged and watching continues.
type ChangeFunc func(ctx context.Context, changed []string) error

// Watch blocks until ctx is cancelled. Bursts of events are debounced and
// compared against checksums so touches and rewrites with identical content
// do not trigger fn.
func Watch(ctx context.Context, opts Options, logger *slog.Logger, fn ChangeFunc) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	store, err := storage.NewFS(opts.Root)
	if err != nil {
		return err
	}
	skip := make([]string, 0, len(opts.Skip))
	for _, s := range opts.Skip {
		if abs, err := filepath.Abs(s); err == nil {
			if real, err := filepath.EvalSymlinks(abs); err == nil {
				abs = real
			}
			skip = append(skip, abs)
		}
	}
	s := &state{store: store, source: opts.Source, skip: skip}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := s.addDirsRecursive(w, store.Root()); err != nil {
		return err
	}
	if opts.Source != "" {
		if _, ok := store.Rel(opts.Source); !ok {
			if err := w.Add(filepath.Dir(opts.Source)); err != nil {
				return err
			}
		}
	}

	last, err := s.snapshot()
	if err != nil {
		return err
	}
	logger.Info("watch: started",
		slog.String("root", store.Root()),
		slog.String("source", opts.Source),
		slog.Int("files", len(last)))

	// debounce delays the checksum pass until events stop arriving.
	var debounce *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(opts.Debounce)
			fire = debounce.C
			return
		}
		debounce.Reset(opts.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("watch: stopped")
			return nil

		case <-fire:
			next, err := s.snapshot()
			if err != nil {
				logger.Warn("watch: snapshot failed", slog.String("error", err.Error()))
				continue
			}
			changed := diff(last, next)
			last = next
			if len(changed) == 0 {
				logger.Debug("watch: no content change")
				continue
			}
			logger.Info("watch: change detected",
				slog.Int("files", len(changed)),
				slog.String("first", changed[0]))
			if err := fn(ctx, changed); err != nil {
				logger.Error("watch: action failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if s.skipped(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := s.addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watch: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watch: watching new dir", slog.String("path", ev.Name))
					}
					schedule()
					continue
				}
			}
			if !s.relevant(ev.Name) {
				continue
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", watchErr.Error()))
		}
	}
}

type state struct {
	store  *storage.FS
	source string
	skip   []string
}

// snapshot maps every watched markdown file, plus the source, to its checksum.
func (s *state) snapshot() (map[string]string, error) {
	metas, err := s.store.List("", ".md", s.skip...)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]string, len(metas)+1)
	for _, m := range metas {
		snap[m.Path] = m.Checksum
	}
	if s.source == "" {
		return snap, nil
	}
	if rel, ok := s.store.Rel(s.source); ok {
		if _, listed := snap[rel]; listed {
			return snap, nil
		}
	}
	if data, err := os.ReadFile(s.source); err == nil {
		snap[s.source] = checksum.Sum(data)
	}
	return snap, nil
}

func (s *state) relevant(path string) bool {
	return strings.HasSuffix(path, ".md") || path == s.source
}

func (s *state) skipped(path string) bool {
	for _, dir := range s.skip {
		if path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories, except skipped ones, to the watcher.
func (s *state) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if s.skipped(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// diff returns the sorted keys that were added, removed or whose checksum changed.
func diff(prev, next map[string]string) []string {
	var out []string
	for p, cs := range next {
		if prev[p] != cs {
			out = append(out, p)
		}
	}
	for p := range prev {
		if _, ok := next[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
