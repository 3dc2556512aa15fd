// Package storage provides root-confined file access for source trees and part directories.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/checksum"
)

// FileMeta describes one file found by List.
type FileMeta struct {
	Path      string // relative to root, slash separated
	Checksum  string
	UpdatedAt time.Time
}

// FS confines reads and writes to a single root directory.
type FS struct {
	root string // absolute, symlinks evaluated
}

// NewFS creates a new FS rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: root %s: %w", abs, apperr.ErrInputNotFound)
		}
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s: %w", abs, apperr.ErrInputNotFound)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string {
	return f.root
}

// Resolve maps a root-relative path to an absolute one and rejects any result
// that escapes the root, either lexically or through a symlink.
func (f *FS) Resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute path %q: %w", rel, apperr.ErrUnsafePath)
	}
	abs := filepath.Join(f.root, cleaned)
	if !f.contains(abs) {
		return "", fmt.Errorf("storage: path %q escapes root: %w", rel, apperr.ErrUnsafePath)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil && !f.contains(real) {
		return "", fmt.Errorf("storage: path %q links outside root: %w", rel, apperr.ErrUnsafePath)
	}
	return abs, nil
}

func (f *FS) contains(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

// Rel returns the slash-separated path of abs relative to the root.
func (f *FS) Rel(abs string) (string, bool) {
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	if !f.contains(abs) {
		return "", false
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Exists reports whether a regular file exists at rel.
func (f *FS) Exists(rel string) bool {
	abs, err := f.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// Read returns the raw bytes of a file under the root.
func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", rel, err)
	}
	return data, nil
}

// ReadText reads a file and decodes it as UTF-8, replacing invalid sequences.
func (f *FS) ReadText(rel string) (string, error) {
	data, err := f.Read(rel)
	if err != nil {
		return "", err
	}
	return DecodeUTF8(data), nil
}

// Write atomically writes content: tmp file → fsync → chmod → rename.
func (f *FS) Write(rel string, content []byte) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mdparts-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a file under the root. Deleting a missing file is not an error.
func (f *FS) Delete(rel string) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", rel, err)
	}
	return nil
}

// Glob returns the sorted root-relative names of files in the root directory
// matching pattern (filepath.Match syntax, no subdirectories).
func (f *FS) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(f.root, pattern))
	if err != nil {
		return nil, fmt.Errorf("storage: glob %q: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			continue
		}
		out = append(out, filepath.Base(m))
	}
	sort.Strings(out)
	return out, nil
}

// List walks dir (relative to root) and returns metadata for every file with
// the given extension. Directories listed in skip (absolute paths) are not entered.
func (f *FS) List(dir, ext string, skip ...string) ([]FileMeta, error) {
	base, err := f.Resolve(dir)
	if err != nil {
		return nil, err
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		skipped[filepath.Clean(s)] = struct{}{}
	}
	var out []FileMeta
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if _, ok := skipped[p]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, FileMeta{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// ReadText reads any file by path and decodes it as UTF-8 with replacement.
// A missing file is reported as apperr.ErrInputNotFound.
func ReadText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("storage: %s: %w", path, apperr.ErrInputNotFound)
		}
		return "", fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("storage: %s is a directory: %w", path, apperr.ErrInputNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", path, err)
	}
	return DecodeUTF8(data), nil
}

// DecodeUTF8 converts data to a string, replacing each invalid byte with U+FFFD.
func DecodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	}
	return string(out)
}
