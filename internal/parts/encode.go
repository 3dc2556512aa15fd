package parts

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/checksum"
	"github.com/starford/mdparts/internal/chunker"
	"github.com/starford/mdparts/internal/storage"
)

// ErrEmptyDocument is returned when there is nothing to encode.
var ErrEmptyDocument = fmt.Errorf("parts: document has no content: %w", apperr.ErrInvalidInput)

// EncoderConfig is the fixed set of knobs that shape part files.
type EncoderConfig struct {
	// DigestLines is the number of head/tail lines shown as a human
	// fingerprint in each header. Zero disables the fingerprint.
	DigestLines int
	// Markers overrides the framing tokens. Empty fields use DefaultMarkers.
	Markers Markers
	// Now is the clock for the generation timestamp. Defaults to time.Now.
	Now func() time.Time
	// Logger receives per-part debug lines.
	Logger *slog.Logger
}

// Source identifies the document a bundle was built from.
type Source struct {
	Path     string // as shown in headers and the manifest
	Title    string
	MaxChars int
}

// Part is one chunk ready to be written.
type Part struct {
	Index   int
	Total   int
	File    string
	Body    string
	Metrics Metrics
	Digest  string
	Padded  bool
	Content []byte // full file: header, markers and body
}

// Bundle is the complete output of one encoding run.
type Bundle struct {
	Parts    []Part
	Manifest *Manifest
	Index    []byte
}

// Encoder turns chunks into part files.
type Encoder struct {
	cfg EncoderConfig
}

// NewEncoder creates an Encoder, filling in defaults.
func NewEncoder(cfg EncoderConfig) *Encoder {
	cfg.Markers = cfg.Markers.withDefaults()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DigestLines < 0 {
		cfg.DigestLines = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Encoder{cfg: cfg}
}

// PartFileName returns the file name for part i of n, zero padded to at least two digits.
func PartFileName(i, n int) string {
	width := max(2, len(fmt.Sprint(n)))
	return fmt.Sprintf("part-%0*d.md", width, i)
}

// Build computes every part, its digest, the index page and the manifest
// without touching the filesystem.
func (e *Encoder) Build(chunks []chunker.Chunk, src Source) (*Bundle, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	generated := e.cfg.Now().Truncate(time.Second)
	m := e.cfg.Markers
	n := len(chunks)

	manifest := &Manifest{
		Source:    src.Path,
		Title:     src.Title,
		Generated: generated,
		MaxChars:  src.MaxChars,
		PartCount: n,
		Parts:     make([]PartRecord, 0, n),
	}
	bundle := &Bundle{Parts: make([]Part, 0, n), Manifest: manifest}

	for i, c := range chunks {
		idx := i + 1
		p := Part{
			Index:   idx,
			Total:   n,
			File:    PartFileName(idx, n),
			Body:    c.Text,
			Metrics: Measure(c.Text),
			Digest:  checksum.SumString(c.Text),
			Padded:  !strings.HasSuffix(c.Text, "\n"),
		}
		p.Content = e.render(p, src, generated)

		bundle.Parts = append(bundle.Parts, p)
		manifest.Parts = append(manifest.Parts, PartRecord{
			Part:          p.File,
			Index:         idx,
			Chars:         p.Metrics.Chars,
			Words:         p.Metrics.Words,
			Lines:         p.Metrics.Lines,
			ApproxTokens:  p.Metrics.ApproxTokens,
			SHA256:        p.Digest,
			BeginMarker:   m.BeginBody,
			EndBodyMarker: m.EndBody,
			EndMarker:     m.endToken(idx, n),
			NewlinePadded: p.Padded,
		})
	}

	bundle.Index = renderIndex(src, bundle.Parts, m)
	return bundle, nil
}

// render lays out one part file: header, begin marker, body verbatim, end
// marker, end-of-part marker. A body without a final newline gets one padding
// newline so the end marker starts its own line; the digest excludes it.
func (e *Encoder) render(p Part, src Source, generated time.Time) []byte {
	m := e.cfg.Markers
	head, tail := fingerprint(p.Body, e.cfg.DigestLines)
	title := src.Title
	if title == "" {
		title = src.Path
	}

	var b strings.Builder
	b.Grow(len(p.Body) + 1024)
	b.WriteString(renderHeader(headerFields{
		Title:     title,
		Source:    src.Path,
		Index:     p.Index,
		Total:     p.Total,
		Metrics:   p.Metrics,
		Digest:    p.Digest,
		Generated: generated,
		Head:      m.elide(head),
		Tail:      m.elide(tail),
		Lines:     e.cfg.DigestLines,
	}))
	b.WriteString(markerLine(m.BeginBody))
	b.WriteString("\n")
	b.WriteString(p.Body)
	if p.Padded {
		b.WriteString("\n")
	}
	b.WriteString(markerLine(m.EndBody))
	b.WriteString("\n")
	b.WriteString(markerLine(m.endToken(p.Index, p.Total)))
	b.WriteString("\n")
	return []byte(b.String())
}

func renderIndex(src Source, ps []Part, m Markers) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chat chunks: `%s`\n\n", src.Path)
	if src.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", oneLine(src.Title))
	}
	fmt.Fprintf(&b, "Generated to avoid interface truncation. Each part ends with `%s`.\n\n", markerLine(m.EndOfPart+" n/N"))
	fmt.Fprintf(&b, "Integrity: each part includes a SHA-256 digest of its body; `%s` lists all of them.\n\n", ManifestFile)
	b.WriteString("## Parts\n\n")
	var total int
	for _, p := range ps {
		total += p.Metrics.Chars
		fmt.Fprintf(&b, "- [%s](%s): %s chars, %s, `%s`\n",
			strings.TrimSuffix(p.File, ".md"), p.File,
			humanize.Comma(int64(p.Metrics.Chars)),
			humanize.Bytes(uint64(len(p.Body))),
			checksum.Short(p.Digest))
	}
	fmt.Fprintf(&b, "\nTotal: %d part(s), %s chars.\n", len(ps), humanize.Comma(int64(total)))
	return []byte(b.String())
}

// Write persists a bundle. The previous manifest is removed first and the new
// one is written last, so an interrupted run never leaves a manifest whose
// digests disagree with the part files next to it. Part files left over from
// an earlier, longer run are deleted.
func (e *Encoder) Write(store *storage.FS, b *Bundle) error {
	if err := store.Delete(ManifestFile); err != nil {
		return fmt.Errorf("parts: clear manifest: %w", err)
	}

	keep := make(map[string]struct{}, len(b.Parts))
	for _, p := range b.Parts {
		if err := store.Write(p.File, p.Content); err != nil {
			return fmt.Errorf("parts: write %s: %w", p.File, err)
		}
		keep[p.File] = struct{}{}
		e.cfg.Logger.Debug("parts: wrote part",
			slog.String("part", p.File),
			slog.Int("chars", p.Metrics.Chars),
			slog.String("sha256", checksum.Short(p.Digest)))
	}

	existing, err := store.Glob(PartGlob)
	if err != nil {
		return err
	}
	for _, name := range existing {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := store.Delete(name); err != nil {
			return fmt.Errorf("parts: remove stale %s: %w", name, err)
		}
		e.cfg.Logger.Debug("parts: removed stale part", slog.String("part", name))
	}

	if err := store.Write(IndexFile, b.Index); err != nil {
		return fmt.Errorf("parts: write index: %w", err)
	}
	data, err := b.Manifest.Marshal()
	if err != nil {
		return err
	}
	if err := store.Write(ManifestFile, data); err != nil {
		return fmt.Errorf("parts: write manifest: %w", err)
	}
	return nil
}
