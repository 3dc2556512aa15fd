package parts

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/checksum"
	"github.com/starford/mdparts/internal/storage"
)

// VerifyOptions tunes a verification run.
type VerifyOptions struct {
	// Reference is the original document text. When set, the reconstruction
	// is compared against it.
	Reference *string
	Logger    *slog.Logger
}

// PartError is a single failed check on one part.
type PartError struct {
	Part     string
	Err      error // one of the apperr verification sentinels
	Expected string
	Actual   string
	Detail   string
}

func (e *PartError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parts: %s: %s", e.Part, e.Err)
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *PartError) Unwrap() error { return e.Err }

// PartResult is the outcome for one manifest entry.
type PartResult struct {
	Record PartRecord
	Body   string // extracted body, empty when markers could not be located
	Digest string // digest of Body, empty when no body was extracted
	Errs   []error
}

// OK reports whether every check on the part passed.
func (r PartResult) OK() bool { return len(r.Errs) == 0 }

// Comparison is the result of checking the reconstruction against a reference.
type Comparison struct {
	Match           bool
	ReferenceDigest string
	RebuiltDigest   string
	ReferenceChars  int
	RebuiltChars    int
}

// Report aggregates every check of a verification run.
type Report struct {
	Manifest   *Manifest
	Parts      []PartResult
	Rebuilt    string
	Comparison *Comparison
	Stray      []string // part files present on disk but absent from the manifest
}

// Failures returns every collected error in manifest order, followed by the
// reference comparison failure if any.
func (r *Report) Failures() []error {
	var out []error
	for _, p := range r.Parts {
		out = append(out, p.Errs...)
	}
	if r.Comparison != nil && !r.Comparison.Match {
		out = append(out, &PartError{
			Part:     "reconstruction",
			Err:      apperr.ErrCompareMismatch,
			Expected: checksum.Short(r.Comparison.ReferenceDigest),
			Actual:   checksum.Short(r.Comparison.RebuiltDigest),
		})
	}
	return out
}

// OK reports whether verification passed. Stray files do not affect it.
func (r *Report) OK() bool {
	return len(r.Failures()) == 0
}

// Err returns nil when the report is OK, otherwise an error wrapping
// apperr.ErrVerificationFailed and every individual failure.
func (r *Report) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", apperr.ErrVerificationFailed, errors.Join(failures...))
}

// Verify checks every part named by the manifest in store and reconstructs the
// document. The returned error is reserved for problems that prevent
// verification from starting (missing or invalid manifest); per-part problems
// land in the report.
func Verify(store *storage.FS, opts VerifyOptions) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	data, err := store.Read(ManifestFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("parts: %s in %s: %w", ManifestFile, store.Root(), apperr.ErrInputNotFound)
		}
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	report := &Report{Manifest: m, Parts: make([]PartResult, 0, len(m.Parts))}
	var rebuilt strings.Builder
	named := make(map[string]struct{}, len(m.Parts))

	for i, rec := range m.Parts {
		named[rec.Part] = struct{}{}
		if rec.Index == 0 {
			rec.Index = i + 1
		}
		res := checkPart(store, rec, len(m.Parts))
		rebuilt.WriteString(res.Body)
		report.Parts = append(report.Parts, res)
		logger.Debug("parts: verified part",
			slog.String("part", rec.Part),
			slog.Int("failures", len(res.Errs)))
	}
	report.Rebuilt = rebuilt.String()

	if opts.Reference != nil {
		ref := *opts.Reference
		report.Comparison = &Comparison{
			ReferenceDigest: checksum.SumString(ref),
			RebuiltDigest:   checksum.SumString(report.Rebuilt),
			ReferenceChars:  Measure(ref).Chars,
			RebuiltChars:    Measure(report.Rebuilt).Chars,
		}
		report.Comparison.Match = report.Comparison.ReferenceDigest == report.Comparison.RebuiltDigest
	}

	onDisk, err := store.Glob(PartGlob)
	if err != nil {
		return nil, err
	}
	for _, name := range onDisk {
		if _, ok := named[name]; !ok {
			report.Stray = append(report.Stray, name)
			logger.Warn("parts: stray part file not in manifest", slog.String("part", name))
		}
	}
	return report, nil
}

func checkPart(store *storage.FS, rec PartRecord, total int) PartResult {
	res := PartResult{Record: rec}
	fail := func(err error, expected, actual, detail string) {
		res.Errs = append(res.Errs, &PartError{Part: rec.Part, Err: err, Expected: expected, Actual: actual, Detail: detail})
	}

	if !store.Exists(rec.Part) {
		fail(apperr.ErrPartMissing, "", "", "")
		return res
	}
	text, err := store.ReadText(rec.Part)
	if err != nil {
		fail(apperr.ErrPartMissing, "", "", err.Error())
		return res
	}

	lines := splitLines(text)
	body, after, err := extractBody(lines, rec)
	if err != nil {
		fail(apperr.ErrMalformedMarkers, "", "", err.Error())
	} else {
		res.Body = body
		res.Digest = checksum.SumString(body)
		if res.Digest != rec.SHA256 {
			fail(apperr.ErrDigestMismatch, rec.SHA256, res.Digest, "")
		}
	}

	endToken := rec.EndMarker
	if endToken == "" {
		endToken = DefaultMarkers.endToken(rec.Index, total)
	}
	if !hasLine(lines[after:], markerLine(endToken)) {
		fail(apperr.ErrMissingEndMarker, "", "", fmt.Sprintf("want %q", markerLine(endToken)))
	}
	return res
}

// extractBody returns the text between the first begin marker line and the
// last end-body marker line, with the recorded padding newline removed. after
// is the index of the first line following the end-body marker, or 0 when
// the markers could not be located.
func extractBody(lines []string, rec PartRecord) (body string, after int, err error) {
	begin, end := markerLine(rec.BeginMarker), markerLine(rec.EndBodyMarker)

	bodyStart := -1
	for i, ln := range lines {
		if lineContent(ln) == begin {
			bodyStart = i + 1
			break
		}
	}
	endLine := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if lineContent(lines[i]) == end {
			endLine = i
			break
		}
	}

	switch {
	case bodyStart < 0 && endLine < 0:
		return "", 0, errors.New("begin and end body markers not found")
	case bodyStart < 0:
		return "", 0, fmt.Errorf("begin marker %q not found", begin)
	case endLine < 0:
		return "", 0, fmt.Errorf("end body marker %q not found", end)
	case endLine < bodyStart:
		return "", 0, errors.New("end body marker precedes begin marker")
	}

	body = strings.Join(lines[bodyStart:endLine], "")
	if rec.NewlinePadded {
		body = strings.TrimSuffix(body, "\n")
	}
	return body, endLine + 1, nil
}

func hasLine(lines []string, want string) bool {
	for _, ln := range lines {
		if lineContent(ln) == want {
			return true
		}
	}
	return false
}

func splitLines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
