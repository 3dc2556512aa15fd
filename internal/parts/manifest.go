// Package parts writes chunks as marker-framed, digest-annotated part files and
// verifies such part directories, reconstructing the original document.
package parts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/chunker"
)

// Fixed file names inside a part directory.
const (
	ManifestFile = "manifest.json"
	IndexFile    = "index.md"
	PartGlob     = "part-*.md"
)

// Manifest is the structured index of all parts produced by one encoding run.
type Manifest struct {
	Source    string       `json:"source"`
	Title     string       `json:"title,omitempty"`
	Generated time.Time    `json:"generated"`
	MaxChars  int          `json:"max_chars,omitempty"`
	PartCount int          `json:"part_count"`
	Parts     []PartRecord `json:"parts"`
}

// PartRecord describes one part file. The marker fields hold the literal tokens
// so a verifier never has to assume a header layout.
type PartRecord struct {
	Part          string `json:"part"`
	Index         int    `json:"index"`
	Chars         int    `json:"chars"`
	Words         int    `json:"words"`
	Lines         int    `json:"lines"`
	ApproxTokens  int    `json:"approx_tokens"`
	SHA256        string `json:"sha256"`
	BeginMarker   string `json:"begin_marker"`
	EndBodyMarker string `json:"end_body_marker"`
	EndMarker     string `json:"end_marker"`
	NewlinePadded bool   `json:"newline_padded,omitempty"`
}

// Marshal renders the manifest as indented JSON with a trailing newline.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("parts: marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseManifest decodes and sanity-checks a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parts: decode manifest: %v: %w", err, apperr.ErrInvalidInput)
	}
	if len(m.Parts) == 0 {
		return nil, fmt.Errorf("parts: manifest has no parts: %w", apperr.ErrInvalidInput)
	}
	for i, p := range m.Parts {
		if p.Part == "" || p.SHA256 == "" {
			return nil, fmt.Errorf("parts: manifest entry %d lacks part name or digest: %w", i+1, apperr.ErrInvalidInput)
		}
		if p.BeginMarker == "" {
			m.Parts[i].BeginMarker = DefaultMarkers.BeginBody
		}
		if p.EndBodyMarker == "" {
			m.Parts[i].EndBodyMarker = DefaultMarkers.EndBody
		}
	}
	return &m, nil
}

// Metrics are the body measurements shown in headers and recorded in the manifest.
type Metrics struct {
	Chars        int
	Words        int
	Lines        int
	ApproxTokens int
}

// Measure computes body metrics. Chars counts runes; Lines counts newline
// terminated lines plus a final unterminated one.
func Measure(body string) Metrics {
	lines := strings.Count(body, "\n")
	if body != "" && !strings.HasSuffix(body, "\n") {
		lines++
	}
	return Metrics{
		Chars:        utf8.RuneCountInString(body),
		Words:        len(strings.Fields(body)),
		Lines:        lines,
		ApproxTokens: chunker.EstimateTokens(body),
	}
}
