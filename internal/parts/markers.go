package parts

import (
	"fmt"
	"strings"
)

// Markers holds the literal tokens that frame a part body.
type Markers struct {
	BeginBody string
	EndBody   string
	EndOfPart string
}

// DefaultMarkers are written by the encoder unless configured otherwise.
var DefaultMarkers = Markers{
	BeginBody: "CHUNK_BEGIN_BODY",
	EndBody:   "CHUNK_END_BODY",
	EndOfPart: "END_OF_PART",
}

// markerLine renders a token as a full HTML-comment line, without newline.
func markerLine(token string) string {
	return "<!-- " + token + " -->"
}

// endToken returns the end-of-part token for part i of n.
func (m Markers) endToken(i, n int) string {
	return fmt.Sprintf("%s %d/%d", m.EndOfPart, i, n)
}

// withDefaults fills empty tokens from DefaultMarkers.
func (m Markers) withDefaults() Markers {
	if m.BeginBody == "" {
		m.BeginBody = DefaultMarkers.BeginBody
	}
	if m.EndBody == "" {
		m.EndBody = DefaultMarkers.EndBody
	}
	if m.EndOfPart == "" {
		m.EndOfPart = DefaultMarkers.EndOfPart
	}
	return m
}

// elide replaces marker lines inside cosmetic header text so the verifier can
// never mistake a fingerprint for a real body boundary. A line counts as a
// marker under the same normalisation the verifier applies.
func (m Markers) elide(s string) string {
	begin, end := markerLine(m.BeginBody), markerLine(m.EndBody)
	lines := strings.SplitAfter(s, "\n")
	for i, ln := range lines {
		if c := lineContent(ln); c == begin || c == end {
			lines[i] = "<!-- marker elided -->" + ln[len(strings.TrimRight(ln, "\r\n")):]
		}
	}
	return strings.Join(lines, "")
}

// lineContent strips the terminator and trailing whitespace a copy/paste may add.
func lineContent(ln string) string {
	return strings.TrimRight(ln, " \t\r\n")
}
