package parts

import (
	"fmt"
	"strings"
	"time"
)

// headerFields is everything a part header shows. The header is cosmetic: the
// verifier reads only the markers and the manifest.
type headerFields struct {
	Title     string
	Source    string
	Index     int
	Total     int
	Metrics   Metrics
	Digest    string
	Generated time.Time
	Head      string // first DigestLines lines, empty when disabled
	Tail      string // last DigestLines lines
	Lines     int    // DigestLines
}

func renderHeader(h headerFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: part %d/%d\n\n", oneLine(h.Title), h.Index, h.Total)
	fmt.Fprintf(&b, "- Source: `%s`\n", h.Source)
	fmt.Fprintf(&b, "- Characters (body): %d\n", h.Metrics.Chars)
	fmt.Fprintf(&b, "- Words (body): %d\n", h.Metrics.Words)
	fmt.Fprintf(&b, "- Lines (body): %d\n", h.Metrics.Lines)
	fmt.Fprintf(&b, "- Approx tokens (body): %d\n", h.Metrics.ApproxTokens)
	fmt.Fprintf(&b, "- SHA-256 (body): `%s`\n", h.Digest)
	fmt.Fprintf(&b, "- Generated: %s\n\n", h.Generated.Format(time.RFC3339))

	if h.Lines > 0 {
		fmt.Fprintf(&b, "## Head (first ~%d lines)\n\n", h.Lines)
		writeFenced(&b, h.Head)
		fmt.Fprintf(&b, "## Tail (last ~%d lines)\n\n", h.Lines)
		writeFenced(&b, h.Tail)
	}
	return b.String()
}

// writeFenced writes s in a code fence longer than any backtick run inside it.
func writeFenced(b *strings.Builder, s string) {
	fence := strings.Repeat("`", max(3, longestRun(s, '`')+1))
	b.WriteString(fence)
	b.WriteString("\n")
	if s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(fence)
	b.WriteString("\n\n")
}

// fingerprint returns the first and last n lines of body, right-trimmed.
func fingerprint(body string, n int) (head, tail string) {
	if n <= 0 || body == "" {
		return "", ""
	}
	lines := strings.SplitAfter(body, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	h := lines[:min(n, len(lines))]
	t := lines[max(0, len(lines)-n):]
	return strings.TrimRight(strings.Join(h, ""), " \t\r\n"), strings.TrimRight(strings.Join(t, ""), " \t\r\n")
}

func longestRun(s string, c rune) int {
	best, cur := 0, 0
	for _, r := range s {
		if r == c {
			cur++
			best = max(best, cur)
			continue
		}
		cur = 0
	}
	return best
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
