// Package chunker splits expanded markdown into semantic blocks and packs them
// into size-bounded chunks. Concatenating the chunks always reproduces the input.
package chunker

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Kind tells how a block or chunk boundary was chosen.
type Kind string

const (
	KindSection   Kind = "section"   // level-2 heading delimited
	KindParagraph Kind = "paragraph" // blank-line delimited fallback
	KindSlice     Kind = "slice"     // fixed-width fallback, no semantic boundary
)

// Block is the smallest unit considered for packing.
type Block struct {
	Text string
	Kind Kind
}

// Len returns the block length in characters (runes).
func (b Block) Len() int {
	return utf8.RuneCountInString(b.Text)
}

// Segment splits text before every top-level level-2 ATX heading. Lines before
// the first such heading form the preamble block. Whitespace-only runs are
// folded into their neighbour so that no block is blank and nothing is lost.
func Segment(src string) []Block {
	if src == "" {
		return nil
	}
	var units []string
	prev := 0
	for _, off := range headingOffsets([]byte(src)) {
		if off > prev {
			units = append(units, src[prev:off])
		}
		prev = off
	}
	units = append(units, src[prev:])
	return toBlocks(foldBlank(units), KindSection)
}

// SplitParagraphs splits a block on blank lines. Each blank line stays with the
// paragraph it terminates.
func SplitParagraphs(block string) []Block {
	var units []string
	var buf strings.Builder
	for _, ln := range splitLines(block) {
		buf.WriteString(ln)
		if strings.TrimSpace(ln) == "" {
			units = append(units, buf.String())
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		units = append(units, buf.String())
	}
	return toBlocks(foldBlank(units), KindParagraph)
}

// SliceRunes cuts s into consecutive windows of at most size runes. It is the
// last resort for paragraphs that alone exceed the budget.
func SliceRunes(s string, size int) []Block {
	if size < 1 || s == "" {
		return nil
	}
	var out []Block
	start, count := 0, 0
	for i := range s {
		if count == size {
			out = append(out, Block{Text: s[start:i], Kind: KindSlice})
			start, count = i, 0
		}
		count++
	}
	out = append(out, Block{Text: s[start:], Kind: KindSlice})
	return out
}

// headingOffsets returns the byte offset of the first byte of every line that
// opens a level-2 ATX heading at the top level of the document. Headings inside
// code fences, HTML blocks, lists and quotes are not top-level and are skipped.
func headingOffsets(src []byte) []int {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var offs []int
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}
		start := lines.At(0).Start
		lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
		if !isATXLevel2(src[lineStart:start]) {
			continue // setext heading
		}
		offs = append(offs, lineStart)
	}
	return offs
}

// isATXLevel2 reports whether prefix (the bytes of a heading line before its
// text) is an ATX "##" opener with at most three leading spaces.
func isATXLevel2(prefix []byte) bool {
	trimmed := bytes.TrimLeft(prefix, " ")
	if len(prefix)-len(trimmed) > 3 {
		return false
	}
	return bytes.HasPrefix(trimmed, []byte("##")) && !bytes.HasPrefix(trimmed, []byte("###"))
}

// foldBlank merges whitespace-only units into the unit that follows them, or
// into the last unit when nothing follows. If every unit is blank the result
// is empty.
func foldBlank(units []string) []string {
	var out []string
	pending := ""
	for _, u := range units {
		if strings.TrimSpace(u) == "" {
			pending += u
			continue
		}
		out = append(out, pending+u)
		pending = ""
	}
	if pending != "" && len(out) > 0 {
		out[len(out)-1] += pending
	}
	return out
}

func toBlocks(units []string, kind Kind) []Block {
	if len(units) == 0 {
		return nil
	}
	out := make([]Block, len(units))
	for i, u := range units {
		out[i] = Block{Text: u, Kind: kind}
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
