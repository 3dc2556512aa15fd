package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/starford/mdparts/internal/apperr"
)

// ErrInvalidBudget is returned for a character budget below one.
var ErrInvalidBudget = fmt.Errorf("chunker: max chars must be at least 1: %w", apperr.ErrInvalidInput)

// Chunk is a budget-bounded run of blocks, prior to being written as a part.
type Chunk struct {
	Text   string
	Kind   Kind // kind of the units it was built from
	Blocks int  // number of blocks packed into it
}

// Len returns the chunk length in characters (runes).
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Split segments text and packs the blocks under maxChars.
func Split(text string, maxChars int) ([]Chunk, error) {
	return Pack(Segment(text), maxChars)
}

// Pack greedily packs blocks, in order, into chunks of at most maxChars runes.
//
// A block that alone exceeds the budget flushes the accumulator and is split
// into paragraphs, each emitted as its own chunk; paragraphs still over budget
// are sliced. A block that exactly fills the remaining budget stays in the
// current chunk.
func Pack(blocks []Block, maxChars int) ([]Chunk, error) {
	if maxChars < 1 {
		return nil, ErrInvalidBudget
	}

	var chunks []Chunk
	var cur strings.Builder
	curLen, curBlocks := 0, 0
	curKind := KindSection

	flush := func() {
		if curBlocks == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: cur.String(), Kind: curKind, Blocks: curBlocks})
		cur.Reset()
		curLen, curBlocks = 0, 0
	}

	for _, b := range blocks {
		n := b.Len()
		if n > maxChars {
			flush()
			chunks = append(chunks, subdivide(b, maxChars)...)
			continue
		}

		if curLen+n > maxChars && curBlocks > 0 {
			flush()
		}
		if curBlocks == 0 {
			curKind = b.Kind
		}
		cur.WriteString(b.Text)
		curLen += n
		curBlocks++
	}
	flush()

	return chunks, nil
}

// subdivide breaks one oversized block into standalone chunks.
func subdivide(b Block, maxChars int) []Chunk {
	var out []Chunk
	for _, p := range SplitParagraphs(b.Text) {
		if p.Len() <= maxChars {
			out = append(out, Chunk{Text: p.Text, Kind: KindParagraph, Blocks: 1})
			continue
		}
		for _, s := range SliceRunes(p.Text, maxChars) {
			out = append(out, Chunk{Text: s.Text, Kind: KindSlice, Blocks: 1})
		}
	}
	return out
}
