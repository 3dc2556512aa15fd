package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	r := Parse([]byte("---\ntitle: Hello\nstatus: draft\n---\n# Other\nBody text.\n"))
	assert.Equal(t, "Hello", r.Title)
	assert.Equal(t, "draft", r.Status)
	assert.Equal(t, "# Other\nBody text.\n", r.Body)
	assert.Equal(t, "Hello", r.Frontmatter["title"])
}

func TestParse_NoFrontmatterUsesH1(t *testing.T) {
	r := Parse([]byte("intro\n# Just a heading\nSome text.\n"))
	assert.Nil(t, r.Frontmatter)
	assert.Equal(t, "Just a heading", r.Title)
	assert.Empty(t, r.Status)
}

func TestParse_H1InsideFenceIgnored(t *testing.T) {
	r := Parse([]byte("```\n# comment\n```\n# Real\n"))
	assert.Equal(t, "Real", r.Title)
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := "---\n: invalid: yaml: {{{\n---\nBody\n"
	r := Parse([]byte(input))
	assert.Nil(t, r.Frontmatter)
	assert.Equal(t, input, r.Body)
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	r := Parse([]byte("---\ntitle: x\nno close\n"))
	assert.Nil(t, r.Frontmatter)
	assert.Empty(t, r.Title)
}

func TestTitleOr(t *testing.T) {
	assert.Equal(t, "manual-socialization", Parse([]byte("no title")).TitleOr("docs/manuals/manual-socialization.md"))
	assert.Equal(t, "T", Parse([]byte("# T\n")).TitleOr("x.md"))
}
