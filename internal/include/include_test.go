package include

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mdparts/internal/apperr"
	"github.com/starford/mdparts/internal/storage"
)

func testTree(t *testing.T, files map[string]string) *storage.FS {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	fs, err := storage.NewFS(root)
	require.NoError(t, err)
	return fs
}

func TestExpand_NoDirectivesIsIdentity(t *testing.T) {
	e := New(testTree(t, nil))
	in := "# Title\n\nplain text\n--8<-- not a directive\n  trailing spaces  \nno newline at end"
	out, err := e.Expand(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExpand_SingleInclude(t *testing.T) {
	fs := testTree(t, map[string]string{
		"_atoms/a.md": "## Included\n\nHELLO\n",
	})
	out, err := New(fs).Expand("# Title\n\n--8<-- \"_atoms/a.md\"\n\nafter\n")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\n## Included\n\nHELLO\n\nafter\n", out)
}

func TestExpand_DirectiveWhitespaceVariants(t *testing.T) {
	fs := testTree(t, map[string]string{"x.md": "X\n"})
	out, err := New(fs).Expand("  --8<--   \"x.md\"   \r\n")
	require.NoError(t, err)
	assert.Equal(t, "X\n", out)
}

func TestExpand_Nested(t *testing.T) {
	fs := testTree(t, map[string]string{
		"a.md":     "A1\n--8<-- \"sub/b.md\"\nA2\n",
		"sub/b.md": "B1\n--8<-- \"c.md\"\n",
		"c.md":     "C\n",
	})
	out, err := New(fs).Expand("start\n--8<-- \"a.md\"\nend\n")
	require.NoError(t, err)
	assert.Equal(t, "start\nA1\nB1\nC\nA2\nend\n", out)
}

func TestExpand_SameFileTwiceIsNotACycle(t *testing.T) {
	fs := testTree(t, map[string]string{"x.md": "X\n"})
	out, err := New(fs).Expand("--8<-- \"x.md\"\n--8<-- \"x.md\"\n")
	require.NoError(t, err)
	assert.Equal(t, "X\nX\n", out)
}

func TestExpand_IncludeWithoutTrailingNewlineJoinsNextLine(t *testing.T) {
	fs := testTree(t, map[string]string{"x.md": "X"})
	out, err := New(fs).Expand("--8<-- \"x.md\"\nnext\n")
	require.NoError(t, err)
	assert.Equal(t, "Xnext\n", out)
}

func TestExpand_Missing(t *testing.T) {
	fs := testTree(t, nil)
	_, err := New(fs).Expand("--8<-- \"nope.md\"\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrIncludeNotFound)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "nope.md", ie.Path)
	assert.Contains(t, err.Error(), "nope.md")
}

func TestExpand_PathEscapeRejected(t *testing.T) {
	fs := testTree(t, map[string]string{"inner/x.md": "X\n"})
	for _, rel := range []string{
		"../outside.md",
		"../../../../etc/passwd",
		"inner/../../outside.md",
		"inner/" + strings.Repeat("../", 8) + "x.md",
		"/etc/passwd",
	} {
		t.Run(rel, func(t *testing.T) {
			_, err := New(fs).Expand(fmt.Sprintf("--8<-- %q\n", rel))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrUnsafePath)
		})
	}
}

func TestExpand_EscapeRejectedEvenWhenTargetExists(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "docs")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.md"), []byte("secret\n"), 0o644))
	fs, err := storage.NewFS(root)
	require.NoError(t, err)

	_, err = New(fs).Expand("--8<-- \"../secret.md\"\n")
	assert.ErrorIs(t, err, apperr.ErrUnsafePath)
}

func TestExpand_InnerDotDotStayingInsideIsAllowed(t *testing.T) {
	fs := testTree(t, map[string]string{"x.md": "X\n"})
	out, err := New(fs).Expand("--8<-- \"a/b/../../x.md\"\n")
	require.NoError(t, err)
	assert.Equal(t, "X\n", out)
}

func TestExpand_CycleReportsChain(t *testing.T) {
	fs := testTree(t, map[string]string{
		"a.md": "--8<-- \"b.md\"\n",
		"b.md": "--8<-- \"a.md\"\n",
	})
	_, err := New(fs).Expand("--8<-- \"a.md\"\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrIncludeCycle)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, []string{"<input>", "a.md", "b.md", "a.md"}, ie.Chain)
	assert.Contains(t, err.Error(), "a.md -> b.md -> a.md")
}

func TestExpandFile_SelfIncludeIsCycle(t *testing.T) {
	fs := testTree(t, map[string]string{
		"a.md": "top\n--8<-- \"b.md\"\n",
		"b.md": "--8<-- \"a.md\"\n",
	})
	_, err := New(fs).ExpandFile("a.md")
	require.Error(t, err)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, apperr.ErrIncludeCycle)
	assert.Equal(t, []string{"a.md", "b.md", "a.md"}, ie.Chain)
}

func TestExpand_SymlinkBackToOpenFileIsCycle(t *testing.T) {
	fs := testTree(t, map[string]string{
		"a.md": "A\n--8<-- \"b.md\"\n",
		"b.md": "B\n--8<-- \"alias.md\"\n",
	})
	if err := os.Symlink(filepath.Join(fs.Root(), "a.md"), filepath.Join(fs.Root(), "alias.md")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := New(fs).Expand("--8<-- \"a.md\"\n")
	require.Error(t, err)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, apperr.ErrIncludeCycle)
	assert.Equal(t, "alias.md", ie.Path)
	assert.Equal(t, []string{"<input>", "a.md", "b.md", "a.md"}, ie.Chain)
}

func TestExpandFile_SymlinkedSourceIsCycle(t *testing.T) {
	fs := testTree(t, map[string]string{
		"a.md": "--8<-- \"alias.md\"\n",
	})
	if err := os.Symlink(filepath.Join(fs.Root(), "a.md"), filepath.Join(fs.Root(), "alias.md")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := New(fs).ExpandFile("a.md")
	assert.ErrorIs(t, err, apperr.ErrIncludeCycle)
}

func TestExpandFile_MissingSource(t *testing.T) {
	_, err := New(testTree(t, nil)).ExpandFile("missing.md")
	assert.ErrorIs(t, err, apperr.ErrInputNotFound)
}

func TestExpand_DepthBound(t *testing.T) {
	files := map[string]string{}
	const levels = 5
	for i := 0; i < levels; i++ {
		files[fmt.Sprintf("l%d.md", i)] = fmt.Sprintf("L%d\n--8<-- \"l%d.md\"\n", i, i+1)
	}
	files[fmt.Sprintf("l%d.md", levels)] = "leaf\n"
	fs := testTree(t, files)
	in := "--8<-- \"l0.md\"\n"

	// Six nested includes: allowed at depth six, rejected at five.
	out, err := New(fs, WithMaxDepth(levels+1)).Expand(in)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "L4\nleaf\n"))

	_, err = New(fs, WithMaxDepth(levels)).Expand(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDepthExceeded)
}

func TestExpand_DefaultDepth(t *testing.T) {
	e := New(testTree(t, nil))
	assert.Equal(t, DefaultMaxDepth, e.maxDepth)

	e = New(testTree(t, nil), WithMaxDepth(0))
	assert.Equal(t, DefaultMaxDepth, e.maxDepth)
}

func TestExpand_InvalidUTF8IsReplaced(t *testing.T) {
	fs := testTree(t, map[string]string{"bad.md": "a\xffb\n"})
	out, err := New(fs).Expand("--8<-- \"bad.md\"\n")
	require.NoError(t, err)
	assert.Equal(t, "a�b\n", out)
}
