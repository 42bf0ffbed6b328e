package agent

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractary/faber/internal/definition"
)

func testContext(t *testing.T) (*Context, string) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewContext(root, logger), root
}

func TestAddBlockSkipsEmpty(t *testing.T) {
	c, _ := testContext(t)
	c.AddBlock("Standards", "   \n  ")
	c.AddBlock("Standards", "Always write tests.")

	require.Len(t, c.blocks, 1)
	assert.Equal(t, "## Standards\n\nAlways write tests.", c.blocks[0].Text)
	assert.True(t, c.blocks[0].Cache)
}

func TestLoadFile(t *testing.T) {
	c, root := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "STANDARDS.md"), []byte("Use slog."), 0o644))

	c.LoadFile("STANDARDS.md", "Project Standards")
	c.LoadFile("missing.md", "Missing")

	require.Len(t, c.blocks, 1)
	assert.Contains(t, c.blocks[0].Text, "## Project Standards")
	assert.Contains(t, c.blocks[0].Text, "Use slog.")
}

func TestLoadGlob(t *testing.T) {
	c, root := testContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "templates", "b.md"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "templates", "a.md"), []byte("alpha"), 0o644))

	c.LoadGlob("templates/*.md", "Templates")

	require.Len(t, c.blocks, 1)
	text := c.blocks[0].Text
	assert.Contains(t, text, "### templates/a.md\n\nalpha")
	assert.Contains(t, text, "### templates/b.md\n\nbeta")
	// Sorted path order.
	assert.Less(t, indexOf(text, "a.md"), indexOf(text, "b.md"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestLoadGlobNoMatches(t *testing.T) {
	c, _ := testContext(t)
	c.LoadGlob("nothing/**/*.md", "Nothing")
	assert.Empty(t, c.blocks)
}

func TestLoadCodexSkipped(t *testing.T) {
	c, _ := testContext(t)
	c.LoadCodex("codex://fractary/standards/api.md", "API Standards")
	c.LoadCodex("https://not-codex", "Bad")
	assert.Empty(t, c.blocks)
}

func TestLoadSourcesDispatch(t *testing.T) {
	c, root := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "guide.md"), []byte("guide body"), 0o644))

	c.LoadSources([]definition.CachingSource{
		{Type: definition.CacheSourceFile, Path: "guide.md", Label: "Guide"},
		{Type: definition.CacheSourceInline, Content: "inline body", Label: "Inline"},
		{Type: definition.CacheSourceCodex, URI: "codex://x/y", Label: "Codex"},
	})

	require.Len(t, c.blocks, 2)
	assert.Contains(t, c.blocks[0].Text, "## Guide")
	assert.Contains(t, c.blocks[1].Text, "## Inline")
}

func TestSystemBlocksOrder(t *testing.T) {
	c, _ := testContext(t)
	c.AddBlock("Standards", "cached content")

	blocks := c.SystemBlocks("You are the build agent.")
	require.Len(t, blocks, 2)
	assert.Equal(t, "You are the build agent.", blocks[0].Text)
	assert.False(t, blocks[0].Cache, "agent prompt must not be cached")
	assert.True(t, blocks[1].Cache)
}
