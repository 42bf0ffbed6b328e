// Package agent runs definition-driven agents: it assembles their system
// prompt with cacheable context blocks and drives the tool-use loop against
// the configured model.
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/llm"
)

// Context accumulates cacheable system prompt blocks loaded from the
// project. Blocks sit after the agent prompt so the provider can cache the
// stable tail across turns.
type Context struct {
	projectRoot string
	logger      *slog.Logger
	blocks      []llm.SystemBlock
}

// NewContext builds an empty context rooted at the project directory.
func NewContext(projectRoot string, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{projectRoot: projectRoot, logger: logger}
}

// AddBlock appends one cacheable block. Empty content is skipped.
func (c *Context) AddBlock(label, content string) {
	if strings.TrimSpace(content) == "" {
		c.logger.Warn("skipping empty cached block", "label", label)
		return
	}
	c.blocks = append(c.blocks, llm.SystemBlock{
		Text:  fmt.Sprintf("## %s\n\n%s", label, content),
		Cache: true,
	})
}

// LoadFile loads one file, relative to the project root, as a block.
func (c *Context) LoadFile(path, label string) {
	full := filepath.Join(c.projectRoot, path)
	content, err := os.ReadFile(full)
	if err != nil {
		c.logger.Warn("file not found for caching", "path", full, "error", err)
		return
	}
	c.AddBlock(label, string(content))
}

// LoadGlob concatenates all files matching a pattern into one block, each
// under a "### <relative path>" header, in sorted path order.
func (c *Context) LoadGlob(pattern, label string) {
	matches, err := doublestar.Glob(os.DirFS(c.projectRoot), pattern)
	if err != nil {
		c.logger.Warn("bad glob pattern for caching", "pattern", pattern, "error", err)
		return
	}
	sort.Strings(matches)

	var parts []string
	for _, rel := range matches {
		full := filepath.Join(c.projectRoot, rel)
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			c.logger.Warn("failed to load file for caching", "path", full, "error", err)
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n\n%s", filepath.ToSlash(rel), string(content)))
	}
	if len(parts) == 0 {
		c.logger.Warn("no files found for pattern", "pattern", pattern)
		return
	}
	c.AddBlock(label, strings.Join(parts, "\n\n"))
}

// LoadCodex is a recognized source without an integration yet.
func (c *Context) LoadCodex(uri, label string) {
	if !strings.HasPrefix(uri, "codex://") {
		c.logger.Warn("invalid codex uri", "uri", uri)
		return
	}
	c.logger.Warn("codex caching source is configured but not integrated, skipping", "uri", uri, "label", label)
}

// LoadSources dispatches each configured caching source.
func (c *Context) LoadSources(sources []definition.CachingSource) {
	for _, src := range sources {
		label := src.Label
		switch src.Type {
		case definition.CacheSourceFile:
			if label == "" {
				label = src.Path
			}
			c.LoadFile(src.Path, label)
		case definition.CacheSourceGlob:
			if label == "" {
				label = src.Pattern
			}
			c.LoadGlob(src.Pattern, label)
		case definition.CacheSourceInline:
			if label == "" {
				label = "Context"
			}
			c.AddBlock(label, src.Content)
		case definition.CacheSourceCodex:
			c.LoadCodex(src.URI, label)
		}
	}
}

// SystemBlocks returns the full system prompt: the agent prompt first and
// uncached, then the cached blocks.
func (c *Context) SystemBlocks(agentPrompt string) []llm.SystemBlock {
	blocks := make([]llm.SystemBlock, 0, 1+len(c.blocks))
	blocks = append(blocks, llm.SystemBlock{Text: agentPrompt})
	blocks = append(blocks, c.blocks...)
	return blocks
}
