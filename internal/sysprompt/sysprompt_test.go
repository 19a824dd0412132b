package sysprompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndStrip(t *testing.T) {
	wrapped := Wrap("internal instructions")
	assert.True(t, strings.HasPrefix(wrapped, TagStart))
	assert.True(t, strings.HasSuffix(wrapped, TagEnd))

	text := wrapped + "\n\nuser visible content"
	assert.Equal(t, "user visible content", StripSystemContent(text))
}

func TestStripRemovesAllBlocks(t *testing.T) {
	text := Wrap("first") + "\n\nkeep this\n\n" + Wrap("second") + "\n\nand this"
	stripped := StripSystemContent(text)

	assert.NotContains(t, stripped, TagStart)
	assert.NotContains(t, stripped, "first")
	assert.NotContains(t, stripped, "second")
	assert.Contains(t, stripped, "keep this")
	assert.Contains(t, stripped, "and this")
}

func TestStripHandlesMultilineContent(t *testing.T) {
	text := Wrap("line one\nline two\nline three") + "\n\nprompt"
	assert.Equal(t, "prompt", StripSystemContent(text))
}

func TestStripLeavesPlainTextAlone(t *testing.T) {
	assert.Equal(t, "no system content here", StripSystemContent("no system content here"))
}

func TestInjectBoardContext(t *testing.T) {
	result := InjectBoardContext("feat-42", "/home/dev/proj", "Add dark mode")

	assert.Contains(t, result, "feat-42")
	assert.Contains(t, result, "/home/dev/proj")
	assert.Contains(t, result, "create_feature")
	assert.True(t, strings.HasSuffix(result, "Add dark mode"))

	// Stripping recovers exactly the user prompt.
	assert.Equal(t, "Add dark mode", StripSystemContent(result))
}
