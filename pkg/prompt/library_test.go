package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLibrary_LoadsFiles(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system.md", "You are a ticket assistant.\n\n{{routing}}")
	writePrompt(t, dir, "tone.md", "Keep replies short.")

	lib := NewLibrary(dir, zerolog.Nop())
	prompt := lib.System("ROUTING RULES HERE", "")

	assert.Contains(t, prompt, "You are a ticket assistant.")
	assert.Contains(t, prompt, "ROUTING RULES HERE")
	assert.Contains(t, prompt, "Keep replies short.")
	assert.NotContains(t, prompt, "{{routing}}")

	// system.md content leads regardless of file name order
	assert.Less(t, strings.Index(prompt, "ticket assistant"), strings.Index(prompt, "replies short"))
}

func TestLibrary_MissingDirUsesFallback(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())

	prompt := lib.System("ROUTING", "")
	assert.Contains(t, prompt, "ticket assistant")
	assert.Contains(t, prompt, "ROUTING")
}

func TestLibrary_AppendsRoutingWithoutPlaceholder(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system.md", "Base prompt.")

	lib := NewLibrary(dir, zerolog.Nop())

	assert.Equal(t, "Base prompt.\n\nROUTING", lib.System("ROUTING", ""))
	assert.Equal(t, "Base prompt.", lib.System("", ""))
}

func TestLibrary_CategoryInstructions(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system.md", "Base prompt.")
	writePrompt(t, dir, "category-hardware.md", "Ask for the asset tag.")

	lib := NewLibrary(dir, zerolog.Nop())

	// Category sections apply only when the turn carries a matching hint
	withHint := lib.System("", "hardware")
	assert.Contains(t, withHint, "Ask for the asset tag.")

	withoutHint := lib.System("", "")
	assert.NotContains(t, withoutHint, "Ask for the asset tag.")

	// Unknown hints are ignored
	unknown := lib.System("", "catering")
	assert.Equal(t, withoutHint, unknown)
}

func TestLibrary_Reload(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system.md", "Version one.")

	lib := NewLibrary(dir, zerolog.Nop())
	assert.Contains(t, lib.System("", ""), "Version one.")

	writePrompt(t, dir, "system.md", "Version two.")
	lib.Reload()
	assert.Contains(t, lib.System("", ""), "Version two.")
}

func TestLibrary_IgnoresNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "system.md", "Base.")
	writePrompt(t, dir, "notes.txt", "should not appear")

	lib := NewLibrary(dir, zerolog.Nop())
	assert.NotContains(t, lib.System("", ""), "should not appear")
}
