package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return NewTable(map[string]Destination{
		"hardware": {ID: "board-hw-1", Name: "Hardware Requests"},
		"access":   {ID: "board-ac-2", Name: "Access Requests"},
	})
}

func TestTable_Lookup(t *testing.T) {
	table := testTable()

	d, ok := table.Lookup("hardware")
	require.True(t, ok)
	assert.Equal(t, "board-hw-1", d.ID)

	_, ok = table.Lookup("catering")
	assert.False(t, ok)
}

func TestTable_NameForID(t *testing.T) {
	table := testTable()

	assert.Equal(t, "Access Requests", table.NameForID("board-ac-2"))
	// Unknown ids fall back to the id itself
	assert.Equal(t, "board-zz-9", table.NameForID("board-zz-9"))
}

func TestTable_PromptSection(t *testing.T) {
	table := testTable()

	section := table.PromptSection()
	assert.Contains(t, section, "board-hw-1")
	assert.Contains(t, section, "Hardware Requests")

	// Categories render in sorted order so prompts are stable
	assert.Less(t, strings.Index(section, "access"), strings.Index(section, "hardware"))
}

func TestTable_Empty(t *testing.T) {
	table := NewTable(nil)
	assert.Empty(t, table.PromptSection())
	assert.Empty(t, table.Destinations())
}
