package routing

import (
	"fmt"
	"sort"
	"strings"
)

// Destination is one place tickets can be filed, such as a Trello board or
// a queue, addressed by the opaque id the tool service expects.
type Destination struct {
	Key  string
	ID   string
	Name string
}

// Table maps request categories to destinations. It is built once from
// configuration and read-only afterwards.
type Table struct {
	destinations []Destination
	byID         map[string]Destination
	byKey        map[string]Destination
}

// NewTable builds a table from category key to destination pairs.
func NewTable(entries map[string]Destination) *Table {
	t := &Table{
		byID:  make(map[string]Destination, len(entries)),
		byKey: make(map[string]Destination, len(entries)),
	}
	for key, dest := range entries {
		dest.Key = key
		t.destinations = append(t.destinations, dest)
		t.byID[dest.ID] = dest
		t.byKey[key] = dest
	}
	// Deterministic order for prompt rendering
	sort.Slice(t.destinations, func(i, j int) bool {
		return t.destinations[i].Key < t.destinations[j].Key
	})
	return t
}

// Destinations returns all destinations in category order.
func (t *Table) Destinations() []Destination {
	out := make([]Destination, len(t.destinations))
	copy(out, t.destinations)
	return out
}

// Lookup returns the destination for a category key.
func (t *Table) Lookup(key string) (Destination, bool) {
	d, ok := t.byKey[key]
	return d, ok
}

// NameForID resolves a destination id back to its display name. Used when
// describing created artifacts to the user. Falls back to the id itself so
// callers always get something presentable.
func (t *Table) NameForID(id string) string {
	if d, ok := t.byID[id]; ok {
		return d.Name
	}
	return id
}

// PromptSection renders the routing rules as a system prompt fragment. The
// model picks destinations from this text, so ids must appear verbatim.
func (t *Table) PromptSection() string {
	if len(t.destinations) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("DESTINATION ROUTING:\n")
	b.WriteString("When filing a ticket, pick the destination that matches the request category and pass its id exactly as shown.\n")
	for _, d := range t.destinations {
		fmt.Fprintf(&b, "- %s: %s (id: %s)\n", d.Key, d.Name, d.ID)
	}
	return b.String()
}
