package prompt

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// routingPlaceholder marks where the destination routing rules are injected
// into the system prompt.
const routingPlaceholder = "{{routing}}"

// fallbackPrompt keeps the assistant usable when no prompt files exist, for
// example on a fresh install before prompts are written.
const fallbackPrompt = `You are a helpful ticket assistant. You help users search existing tickets and file new ones using the tools available to you. Be concise and confirm what you did.

{{routing}}`

// categoryPrefix marks prompt files that apply only when a chat turn
// carries a matching category hint, e.g. category-hardware.md.
const categoryPrefix = "category-"

// Library loads the system prompt from markdown files on disk and assembles
// it with the routing rules. Safe for concurrent reads while a watcher
// triggers reloads.
type Library struct {
	dir    string
	logger zerolog.Logger

	mu         sync.RWMutex
	template   string
	categories map[string]string
}

// NewLibrary creates a library over dir and performs the initial load.
// A missing or empty directory falls back to the built-in prompt rather
// than failing.
func NewLibrary(dir string, logger zerolog.Logger) *Library {
	l := &Library{
		dir:    dir,
		logger: logger.With().Str("component", "prompt-library").Logger(),
	}
	l.Reload()
	return l
}

// Reload re-reads the prompt files. Called at startup and by the file
// watcher on changes.
func (l *Library) Reload() {
	template, categories := l.load()

	l.mu.Lock()
	l.template = template
	l.categories = categories
	l.mu.Unlock()
}

// load reads every .md file in the directory in name order and joins the
// general ones. system.md always comes first; category-*.md files load into
// the per-category map instead.
func (l *Library) load() (string, map[string]string) {
	categories := make(map[string]string)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Warn().Str("dir", l.dir).Err(err).Msg("prompt directory unreadable, using fallback prompt")
		return fallbackPrompt, categories
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		l.logger.Warn().Str("dir", l.dir).Msg("no prompt files found, using fallback prompt")
		return fallbackPrompt, categories
	}

	sort.Slice(names, func(i, j int) bool {
		if names[i] == "system.md" {
			return true
		}
		if names[j] == "system.md" {
			return false
		}
		return names[i] < names[j]
	})

	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			l.logger.Warn().Str("file", name).Err(err).Msg("skipping unreadable prompt file")
			continue
		}
		content := strings.TrimSpace(string(data))

		if strings.HasPrefix(name, categoryPrefix) {
			key := strings.TrimSuffix(strings.TrimPrefix(name, categoryPrefix), ".md")
			categories[key] = content
			continue
		}
		parts = append(parts, content)
	}
	if len(parts) == 0 {
		return fallbackPrompt, categories
	}

	l.logger.Info().Int("files", len(parts)).Int("categories", len(categories)).Msg("prompts loaded")
	return strings.Join(parts, "\n\n"), categories
}

// System assembles the full system prompt: the base template with the
// routing rules substituted at the placeholder (or appended), plus the
// category-specific instructions when the turn carries a known category
// hint. Unknown categories are ignored.
func (l *Library) System(routingSection, category string) string {
	l.mu.RLock()
	template := l.template
	extra := l.categories[category]
	l.mu.RUnlock()

	var out string
	if strings.Contains(template, routingPlaceholder) {
		out = strings.TrimSpace(strings.ReplaceAll(template, routingPlaceholder, routingSection))
	} else if routingSection == "" {
		out = template
	} else {
		out = template + "\n\n" + strings.TrimSpace(routingSection)
	}

	if extra != "" {
		out = out + "\n\n" + extra
	}
	return out
}
