package orchestrator

import (
	"github.com/fieldstone-labs/deskmate/pkg/llm"
)

// Turn is one incoming user message with its run context.
type Turn struct {
	// History is the session's prior conversation. Not mutated by Run.
	History []llm.Message

	// Message is the new user message.
	Message string

	// Category optionally selects category-specific prompt instructions.
	Category string

	// OnToolCall, when set, overrides the configured progress callback for
	// this run. Used by streaming transports.
	OnToolCall func(tool, status string)
}

// ToolCallRecord summarizes one tool invocation for the caller, in
// execution order.
type ToolCallRecord struct {
	Tool   string `json:"tool"`
	Status string `json:"status"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

// CreatedArtifact describes a ticket the run created, extracted from tool
// output so the caller can link to it.
type CreatedArtifact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Result is the outcome of one orchestration run.
type Result struct {
	// Message is the assistant's final text for the user.
	Message string

	// ToolCalls lists every tool invocation the run made, in order.
	ToolCalls []ToolCallRecord

	// Artifacts lists tickets created during the run.
	Artifacts []CreatedArtifact

	// RequiresFreshSession is set when a tool from the invalidating set
	// ran, signaling the client that cached context may be stale.
	RequiresFreshSession bool

	// UpdatedHistory is the full conversation including this run's
	// messages, for the caller to persist.
	UpdatedHistory []llm.Message

	// BudgetExhausted is set when the run hit the iteration cap and
	// returned the fallback message instead of a model conclusion.
	BudgetExhausted bool

	// Iterations is the number of model calls the run made.
	Iterations int
}
