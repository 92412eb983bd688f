package gateway

import (
	"github.com/fieldstone-labs/deskmate/pkg/orchestrator"
)

// ChatRequest is the body of POST /api/chat. Category optionally names a
// prompt category that shapes the system prompt for this turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Category  string `json:"category,omitempty"`
}

// ChatResponse is the reply to a chat request. SessionID echoes the input
// or carries the generated id when the request omitted one.
type ChatResponse struct {
	SessionID            string                         `json:"session_id"`
	Message              string                         `json:"message"`
	ToolCalls            []orchestrator.ToolCallRecord  `json:"tool_calls,omitempty"`
	CreatedArtifacts     []orchestrator.CreatedArtifact `json:"created_artifacts,omitempty"`
	RequiresFreshSession bool                           `json:"requires_fresh_session,omitempty"`
	Error                string                         `json:"error,omitempty"`
}

// SessionResetRequest is the body of POST /api/session/reset.
type SessionResetRequest struct {
	SessionID string `json:"session_id"`
}

// SessionResetResponse reports whether the session existed before the
// reset. Resetting an unknown session is not an error.
type SessionResetResponse struct {
	SessionID string `json:"session_id"`
	Cleared   bool   `json:"cleared"`
}

// HealthResponse is the reply to GET /api/health.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ModelService   string `json:"model_service"`
	ToolRegistry   string `json:"tool_registry"`
	ActiveSessions int    `json:"active_sessions"`
}
