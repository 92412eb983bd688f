package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/fieldstone-labs/deskmate/internal/tracing"
	"github.com/fieldstone-labs/deskmate/pkg/orchestrator"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, err := gonanoid.New()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		sessionID = id
	}

	ctx := tracing.WithSessionID(r.Context(), sessionID)
	logger := tracing.PropagateToLogger(ctx, s.logger)

	result, err := s.runOnSession(ctx, sessionID, orchestrator.Turn{
		Message:  req.Message,
		Category: req.Category,
	})
	if err != nil {
		logger.Error().Err(err).Msg("chat run failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID:            sessionID,
		Message:              result.Message,
		ToolCalls:            result.ToolCalls,
		CreatedArtifacts:     result.Artifacts,
		RequiresFreshSession: result.RequiresFreshSession,
	})
}

// runOnSession executes one chat turn on the session's lane. The lane
// serializes turns for the same session so concurrent requests cannot
// interleave their histories.
func (s *Server) runOnSession(ctx context.Context, sessionID string, turn orchestrator.Turn) (*orchestrator.Result, error) {
	value, err := s.cfg.Queue.Enqueue(ctx, "session-"+sessionID, func(taskCtx context.Context) (interface{}, error) {
		turn.History = s.cfg.Sessions.History(sessionID)

		result, runErr := s.cfg.Runner.Run(taskCtx, turn)
		if runErr != nil {
			return nil, runErr
		}

		s.cfg.Sessions.SetHistory(sessionID, result.UpdatedHistory)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*orchestrator.Result), nil
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SessionResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	cleared := s.cfg.Sessions.Clear(req.SessionID)
	s.logger.Info().Str("session_id", req.SessionID).Bool("cleared", cleared).Msg("session reset")

	writeJSON(w, http.StatusOK, SessionResetResponse{
		SessionID: req.SessionID,
		Cleared:   cleared,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := "healthy"

	modelStatus := "connected"
	if s.cfg.Provider == nil {
		modelStatus = "disconnected"
		status = "degraded"
	}

	toolStatus := "connected"
	if !s.cfg.Registry.Healthy() {
		toolStatus = "disconnected"
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         status,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		ModelService:   modelStatus,
		ToolRegistry:   toolStatus,
		ActiveSessions: s.cfg.Sessions.ActiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ChatResponse{Error: message})
}
