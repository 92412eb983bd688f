package gateway

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/fieldstone-labs/deskmate/internal/tracing"
	"github.com/fieldstone-labs/deskmate/pkg/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is one frame on the websocket stream. Tool progress frames arrive
// while the run executes; the result frame ends the turn.
type wsEvent struct {
	Type     string        `json:"type"` // "tool_call", "result", "error"
	Tool     string        `json:"tool,omitempty"`
	Status   string        `json:"status,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// handleWebSocket runs chat turns over a websocket, streaming tool progress
// as it happens. One message in, progress frames plus one result frame out,
// then the next message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// gorilla permits one concurrent writer; progress callbacks and the
	// result write share this mutex.
	var writeMu sync.Mutex
	send := func(event wsEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Debug().Err(err).Msg("websocket write failed")
		}
	}

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		if req.Message == "" {
			send(wsEvent{Type: "error", Error: "message is required"})
			continue
		}

		sessionID := req.SessionID
		if sessionID == "" {
			id, err := gonanoid.New()
			if err != nil {
				send(wsEvent{Type: "error", Error: "failed to create session"})
				continue
			}
			sessionID = id
		}

		ctx := tracing.WithSessionID(r.Context(), sessionID)

		result, err := s.runOnSession(ctx, sessionID, orchestrator.Turn{
			Message:  req.Message,
			Category: req.Category,
			OnToolCall: func(tool, status string) {
				send(wsEvent{Type: "tool_call", Tool: tool, Status: status})
			},
		})
		if err != nil {
			send(wsEvent{Type: "error", Error: err.Error()})
			continue
		}

		send(wsEvent{Type: "result", Response: &ChatResponse{
			SessionID:            sessionID,
			Message:              result.Message,
			ToolCalls:            result.ToolCalls,
			CreatedArtifacts:     result.Artifacts,
			RequiresFreshSession: result.RequiresFreshSession,
		}})
	}
}
