package orchestrator

import (
	"encoding/json"
)

// artifactPayload matches the success shape ticket-creation tools return.
// Both "ticket" and "card" key names occur in the wild.
type artifactPayload struct {
	Success bool            `json:"success"`
	Ticket  *artifactDetail `json:"ticket"`
	Card    *artifactDetail `json:"card"`
}

type artifactDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	ListName string `json:"list_name"`
}

// extractArtifact scans tool output for a created ticket. Extraction is
// best effort: output that does not match the expected shape is ignored,
// never an error, since the model already received the raw output.
func (o *Orchestrator) extractArtifact(output string, args map[string]interface{}) (CreatedArtifact, bool) {
	var payload artifactPayload
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		return CreatedArtifact{}, false
	}
	if !payload.Success {
		return CreatedArtifact{}, false
	}

	detail := payload.Ticket
	if detail == nil {
		detail = payload.Card
	}
	if detail == nil || detail.ID == "" {
		return CreatedArtifact{}, false
	}

	artifact := CreatedArtifact{
		ID:   detail.ID,
		Name: detail.Name,
		URL:  detail.URL,
	}

	// Destination name resolves from the board argument when routing is
	// configured; the list name from the payload is the fallback.
	if boardID, ok := args["board_id"].(string); ok && boardID != "" && o.cfg.Routing != nil {
		artifact.Destination = o.cfg.Routing.NameForID(boardID)
	} else if detail.ListName != "" {
		artifact.Destination = detail.ListName
	}

	return artifact, true
}
