package mcp

import (
	"encoding/json"
	"strings"
)

// normalizeResult flattens a tools/call result into a single string for the
// conversation transcript. The wire shape varies: the canonical form is an
// object with a content part list, but bare strings and arbitrary objects
// occur too. Returns the flattened text and whether the result was flagged
// as an execution error.
func normalizeResult(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err == nil && result.Content != nil {
		parts := make([]string, 0, len(result.Content))
		for _, part := range result.Content {
			parts = append(parts, flattenPart(part))
		}
		return strings.Join(parts, "\n"), result.IsError
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, false
	}

	return prettyJSON(raw), false
}

// flattenPart renders one content part. Text parts contribute their text;
// anything else is serialized as readable JSON.
func flattenPart(raw json.RawMessage) string {
	var part struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &part); err == nil && part.Type == "text" {
		return part.Text
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	return prettyJSON(raw)
}

func prettyJSON(raw json.RawMessage) string {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
