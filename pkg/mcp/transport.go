package mcp

import (
	"context"
	"encoding/json"
)

// Transport is a JSON-RPC channel to an MCP endpoint. Implementations must
// be safe for concurrent Call invocations: the registry is shared across all
// sessions and requests must not corrupt each other's correlation.
type Transport interface {
	// Start establishes the channel. Idempotent.
	Start(ctx context.Context) error

	// Call performs one JSON-RPC request and returns the raw result.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Close releases the channel. Idempotent.
	Close() error
}
