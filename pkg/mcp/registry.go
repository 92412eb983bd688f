package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fieldstone-labs/deskmate/internal/observability"
)

const protocolVersion = "2024-11-05"

// Registry owns the connection to the tool service and the tool catalog
// discovered from it. It is shared across sessions; every tool invocation in
// the process goes through Execute.
type Registry struct {
	transport Transport
	logger    zerolog.Logger

	mu        sync.RWMutex
	connected bool
	tools     []ToolDefinition
	schemas   map[string]*gojsonschema.Schema
}

// NewRegistry creates a registry over the given transport.
func NewRegistry(transport Transport, logger zerolog.Logger) *Registry {
	return &Registry{
		transport: transport,
		logger:    logger.With().Str("component", "mcp-registry").Logger(),
		schemas:   make(map[string]*gojsonschema.Schema),
	}
}

// Connect starts the transport, performs the protocol handshake, and loads
// the tool catalog. Idempotent; a connected registry returns immediately.
func (r *Registry) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}

	if err := r.transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	_, err := r.transport.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "deskmate",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize handshake failed: %w", err)
	}

	raw, err := r.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var listed toolsListResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		return fmt.Errorf("failed to decode tool list: %w", err)
	}

	tools := make([]ToolDefinition, 0, len(listed.Tools))
	schemas := make(map[string]*gojsonschema.Schema, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
		if len(t.InputSchema) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema))
			if err != nil {
				// A malformed schema disables validation for that tool
				// but does not block the catalog.
				r.logger.Warn().Str("tool", t.Name).Err(err).Msg("unusable input schema, skipping validation")
				continue
			}
			schemas[t.Name] = schema
		}
	}

	r.tools = tools
	r.schemas = schemas
	r.connected = true

	r.logger.Info().Int("tools", len(tools)).Msg("connected to tool service")
	return nil
}

// Tools returns a copy of the discovered tool catalog.
func (r *Registry) Tools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDefinition, len(r.tools))
	copy(out, r.tools)
	return out
}

// Execute invokes one tool by name and returns its flattened output. A
// result the tool flags as an error, an unknown tool name, and invalid
// arguments all surface as an error return; the caller decides whether that
// ends the run.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()

	if !connected {
		if err := r.Connect(ctx); err != nil {
			return "", fmt.Errorf("tool service unavailable: %w", err)
		}
	}

	if !r.hasTool(name) {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	if err := r.validateArgs(name, args); err != nil {
		return "", err
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	raw, err := r.transport.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		observability.RecordToolCall(name, "error", time.Since(start))
		r.logger.Error().Str("tool", name).Err(err).Msg("tool call failed")
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}

	text, isError := normalizeResult(raw)
	if isError {
		observability.RecordToolCall(name, "error", time.Since(start))
		r.logger.Warn().Str("tool", name).Str("result", text).Msg("tool reported error")
		return "", fmt.Errorf("tool %s reported error: %s", name, text)
	}

	observability.RecordToolCall(name, "ok", time.Since(start))
	r.logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("tool call completed")
	return text, nil
}

func (r *Registry) hasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (r *Registry) validateArgs(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("failed to validate arguments for %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}

// Healthy reports whether the registry holds a live connection.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// HealthCheck reports whether the channel is live, attempting a connect
// first when none is established yet.
func (r *Registry) HealthCheck(ctx context.Context) bool {
	if r.Healthy() {
		return true
	}
	return r.Connect(ctx) == nil
}

// Close tears down the connection. Teardown errors are logged, not
// propagated; there is nothing a caller can do with them at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return
	}
	r.connected = false

	if err := r.transport.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("error closing transport")
	}
	r.logger.Info().Msg("disconnected from tool service")
}
