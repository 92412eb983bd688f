package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstone-labs/deskmate/pkg/llm"
	"github.com/fieldstone-labs/deskmate/pkg/mcp"
	"github.com/fieldstone-labs/deskmate/pkg/prompt"
	"github.com/fieldstone-labs/deskmate/pkg/routing"
)

// fakeProvider returns scripted responses in order and records every
// request it sees.
type fakeProvider struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, request)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return textResponse("done"), nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Message:    llm.Message{Role: llm.RoleAssistant, Blocks: []llm.Block{llm.TextBlock(text)}},
		StopReason: "end_turn",
	}
}

func toolUseResponse(blocks ...llm.Block) *llm.Response {
	return &llm.Response{
		Message:    llm.Message{Role: llm.RoleAssistant, Blocks: blocks},
		StopReason: "tool_use",
	}
}

// fakeRegistry serves a fixed catalog and delegates Execute to a function.
type fakeRegistry struct {
	healthy bool
	tools   []mcp.ToolDefinition
	execute func(name string, args map[string]interface{}) (string, error)
	calls   []string
}

func (f *fakeRegistry) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeRegistry) Tools() []mcp.ToolDefinition { return f.tools }

func (f *fakeRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.calls = append(f.calls, name)
	if f.execute != nil {
		return f.execute(name, args)
	}
	return "ok", nil
}

func newTestRegistry() *fakeRegistry {
	return &fakeRegistry{
		healthy: true,
		tools: []mcp.ToolDefinition{
			{Name: "search_tickets", Description: "Search tickets"},
			{Name: "create_ticket", Description: "Create a ticket"},
		},
	}
}

func newTestOrchestrator(t *testing.T, provider *fakeProvider, registry *fakeRegistry, mutate func(*Config)) *Orchestrator {
	t.Helper()

	cfg := Config{
		Provider: provider,
		Registry: registry,
		Prompts:  prompt.NewLibrary(filepath.Join(t.TempDir(), "none"), zerolog.Nop()),
		Logger:   zerolog.Nop(),
		Model:    "test-model",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

func TestRun_TextOnlyResponse(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{textResponse("Hello! How can I help?")}}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help?", result.Message)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.BudgetExhausted)
	assert.Empty(t, result.ToolCalls)
	assert.Empty(t, registry.calls)

	// History: user message plus assistant reply
	require.Len(t, result.UpdatedHistory, 2)
	assert.Equal(t, llm.RoleUser, result.UpdatedHistory[0].Role)
	assert.Equal(t, "hi", result.UpdatedHistory[0].Text())
}

func TestRun_ToolLoop(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "search_tickets", map[string]interface{}{"query": "printer"})),
		textResponse("Found 2 matching tickets."),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		return "2 results", nil
	}
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "any printer tickets?"})
	require.NoError(t, err)

	assert.Equal(t, "Found 2 matching tickets.", result.Message)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"search_tickets"}, registry.calls)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "ok", result.ToolCalls[0].Status)

	// Second model call must carry the result, answered by invocation id
	secondReq := provider.requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, llm.BlockToolResult, last.Blocks[0].Type)
	assert.Equal(t, "tu_1", last.Blocks[0].ToolUseID)
	assert.Equal(t, "2 results", last.Blocks[0].Content)
	assert.False(t, last.Blocks[0].IsError)
}

func TestRun_MultipleToolUsesAnsweredByID(t *testing.T) {
	// Two requests for the same tool name in one turn; only the invocation
	// id distinguishes the answers.
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(
			llm.ToolUseBlock("tu_1", "search_tickets", map[string]interface{}{"query": "vpn"}),
			llm.ToolUseBlock("tu_2", "search_tickets", map[string]interface{}{"query": "badge"}),
		),
		textResponse("done"),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		return fmt.Sprintf("results for %v", args["query"]), nil
	}
	o := newTestOrchestrator(t, provider, registry, nil)

	_, err := o.Run(context.Background(), Turn{Message: "check both"})
	require.NoError(t, err)

	secondReq := provider.requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	require.Len(t, last.Blocks, 2)
	assert.Equal(t, "tu_1", last.Blocks[0].ToolUseID)
	assert.Equal(t, "results for vpn", last.Blocks[0].Content)
	assert.Equal(t, "tu_2", last.Blocks[1].ToolUseID)
	assert.Equal(t, "results for badge", last.Blocks[1].Content)
}

func TestRun_FailureBetweenSuccessesKeepsOrder(t *testing.T) {
	// Three requests in one turn where the middle one fails. The answers
	// must come back in emission order, each under its own invocation id,
	// with only the failed one flagged.
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(
			llm.ToolUseBlock("tu_1", "search_tickets", map[string]interface{}{"query": "vpn"}),
			llm.ToolUseBlock("tu_2", "create_ticket", nil),
			llm.ToolUseBlock("tu_3", "search_tickets", map[string]interface{}{"query": "badge"}),
		),
		textResponse("done"),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		if name == "create_ticket" {
			return "", fmt.Errorf("backend timeout")
		}
		return fmt.Sprintf("results for %v", args["query"]), nil
	}
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "do all three"})
	require.NoError(t, err)

	assert.Equal(t, []string{"search_tickets", "create_ticket", "search_tickets"}, registry.calls)
	require.Len(t, result.ToolCalls, 3)
	assert.Equal(t, "ok", result.ToolCalls[0].Status)
	assert.Equal(t, "error", result.ToolCalls[1].Status)
	assert.Equal(t, "ok", result.ToolCalls[2].Status)

	secondReq := provider.requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	require.Len(t, last.Blocks, 3)
	assert.Equal(t, "tu_1", last.Blocks[0].ToolUseID)
	assert.Equal(t, "results for vpn", last.Blocks[0].Content)
	assert.False(t, last.Blocks[0].IsError)
	assert.Equal(t, "tu_2", last.Blocks[1].ToolUseID)
	assert.True(t, last.Blocks[1].IsError)
	assert.Contains(t, last.Blocks[1].Content, "backend timeout")
	assert.Equal(t, "tu_3", last.Blocks[2].ToolUseID)
	assert.Equal(t, "results for badge", last.Blocks[2].Content)
	assert.False(t, last.Blocks[2].IsError)
}

func TestRun_ToolFailureIsNotFatal(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "search_tickets", nil)),
		textResponse("Search is unavailable right now."),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		return "", fmt.Errorf("backend timeout")
	}
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "search something"})
	require.NoError(t, err)

	assert.Equal(t, "Search is unavailable right now.", result.Message)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "error", result.ToolCalls[0].Status)
	assert.Contains(t, result.ToolCalls[0].Error, "backend timeout")

	// The model sees the failure as an error result, not a dropped turn
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.True(t, last.Blocks[0].IsError)
	assert.Contains(t, last.Blocks[0].Content, "backend timeout")
}

func TestRun_BudgetExhausted(t *testing.T) {
	// The model asks for a tool every turn and never concludes
	var responses []*llm.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolUseResponse(
			llm.ToolUseBlock(fmt.Sprintf("tu_%d", i), "search_tickets", nil),
		))
	}
	provider := &fakeProvider{responses: responses}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "loop forever"})
	require.NoError(t, err)

	assert.True(t, result.BudgetExhausted)
	assert.Equal(t, DefaultMaxIterations, result.Iterations)
	assert.Contains(t, result.Message, "having trouble completing this request")
	assert.Len(t, registry.calls, 10)
	// Conversation stays usable for the next message
	assert.NotEmpty(t, result.UpdatedHistory)
}

func TestRun_ModelErrorIsFatal(t *testing.T) {
	provider := &fakeProvider{errs: []error{fmt.Errorf("connection reset")}}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, nil)

	_, err := o.Run(context.Background(), Turn{Message: "hi"})
	assert.ErrorContains(t, err, "model call failed")
	// No retry happens
	assert.Len(t, provider.requests, 1)
}

func TestRun_UnhealthyRegistryIsFatal(t *testing.T) {
	provider := &fakeProvider{}
	registry := newTestRegistry()
	registry.healthy = false
	o := newTestOrchestrator(t, provider, registry, nil)

	_, err := o.Run(context.Background(), Turn{Message: "hi"})
	assert.ErrorContains(t, err, "not connected")
	assert.Empty(t, provider.requests)
}

func TestRun_InvalidatingToolFlagsFreshSession(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "create_ticket", nil)),
		textResponse("Created."),
	}}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, func(cfg *Config) {
		cfg.Invalidating = []string{"create_ticket"}
	})

	result, err := o.Run(context.Background(), Turn{Message: "file a ticket"})
	require.NoError(t, err)
	assert.True(t, result.RequiresFreshSession)
}

func TestRun_NoInvalidatingToolsByDefault(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "create_ticket", nil)),
		textResponse("Created."),
	}}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, nil)

	result, err := o.Run(context.Background(), Turn{Message: "file a ticket"})
	require.NoError(t, err)
	assert.False(t, result.RequiresFreshSession)
}

func TestRun_ArtifactExtraction(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "create_ticket", map[string]interface{}{"board_id": "board-hw-1"})),
		textResponse("Filed your ticket."),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		return `{"success": true, "ticket": {"id": "t-99", "name": "Broken monitor", "url": "https://example.com/t-99"}}`, nil
	}
	table := routing.NewTable(map[string]routing.Destination{
		"hardware": {ID: "board-hw-1", Name: "Hardware Requests"},
	})
	o := newTestOrchestrator(t, provider, registry, func(cfg *Config) {
		cfg.Routing = table
		cfg.ArtifactTools = []string{"create_ticket"}
	})

	result, err := o.Run(context.Background(), Turn{Message: "my monitor broke"})
	require.NoError(t, err)

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "t-99", result.Artifacts[0].ID)
	assert.Equal(t, "Broken monitor", result.Artifacts[0].Name)
	assert.Equal(t, "Hardware Requests", result.Artifacts[0].Destination)
}

func TestRun_ArtifactExtractionIgnoresUnparseableOutput(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "create_ticket", nil)),
		textResponse("done"),
	}}
	registry := newTestRegistry()
	registry.execute = func(name string, args map[string]interface{}) (string, error) {
		return "Ticket created successfully!", nil
	}
	o := newTestOrchestrator(t, provider, registry, func(cfg *Config) {
		cfg.ArtifactTools = []string{"create_ticket"}
	})

	result, err := o.Run(context.Background(), Turn{Message: "file it"})
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)
}

func TestRun_InputHistoryNotMutated(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{textResponse("second answer")}}
	registry := newTestRegistry()
	o := newTestOrchestrator(t, provider, registry, nil)

	history := []llm.Message{
		llm.UserText("first question"),
		{Role: llm.RoleAssistant, Blocks: []llm.Block{llm.TextBlock("first answer")}},
	}

	result, err := o.Run(context.Background(), Turn{History: history, Message: "second question"})
	require.NoError(t, err)

	assert.Len(t, history, 2)
	assert.Len(t, result.UpdatedHistory, 4)
}

func TestRun_OnToolCallHook(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("tu_1", "search_tickets", nil)),
		textResponse("done"),
	}}
	registry := newTestRegistry()

	var events []string
	o := newTestOrchestrator(t, provider, registry, func(cfg *Config) {
		cfg.OnToolCall = func(tool, status string) {
			events = append(events, tool+":"+status)
		}
	})

	_, err := o.Run(context.Background(), Turn{Message: "search"})
	require.NoError(t, err)
	assert.Equal(t, []string{"search_tickets:running", "search_tickets:ok"}, events)
}

func TestRun_SystemPromptIncludesRouting(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{textResponse("hi")}}
	registry := newTestRegistry()
	table := routing.NewTable(map[string]routing.Destination{
		"hardware": {ID: "board-hw-1", Name: "Hardware Requests"},
	})
	o := newTestOrchestrator(t, provider, registry, func(cfg *Config) {
		cfg.Routing = table
	})

	_, err := o.Run(context.Background(), Turn{Message: "hello"})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	assert.Contains(t, provider.requests[0].System, "board-hw-1")
	// Catalog is offered to the model
	assert.Len(t, provider.requests[0].Tools, 2)
}

func TestNew_Validation(t *testing.T) {
	registry := newTestRegistry()
	prompts := prompt.NewLibrary(filepath.Join(t.TempDir(), "none"), zerolog.Nop())

	_, err := New(Config{Registry: registry, Prompts: prompts, Model: "m", Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "provider")

	_, err = New(Config{Provider: &fakeProvider{}, Prompts: prompts, Model: "m", Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "registry")

	_, err = New(Config{Provider: &fakeProvider{}, Registry: registry, Prompts: prompts, Logger: zerolog.Nop()})
	assert.ErrorContains(t, err, "model")
}
