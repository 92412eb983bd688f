package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldstone-labs/deskmate/internal/observability"
	"github.com/fieldstone-labs/deskmate/internal/tracing"
	"github.com/fieldstone-labs/deskmate/pkg/llm"
	"github.com/fieldstone-labs/deskmate/pkg/mcp"
	"github.com/fieldstone-labs/deskmate/pkg/prompt"
	"github.com/fieldstone-labs/deskmate/pkg/routing"
)

// DefaultMaxIterations bounds the model-call loop for one user message.
const DefaultMaxIterations = 10

// exhaustedMessage is returned when a run uses its whole iteration budget
// without the model concluding.
const exhaustedMessage = "I apologize, but I'm having trouble completing this request. Please try again or rephrase your question."

// ToolRegistry is the registry surface the orchestrator needs.
type ToolRegistry interface {
	HealthCheck(ctx context.Context) bool
	Tools() []mcp.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Config wires an Orchestrator.
type Config struct {
	Provider llm.Provider
	Registry ToolRegistry
	Prompts  *prompt.Library
	Routing  *routing.Table
	Logger   zerolog.Logger

	Model       string
	MaxTokens   int
	Temperature float64

	// MaxIterations caps model calls per run. Zero uses the default.
	MaxIterations int

	// RequestTimeout bounds each individual model call. Zero means no
	// per-call bound beyond the run context.
	RequestTimeout time.Duration

	// Invalidating names tools whose execution tells the client to drop
	// cached context. Empty by default.
	Invalidating []string

	// ArtifactTools names tools whose successful output is scanned for
	// created tickets.
	ArtifactTools []string

	// OnToolCall, when set, is notified before and after each tool
	// invocation. Used for progress streaming.
	OnToolCall func(tool string, status string)
}

// Orchestrator drives the model and tool loop for one user message at a
// time. It holds no per-session state; histories come in and go out through
// Run.
type Orchestrator struct {
	cfg          Config
	invalidating map[string]bool
	artifactSet  map[string]bool
	logger       zerolog.Logger
}

// New validates the config and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt library is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	invalidating := make(map[string]bool, len(cfg.Invalidating))
	for _, name := range cfg.Invalidating {
		invalidating[name] = true
	}
	artifactSet := make(map[string]bool, len(cfg.ArtifactTools))
	for _, name := range cfg.ArtifactTools {
		artifactSet[name] = true
	}

	return &Orchestrator{
		cfg:          cfg,
		invalidating: invalidating,
		artifactSet:  artifactSet,
		logger:       cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Run processes one chat turn and returns the run outcome. The input
// history is not mutated. A returned error means the run could not proceed
// at all; tool failures do not produce errors here, they are fed back to
// the model as error results.
func (o *Orchestrator) Run(ctx context.Context, turn Turn) (*Result, error) {
	start := time.Now()

	onToolCall := turn.OnToolCall
	if onToolCall == nil {
		onToolCall = o.cfg.OnToolCall
	}

	if !o.cfg.Registry.HealthCheck(ctx) {
		observability.RecordChatRun("unavailable", 0, time.Since(start))
		return nil, fmt.Errorf("tool service is not connected")
	}

	ctx = tracing.NewRunContext(ctx)
	logger := tracing.PropagateToLogger(ctx, o.logger)

	messages := make([]llm.Message, 0, len(turn.History)+1)
	messages = append(messages, turn.History...)
	messages = append(messages, llm.UserText(turn.Message))

	routingSection := ""
	if o.cfg.Routing != nil {
		routingSection = o.cfg.Routing.PromptSection()
	}
	system := o.cfg.Prompts.System(routingSection, turn.Category)
	tools := o.llmTools()

	result := &Result{}

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		response, err := o.complete(ctx, system, messages, tools)
		observability.RecordModelCall(o.cfg.Provider.Name(), err)
		if err != nil {
			// Model transport failures are fatal for the run. Retry
			// policy belongs to the caller, not this loop.
			logger.Error().Int("iteration", iteration).Err(err).Msg("model call failed")
			observability.RecordChatRun("model_error", iteration, time.Since(start))
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		messages = append(messages, response.Message)

		uses := response.Message.ToolUses()
		if len(uses) == 0 {
			result.Message = response.Message.Text()
			result.UpdatedHistory = messages
			logger.Info().Int("iterations", iteration).Int("tool_calls", len(result.ToolCalls)).Msg("run completed")
			observability.RecordChatRun("ok", iteration, time.Since(start))
			return result, nil
		}

		// Execute requested tools one at a time, in the order the model
		// emitted them, and answer each one by its invocation id.
		resultBlocks := make([]llm.Block, 0, len(uses))
		for _, use := range uses {
			resultBlocks = append(resultBlocks, o.executeTool(ctx, logger, use, result, onToolCall))
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Blocks: resultBlocks})
	}

	// Budget exhausted. The conversation stays usable; only this run gives
	// up.
	result.Message = exhaustedMessage
	result.BudgetExhausted = true
	result.UpdatedHistory = messages
	logger.Warn().Int("iterations", o.cfg.MaxIterations).Msg("iteration budget exhausted")
	observability.RecordChatRun("exhausted", o.cfg.MaxIterations, time.Since(start))
	return result, nil
}

func (o *Orchestrator) complete(ctx context.Context, system string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	return o.cfg.Provider.Complete(ctx, llm.Request{
		Model:       o.cfg.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
}

// executeTool runs one requested tool and returns the result block to feed
// back to the model. Failures become error results; the model sees them and
// decides what to do next.
func (o *Orchestrator) executeTool(ctx context.Context, logger zerolog.Logger, use llm.Block, result *Result, onToolCall func(tool, status string)) llm.Block {
	notify(onToolCall, use.Name, "running")

	output, err := o.cfg.Registry.Execute(ctx, use.Name, use.Input)
	if err != nil {
		logger.Warn().Str("tool", use.Name).Err(err).Msg("tool call failed")
		result.ToolCalls = append(result.ToolCalls, ToolCallRecord{Tool: use.Name, Status: "error", Error: err.Error()})
		notify(onToolCall, use.Name, "error")
		return llm.ToolResultBlock(use.ID, fmt.Sprintf("Error: %s", err.Error()), true)
	}

	result.ToolCalls = append(result.ToolCalls, ToolCallRecord{Tool: use.Name, Status: "ok"})
	notify(onToolCall, use.Name, "ok")

	if o.invalidating[use.Name] {
		result.RequiresFreshSession = true
	}
	if o.artifactSet[use.Name] {
		if artifact, ok := o.extractArtifact(output, use.Input); ok {
			result.Artifacts = append(result.Artifacts, artifact)
		}
	}

	return llm.ToolResultBlock(use.ID, output, false)
}

func notify(onToolCall func(tool, status string), tool, status string) {
	if onToolCall != nil {
		onToolCall(tool, status)
	}
}

// llmTools converts the registry catalog into the schema the provider
// expects.
func (o *Orchestrator) llmTools() []llm.Tool {
	defs := o.cfg.Registry.Tools()
	tools := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, llm.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return tools
}
