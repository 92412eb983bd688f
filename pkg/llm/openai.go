package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete makes an API call to OpenAI. Block-structured messages are mapped
// to the chat-completions shape: tool_use blocks become tool_calls on an
// assistant message, tool_result blocks become tool-role messages.
func (p *OpenAIProvider) Complete(ctx context.Context, request Request) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}

	for _, msg := range request.Messages {
		converted, err := openAIMessages(msg)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			var schema map[string]interface{}
			if len(tool.InputSchema) > 0 {
				if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
					return nil, fmt.Errorf("invalid input schema for tool %s: %w", tool.Name, err)
				}
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	message := Message{Role: RoleAssistant}
	if choice.Message.Content != "" {
		message.Blocks = append(message.Blocks, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		message.Blocks = append(message.Blocks, ToolUseBlock(tc.ID, tc.Function.Name, input))
	}

	return &Response{
		Message:    message,
		StopReason: string(choice.FinishReason),
		Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

func openAIMessages(msg Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion

	switch msg.Role {
	case RoleUser:
		// Tool results travel as tool-role messages; any text travels as a
		// plain user message. Result order is preserved.
		for _, block := range msg.Blocks {
			if block.Type == BlockToolResult {
				content := block.Content
				if block.IsError {
					content = fmt.Sprintf("Error: %s", block.Content)
				}
				out = append(out, openai.ToolMessage(block.ToolUseID, content))
			}
		}
		if text := msg.Text(); text != "" {
			out = append(out, openai.UserMessage(text))
		}

	case RoleAssistant:
		uses := msg.ToolUses()
		if len(uses) == 0 {
			out = append(out, openai.AssistantMessage(msg.Text()))
			break
		}

		toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(uses))
		for _, use := range uses {
			args, err := json.Marshal(use.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
				ID:   use.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunction{
					Name:      use.Name,
					Arguments: string(args),
				},
			})
		}

		assistantMsg := openai.ChatCompletionMessage{
			Role:      "assistant",
			Content:   msg.Text(),
			ToolCalls: toolCalls,
		}
		out = append(out, assistantMsg.ToParam())

	default:
		return nil, fmt.Errorf("unknown message role: %q", msg.Role)
	}

	return out, nil
}
