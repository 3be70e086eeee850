package llm

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicLLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return chatFromStream(ctx, a, req)
}

// Stream sends a streaming message request to the Anthropic API.
func (a *AnthropicLLMClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	params := buildAnthropicParams(req, a.model)

	resp := &Response{Model: string(params.Model)}
	accumulator := newToolCallAccumulator()
	var text strings.Builder

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			resp.Usage.InputTokens = variant.Message.Usage.InputTokens
			if variant.Message.Model != "" {
				resp.Model = string(variant.Message.Model)
			}
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				accumulator.Start(variant.Index, block.ID, block.Name, string(block.Input))
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					text.WriteString(delta.Text)
					onEvent(StreamEvent{Type: StreamText, Text: delta.Text})
				}
			case anthropic.InputJSONDelta:
				accumulator.Append(variant.Index, delta.PartialJSON)
			}
		case anthropic.ContentBlockStopEvent:
			if call, ok := accumulator.Finish(variant.Index); ok {
				resp.ToolCalls = append(resp.ToolCalls, call)
				onEvent(StreamEvent{Type: StreamToolUse, ToolCall: call})
			}
		case anthropic.MessageDeltaEvent:
			if variant.Delta.StopReason != "" {
				resp.StopReason = normalizeAnthropicStop(string(variant.Delta.StopReason))
			}
			if variant.Usage.InputTokens > resp.Usage.InputTokens {
				resp.Usage.InputTokens = variant.Usage.InputTokens
			}
			if variant.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = variant.Usage.OutputTokens
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "anthropic streaming error")
	}

	resp.Text = text.String()
	return resp, nil
}

func buildAnthropicParams(req Request, fallbackModel string) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = fallbackModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens(req.MaxTokens, 4096),
		Messages:  convertMessagesToAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropicTools(req.Tools)
		if req.ToolChoice == ToolChoiceNone {
			none := anthropic.NewToolChoiceNoneParam()
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &none}
		}
	}
	return params
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch v := b.(type) {
			case session.TextBlock:
				if v.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(v.Text))
				}
			case session.ToolUseBlock:
				input := v.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, v.Name))
			case session.ToolResultBlock:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == session.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// convertToolsToAnthropicTools converts tool specs to Anthropic's tool format.
func convertToolsToAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
		if props, ok := spec.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(spec.InputSchema)

		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		out = append(out, tool)
	}
	return out
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// toolCallAccumulator assembles tool calls whose arguments arrive as partial
// JSON spread over several deltas, keyed by content block index.
type toolCallAccumulator struct {
	calls    map[int64]session.ToolUseBlock
	fallback map[int64]string
	partial  map[int64]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:    make(map[int64]session.ToolUseBlock),
		fallback: make(map[int64]string),
		partial:  make(map[int64]*strings.Builder),
	}
}

func (a *toolCallAccumulator) Start(index int64, id, name, initial string) {
	if initial != "" && initial != "{}" {
		a.fallback[index] = initial
	}
	a.calls[index] = session.ToolUseBlock{ID: id, Name: name}
}

func (a *toolCallAccumulator) Append(index int64, partial string) {
	if partial == "" {
		return
	}
	builder := a.partial[index]
	if builder == nil {
		builder = &strings.Builder{}
		a.partial[index] = builder
	}
	builder.WriteString(partial)
}

func (a *toolCallAccumulator) Finish(index int64) (session.ToolUseBlock, bool) {
	call, ok := a.calls[index]
	if !ok {
		return session.ToolUseBlock{}, false
	}
	if builder := a.partial[index]; builder != nil && builder.Len() > 0 {
		call.Input = parseArgs(builder.String())
	} else {
		call.Input = parseArgs(a.fallback[index])
	}
	delete(a.calls, index)
	delete(a.partial, index)
	delete(a.fallback, index)
	return call, true
}
