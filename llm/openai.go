package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The &c is required, do not replace and just use c
	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

func (o *OpenAILLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return chatFromStream(ctx, o, req)
}

// Stream sends a streaming chat completion request. Tool calls are read from
// the accumulated completion once the stream ends so their arguments are whole.
func (o *OpenAILLMClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	params := buildOpenAIParams(req, o.model)

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onEvent(StreamEvent{Type: StreamText, Text: chunk.Choices[0].Delta.Content})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "openai streaming error")
	}

	resp := &Response{
		Model: acc.Model,
		Usage: Usage{InputTokens: acc.Usage.PromptTokens, OutputTokens: acc.Usage.CompletionTokens},
	}
	if resp.Model == "" {
		resp.Model = string(params.Model)
	}
	if len(acc.Choices) == 0 {
		resp.StopReason = StopEndTurn
		return resp, nil
	}

	choice := acc.Choices[0]
	resp.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		call := session.ToolUseBlock{ID: tc.ID, Name: tc.Function.Name, Input: parseArgs(tc.Function.Arguments)}
		resp.ToolCalls = append(resp.ToolCalls, call)
		onEvent(StreamEvent{Type: StreamToolUse, ToolCall: call})
	}
	resp.StopReason = normalizeOpenAIStop(choice.FinishReason, len(resp.ToolCalls) > 0)
	return resp, nil
}

func buildOpenAIParams(req Request, fallbackModel string) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = fallbackModel
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            convertMessagesToOpenaiContent(req.System, req.Messages),
		MaxCompletionTokens: openai.Int(maxTokens(req.MaxTokens, 4096)),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToOpenAITools(req.Tools)
		if req.ToolChoice == ToolChoiceNone {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
		}
	}
	return params
}

// convertMessagesToOpenaiContent flattens block messages into OpenAI's
// role-per-message shape. Tool results become one tool message each.
func convertMessagesToOpenaiContent(system string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, msg := range messages {
		if msg.Role == session.RoleAssistant {
			uses := msg.ToolUses()
			text := msg.Text()
			if len(uses) == 0 {
				if text != "" {
					out = append(out, openai.AssistantMessage(text))
				}
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(text)}
			}
			for _, tu := range uses {
				args, err := json.Marshal(tu.Input)
				if err != nil || tu.Input == nil {
					args = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tu.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tu.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			continue
		}

		for _, tr := range msg.ToolResults() {
			content := tr.Content
			if tr.IsError {
				content = "ERROR: " + content
			}
			out = append(out, openai.ToolMessage(content, tr.ToolUseID))
		}
		if text := msg.Text(); text != "" {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func convertToolsToOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		parameters := openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		for k, v := range spec.InputSchema {
			parameters[k] = v
		}
		fn := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: parameters,
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func normalizeOpenAIStop(reason string, hasToolCalls bool) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	}
	if hasToolCalls {
		return StopToolUse
	}
	return StopEndTurn
}
