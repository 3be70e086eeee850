package llm

import (
	"context"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{client: client, model: modelName}, nil
}

func (g *GeminiLLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return chatFromStream(ctx, g, req)
}

// Stream sends a streaming chat request to the Gemini API. A GenerativeModel
// carries per-call settings, so one is built for every request.
func (g *GeminiLLMClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = g.model
	}
	model := g.client.GenerativeModel(modelName)
	model.SetMaxOutputTokens(int32(maxTokens(req.MaxTokens, 4096)))
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if len(req.Tools) > 0 {
		model.Tools = convertToolsToGeminiTools(req.Tools)
		if req.ToolChoice == ToolChoiceNone {
			model.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingNone},
			}
		}
	}

	history := convertMessagesToGeminiContent(req.Messages)
	if len(history) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "gemini request has no messages")
	}
	last := history[len(history)-1]

	chat := model.StartChat()
	chat.History = history[:len(history)-1]

	resp := &Response{Model: modelName}
	var text strings.Builder
	iter := chat.SendMessageStream(ctx, last.Parts...)
	for {
		chunk, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "gemini streaming error")
		}
		if chunk.UsageMetadata != nil {
			resp.Usage.InputTokens = int64(chunk.UsageMetadata.PromptTokenCount)
			resp.Usage.OutputTokens = int64(chunk.UsageMetadata.CandidatesTokenCount)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		cand := chunk.Candidates[0]
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				text.WriteString(string(v))
				onEvent(StreamEvent{Type: StreamText, Text: string(v)})
			case genai.FunctionCall:
				call := session.ToolUseBlock{
					ID:    newCallID(),
					Name:  v.Name,
					Input: v.Args,
				}
				if call.Input == nil {
					call.Input = map[string]any{}
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
				onEvent(StreamEvent{Type: StreamToolUse, ToolCall: call})
			}
		}
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			resp.StopReason = StopMaxTokens
		}
	}

	resp.Text = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopToolUse
	} else if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
	}
	return resp, nil
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
// Gemini answers function calls by name, so tool_result ids are resolved back
// to the name of the tool_use they answer.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	names := map[string]string{}
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		var parts []genai.Part
		for _, b := range msg.Content {
			switch v := b.(type) {
			case session.TextBlock:
				if v.Text != "" {
					parts = append(parts, genai.Text(v.Text))
				}
			case session.ToolUseBlock:
				names[v.ID] = v.Name
				parts = append(parts, genai.FunctionCall{Name: v.Name, Args: v.Input})
			case session.ToolResultBlock:
				key := "result"
				if v.IsError {
					key = "error"
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     names[v.ToolUseID],
					Response: map[string]any{key: v.Content},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGeminiTools converts tool specs to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, spec := range specs {
		params := schemaFromJSON(spec.InputSchema)
		if params == nil || params.Type != genai.TypeObject {
			params = &genai.Schema{Type: genai.TypeObject}
		}
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// schemaFromJSON maps the JSON Schema subset Gemini understands.
func schemaFromJSON(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	switch m["type"] {
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		s.Type = genai.TypeObject
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if f, ok := m["format"].(string); ok {
		s.Format = f
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromJSON(items)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFromJSON(pm)
			}
		}
	}
	s.Required = requiredFields(m)
	return s
}
