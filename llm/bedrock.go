package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
)

// bedrockInvoker is the slice of the Bedrock runtime client we use.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  bedrockInvoker
	modelID string
	region  string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	// Custom endpoint, useful for testing
	endpoint := os.Getenv("BEDROCK_ENDPOINT_URL")

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockLLMClient{
		client:  client,
		modelID: modelID,
		region:  region,
	}, nil
}

func (b *BedrockLLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = b.modelID
	}

	requestBody, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	out, err := processBedrockResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	out.Model = modelID
	return out, nil
}

// Stream invokes the model and replays the complete response as events.
func (b *BedrockLLMClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	resp, err := b.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Text != "" {
		onEvent(StreamEvent{Type: StreamText, Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		onEvent(StreamEvent{Type: StreamToolUse, ToolCall: tc})
	}
	return resp, nil
}

// convertMessagesToAnthropicFormat converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]interface{} {
	var anthropicMessages []map[string]interface{}

	for _, msg := range messages {
		var content []map[string]interface{}
		for _, b := range msg.Content {
			switch v := b.(type) {
			case session.TextBlock:
				if v.Text != "" {
					content = append(content, map[string]interface{}{
						"type": "text",
						"text": v.Text,
					})
				}
			case session.ToolUseBlock:
				input := v.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    v.ID,
					"name":  v.Name,
					"input": input,
				})
			case session.ToolResultBlock:
				content = append(content, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": v.ToolUseID,
					"content":     v.Content,
					"is_error":    v.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "assistant"
		}
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role":    role,
			"content": content,
		})
	}

	return anthropicMessages
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens(req.MaxTokens, 4096),
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}

	if req.System != "" {
		request["system"] = req.System
	}

	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, spec := range req.Tools {
			schema := map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
			for k, v := range spec.InputSchema {
				schema[k] = v
			}
			tools = append(tools, map[string]interface{}{
				"name":         spec.Name,
				"description":  spec.Description,
				"input_schema": schema,
			})
		}
		request["tools"] = tools
		if req.ToolChoice == ToolChoiceNone {
			request["tool_choice"] = map[string]interface{}{"type": "none"}
		}
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into a Response.
func processBedrockResponse(body []byte) (*Response, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	out := &Response{StopReason: StopEndTurn}
	if reason, ok := response["stop_reason"].(string); ok {
		out.StopReason = normalizeAnthropicStop(reason)
	}
	if usage, ok := response["usage"].(map[string]interface{}); ok {
		if n, ok := usage["input_tokens"].(float64); ok {
			out.Usage.InputTokens = int64(n)
		}
		if n, ok := usage["output_tokens"].(float64); ok {
			out.Usage.OutputTokens = int64(n)
		}
	}

	content, ok := response["content"]
	if !ok {
		return out, nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	for _, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		itemType, _ := itemMap["type"].(string)

		switch itemType {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				out.Text += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, _ := itemMap["input"].(map[string]interface{})
			if input == nil {
				input = map[string]interface{}{}
			}
			id := newCallID()
			if toolID, ok := itemMap["id"].(string); ok && toolID != "" {
				id = toolID
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolUseBlock{ID: id, Name: name, Input: input})
		}
	}

	return out, nil
}
