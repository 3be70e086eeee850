package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/session"
)

func toolRound() []session.Message {
	return []session.Message{
		session.UserText("how many hvac deals?"),
		{Role: session.RoleAssistant, Content: []session.Block{
			session.TextBlock{Text: "Let me check."},
			session.ToolUseBlock{ID: "tu_1", Name: "count_deals_by_industry", Input: map[string]any{"industry": "hvac"}},
		}},
		{Role: session.RoleUser, Content: []session.Block{
			session.ToolResultBlock{ToolUseID: "tu_1", Content: `{"count":12}`},
		}},
	}
}

var dealSpec = ToolSpec{
	Name:        "count_deals_by_industry",
	Description: "Count deals in an industry",
	InputSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"industry": map[string]any{"type": "string", "description": "industry name"},
			"states":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"industry"},
	},
}

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	result := convertMessagesToAnthropicFormat(toolRound())
	require.Len(t, result, 3)

	assert.Equal(t, "user", result[0]["role"])
	assert.Equal(t, "assistant", result[1]["role"])

	content := result[1]["content"].([]map[string]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "tool_use", content[1]["type"])
	assert.Equal(t, "tu_1", content[1]["id"])

	results := result[2]["content"].([]map[string]interface{})
	assert.Equal(t, "tool_result", results[0]["type"])
	assert.Equal(t, "tu_1", results[0]["tool_use_id"])
}

func TestCreateAnthropicRequestToolChoiceNone(t *testing.T) {
	body, err := createAnthropicRequest(Request{
		System:     "be brief",
		Messages:   toolRound(),
		Tools:      []ToolSpec{dealSpec},
		ToolChoice: ToolChoiceNone,
		MaxTokens:  512,
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req["anthropic_version"])
	assert.EqualValues(t, 512, req["max_tokens"])
	assert.Equal(t, "be brief", req["system"])
	assert.Equal(t, map[string]any{"type": "none"}, req["tool_choice"])
	tools := req["tools"].([]any)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, []any{"industry"}, schema["required"])
}

func TestProcessBedrockResponse(t *testing.T) {
	body := `{
		"content": [
			{"type": "text", "text": "Checking."},
			{"type": "tool_use", "id": "toolu_9", "name": "query_deals", "input": {"industry": "hvac"}},
			{"type": "tool_use", "name": "find_contacts", "input": {}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 120, "output_tokens": 30}
	}`
	resp, err := processBedrockResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "Checking.", resp.Text)
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 30}, resp.Usage)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "toolu_9", resp.ToolCalls[0].ID)
	assert.True(t, strings.HasPrefix(resp.ToolCalls[1].ID, "call_"), resp.ToolCalls[1].ID)

	again, err := processBedrockResponse([]byte(body))
	require.NoError(t, err)
	assert.NotEqual(t, resp.ToolCalls[1].ID, again.ToolCalls[1].ID, "generated ids must not repeat across rounds")
}

func TestProcessBedrockResponseError(t *testing.T) {
	_, err := processBedrockResponse([]byte(`{"error": "throttled"}`))
	assert.ErrorContains(t, err, "throttled")
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockStreamReplays(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"x","input":{}}],"stop_reason":"tool_use"}`}
	client := &BedrockLLMClient{client: inv, modelID: "anthropic.claude-3-haiku"}

	var events []StreamEvent
	resp, err := client.Stream(context.Background(), Request{Messages: []session.Message{session.UserText("hi")}}, func(e StreamEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-haiku", *inv.input.ModelId)
	assert.Equal(t, "anthropic.claude-3-haiku", resp.Model)
	require.Len(t, events, 2)
	assert.Equal(t, StreamText, events[0].Type)
	assert.Equal(t, StreamToolUse, events[1].Type)
	assert.Equal(t, "t1", events[1].ToolCall.ID)
}

func TestAnthropicParams(t *testing.T) {
	params := buildAnthropicParams(Request{
		Model:      "claude-sonnet-4-20250514",
		System:     "sys",
		Messages:   toolRound(),
		Tools:      []ToolSpec{dealSpec},
		ToolChoice: ToolChoiceNone,
	}, "fallback")

	assert.EqualValues(t, "claude-sonnet-4-20250514", params.Model)
	assert.EqualValues(t, 4096, params.MaxTokens)
	require.Len(t, params.Messages, 3)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, []string{"industry"}, params.Tools[0].OfTool.InputSchema.Required)
	assert.NotNil(t, params.ToolChoice.OfNone)

	data, err := json.Marshal(params.Messages[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_use"`)
	assert.Contains(t, string(data), `"tu_1"`)
}

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(1, "tu_1", "query_deals", "{}")
	acc.Append(1, `{"indus`)
	acc.Append(1, `try":"hvac"}`)
	call, ok := acc.Finish(1)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"industry": "hvac"}, call.Input)

	acc.Start(2, "tu_2", "get_page_context", "")
	call, ok = acc.Finish(2)
	require.True(t, ok)
	assert.Equal(t, map[string]any{}, call.Input)

	_, ok = acc.Finish(3)
	assert.False(t, ok)
}

func TestOpenAIMessages(t *testing.T) {
	msgs := convertMessagesToOpenaiContent("sys", toolRound())
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "tu_1", msgs[2].OfAssistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"industry":"hvac"}`, msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "tu_1", msgs[3].OfTool.ToolCallID)
}

func TestOpenAIParams(t *testing.T) {
	params := buildOpenAIParams(Request{Tools: []ToolSpec{dealSpec}, ToolChoice: ToolChoiceNone, Messages: toolRound()}, "gpt-4o")
	assert.EqualValues(t, "gpt-4o", params.Model)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "count_deals_by_industry", params.Tools[0].Function.Name)
	assert.Equal(t, "object", params.Tools[0].Function.Parameters["type"])
	assert.Equal(t, "none", params.ToolChoice.OfAuto.Value)
}

func TestNormalizeStops(t *testing.T) {
	assert.Equal(t, StopToolUse, normalizeOpenAIStop("tool_calls", false))
	assert.Equal(t, StopToolUse, normalizeOpenAIStop("stop", true))
	assert.Equal(t, StopMaxTokens, normalizeOpenAIStop("length", false))
	assert.Equal(t, StopEndTurn, normalizeOpenAIStop("stop", false))
	assert.Equal(t, StopToolUse, normalizeAnthropicStop("tool_use"))
	assert.Equal(t, StopEndTurn, normalizeAnthropicStop("refusal"))
}

func TestGeminiContent(t *testing.T) {
	contents := convertMessagesToGeminiContent(toolRound())
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].Role)
	call, ok := contents[1].Parts[1].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "count_deals_by_industry", call.Name)

	resp, ok := contents[2].Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "count_deals_by_industry", resp.Name)
	assert.Equal(t, `{"count":12}`, resp.Response["result"])
}

func TestGeminiSchema(t *testing.T) {
	tools := convertToolsToGeminiTools([]ToolSpec{dealSpec, {Name: "get_page_context"}})
	require.Len(t, tools, 1)
	decls := tools[0].FunctionDeclarations
	require.Len(t, decls, 2)

	params := decls[0].Parameters
	assert.Equal(t, genai.TypeObject, params.Type)
	assert.Equal(t, genai.TypeString, params.Properties["industry"].Type)
	assert.Equal(t, genai.TypeArray, params.Properties["states"].Type)
	assert.Equal(t, genai.TypeString, params.Properties["states"].Items.Type)
	assert.Equal(t, []string{"industry"}, params.Required)
	assert.Equal(t, genai.TypeObject, decls[1].Parameters.Type)
}

func TestMockLLMClient(t *testing.T) {
	m := NewMockLLMClient(&Response{ToolCalls: []session.ToolUseBlock{{ID: "t1", Name: "query_deals"}}})
	m.Fail(errors.New("overloaded"))

	var events []StreamEvent
	resp, err := m.Stream(context.Background(), Request{Model: "m1"}, func(e StreamEvent) { events = append(events, e) })
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, "m1", resp.Model)
	assert.Len(t, events, 1)

	_, err = m.Chat(context.Background(), Request{})
	assert.EqualError(t, err, "overloaded")

	resp, err = m.Chat(context.Background(), Request{Messages: []session.Message{session.UserText("ping")}})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "ping")
	assert.Len(t, m.Requests(), 3)
}

func TestResponseMessage(t *testing.T) {
	resp := &Response{Text: "ok", ToolCalls: []session.ToolUseBlock{{ID: "a"}, {ID: "b"}}}
	msg := resp.Message()
	assert.Equal(t, session.RoleAssistant, msg.Role)
	assert.Equal(t, "ok", msg.Text())
	assert.Len(t, msg.ToolUses(), 2)
}

func TestNewClient(t *testing.T) {
	cfg := &config.Config{LLMClient: "mock"}
	cfg.ApplyDefaults()
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MockLLMClient{}, client)

	_, err = NewClient(context.Background(), &config.Config{LLMClient: "llama"})
	assert.Error(t, err)
}
