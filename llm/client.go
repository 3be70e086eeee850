package llm

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/m4xw311/dealgate/session"
)

// ToolChoice restricts whether the model may call tools in a turn.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model turn.
type Request struct {
	Model      string
	System     string
	Messages   []session.Message
	Tools      []ToolSpec
	ToolChoice ToolChoice
	MaxTokens  int64
}

// Usage is the token count of one model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the assembled result of one model turn.
type Response struct {
	Model      string
	Text       string
	ToolCalls  []session.ToolUseBlock
	StopReason string
	Usage      Usage
}

// Message converts the response into the assistant message to append to history.
func (r *Response) Message() session.Message {
	msg := session.Message{Role: session.RoleAssistant}
	if r.Text != "" {
		msg.Content = append(msg.Content, session.TextBlock{Text: r.Text})
	}
	for _, tc := range r.ToolCalls {
		msg.Content = append(msg.Content, tc)
	}
	return msg
}

// StreamEventType distinguishes incremental output.
type StreamEventType string

const (
	StreamText    StreamEventType = "text"
	StreamToolUse StreamEventType = "tool_use"
)

// StreamEvent is an incremental piece of a model turn: a text delta or a
// fully assembled tool call.
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	ToolCall session.ToolUseBlock
}

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	// Chat runs one turn and returns the complete response.
	Chat(ctx context.Context, req Request) (*Response, error)
	// Stream runs one turn, calling onEvent as output arrives, and returns
	// the assembled response once the turn ends.
	Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error)
}

// chatFromStream implements Chat on top of Stream.
func chatFromStream(ctx context.Context, c LLMClient, req Request) (*Response, error) {
	return c.Stream(ctx, req, func(StreamEvent) {})
}

func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// newCallID names a tool call for providers that do not assign ids. Ids stay
// unique across the rounds of a request.
func newCallID() string {
	return "call_" + uuid.NewString()
}

func maxTokens(requested, fallback int64) int64 {
	if requested > 0 {
		return requested
	}
	return fallback
}
