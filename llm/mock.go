package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/dealgate/session"
)

// MockLLMClient replays scripted responses in order. With nothing queued it
// echoes the last user text, which makes it usable as an offline provider.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	requests  []Request

	// Hook, when set, runs before each turn and may block or fail it.
	Hook func(ctx context.Context, req Request) error
}

func NewMockLLMClient(responses ...*Response) *MockLLMClient {
	return &MockLLMClient{responses: responses, errs: make([]error, len(responses))}
}

// Push queues another response.
func (m *MockLLMClient) Push(resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
}

// Fail queues an error in place of the next response.
func (m *MockLLMClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
}

// Requests returns a copy of every request received.
func (m *MockLLMClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockLLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	return chatFromStream(ctx, m, req)
}

func (m *MockLLMClient) Stream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	if m.Hook != nil {
		if err := m.Hook(ctx, req); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var resp *Response
	var err error
	if len(m.responses) > 0 {
		resp, m.responses = m.responses[0], m.responses[1:]
		err, m.errs = m.errs[0], m.errs[1:]
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = echo(req)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = StopToolUse
		}
	}

	if resp.Text != "" {
		onEvent(StreamEvent{Type: StreamText, Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		onEvent(StreamEvent{Type: StreamToolUse, ToolCall: tc})
	}
	return resp, nil
}

func echo(req Request) *Response {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			if last = req.Messages[i].Text(); last != "" {
				break
			}
		}
	}
	return &Response{
		Text:       fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
		StopReason: StopEndTurn,
		Usage:      Usage{InputTokens: int64(len(last)), OutputTokens: 10},
	}
}
