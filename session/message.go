package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/m4xw311/dealgate/errors"
)

// Role identifies who authored a message. Tool results travel in user messages.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one element of a message's content. The set of implementations is
// closed: TextBlock, ToolUseBlock and ToolResultBlock.
type Block interface {
	blockType() string
}

// TextBlock is plain text.
type TextBlock struct {
	Text string
}

// ToolUseBlock is the model's request to invoke a tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock answers exactly one ToolUseBlock of the previous message.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (TextBlock) blockType() string       { return "text" }
func (ToolUseBlock) blockType() string    { return "tool_use" }
func (ToolResultBlock) blockType() string { return "tool_result" }

// Message is a single conversation turn.
type Message struct {
	Role    Role
	Content []Block
}

// UserText builds a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock{Text: text}}}
}

// AssistantText builds an assistant message holding a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []Block{TextBlock{Text: text}}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var buf bytes.Buffer
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			buf.WriteString(t.Text)
		}
	}
	return buf.String()
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// ToolResults returns the tool_result blocks of the message in order.
func (m Message) ToolResults() []ToolResultBlock {
	var out []ToolResultBlock
	for _, b := range m.Content {
		if tr, ok := b.(ToolResultBlock); ok {
			out = append(out, tr)
		}
	}
	return out
}

// ValidatePairing checks that every assistant tool_use is answered, in order
// and exactly once, by the tool_result blocks of the following user message.
func ValidatePairing(messages []Message) error {
	for i, msg := range messages {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: unknown role %q", i, msg.Role)
		}
		results := msg.ToolResults()
		if msg.Role == RoleAssistant && len(results) > 0 {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: tool_result in assistant message", i)
		}
		if len(results) > 0 && (i == 0 || len(messages[i-1].ToolUses()) == 0) {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: tool_result without preceding tool_use", i)
		}

		uses := msg.ToolUses()
		if len(uses) == 0 {
			continue
		}
		if msg.Role != RoleAssistant {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: tool_use in user message", i)
		}
		if i+1 >= len(messages) {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: tool_use without results", i)
		}
		next := messages[i+1].ToolResults()
		if len(next) != len(uses) {
			return errors.Wrapf(errors.ErrInvalidRequest, "message %d: %d tool_use blocks but %d results", i, len(uses), len(next))
		}
		for j := range uses {
			if uses[j].ID != next[j].ToolUseID {
				return errors.Wrapf(errors.ErrInvalidRequest, "message %d: result %d answers %q, want %q", i+1, j, next[j].ToolUseID, uses[j].ID)
			}
		}
	}
	return nil
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Value     string         `json:"value,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes content as a tagged block array.
func (m Message) MarshalJSON() ([]byte, error) {
	blocks := make([]wireBlock, 0, len(m.Content))
	for _, b := range m.Content {
		switch v := b.(type) {
		case TextBlock:
			blocks = append(blocks, wireBlock{Type: "text", Text: v.Text})
		case ToolUseBlock:
			input := v.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, wireBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input})
		case ToolResultBlock:
			blocks = append(blocks, wireBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError})
		}
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

// UnmarshalJSON accepts content either as a plain string or as a block array.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return err
	}
	m.Role = wm.Role
	m.Content = nil

	trimmed := bytes.TrimSpace(wm.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		m.Content = []Block{TextBlock{Text: text}}
		return nil
	}

	var blocks []wireBlock
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return err
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text := b.Text
			if text == "" {
				text = b.Value
			}
			m.Content = append(m.Content, TextBlock{Text: text})
		case "tool_use":
			m.Content = append(m.Content, ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			m.Content = append(m.Content, ToolResultBlock{ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError})
		default:
			return fmt.Errorf("unknown content block type %q", b.Type)
		}
	}
	return nil
}
