// Package stream defines the typed events a chat request produces and the
// sinks that deliver them to a client.
package stream

import (
	"github.com/m4xw311/dealgate/usage"
)

// Type names an event on the wire.
type Type string

const (
	TypeStatus               Type = "status"
	TypeRouted               Type = "routed"
	TypeText                 Type = "text"
	TypeToolUse              Type = "tool_use"
	TypeToolStart            Type = "tool_start"
	TypeToolResult           Type = "tool_result"
	TypeUIAction             Type = "ui_action"
	TypeConfirmationRequired Type = "confirmation_required"
	TypeDone                 Type = "done"
	TypeError                Type = "error"
)

// Terminal reports whether an event of this type ends the stream.
func (t Type) Terminal() bool {
	return t == TypeDone || t == TypeError
}

// Phases carried by status events.
const (
	PhaseRouting                  = "routing"
	PhaseProcessing               = "processing"
	PhaseExecutingConfirmedAction = "executing_confirmed_action"
)

// Event is one element of the outbound stream.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

type Status struct {
	Phase string `json:"phase"`
}

type Routed struct {
	Category       string   `json:"category"`
	Tier           string   `json:"tier"`
	Tools          []string `json:"tools"`
	Confidence     float64  `json:"confidence"`
	Bypassed       bool     `json:"bypassed"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

type Text struct {
	Text string `json:"text"`
}

type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type ToolStart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ToolResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Success     bool   `json:"success"`
	HasUIAction bool   `json:"has_ui_action"`
}

// UIAction is an opaque payload a tool asks the client UI to act on.
type UIAction map[string]any

// PendingConfirmation is the continuation handed to the client when a tool
// needs approval. The client echoes it back as a confirmed action.
type PendingConfirmation struct {
	ToolID      string         `json:"tool_id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
}

type Done struct {
	Usage               usage.Record         `json:"usage"`
	Cost                float64              `json:"cost"`
	ToolCalls           int                  `json:"tool_calls"`
	PendingConfirmation *PendingConfirmation `json:"pending_confirmation,omitempty"`
	ConversationID      string               `json:"conversation_id,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

func StatusEvent(phase string) Event  { return Event{Type: TypeStatus, Data: Status{Phase: phase}} }
func TextEvent(text string) Event     { return Event{Type: TypeText, Data: Text{Text: text}} }
func ErrorEvent(message string) Event { return Event{Type: TypeError, Data: Error{Message: message}} }
func RoutedEvent(r Routed) Event      { return Event{Type: TypeRouted, Data: r} }
func ToolUseEvent(t ToolUse) Event    { return Event{Type: TypeToolUse, Data: t} }
func ToolStartEvent(id, name string) Event {
	return Event{Type: TypeToolStart, Data: ToolStart{ID: id, Name: name}}
}
func ToolResultEvent(t ToolResult) Event { return Event{Type: TypeToolResult, Data: t} }
func UIActionEvent(a UIAction) Event     { return Event{Type: TypeUIAction, Data: a} }
func DoneEvent(d Done) Event             { return Event{Type: TypeDone, Data: d} }

func ConfirmationRequiredEvent(p PendingConfirmation) Event {
	return Event{Type: TypeConfirmationRequired, Data: p}
}
