package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/dealgate/agent"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/stream"
)

// Mode decides how confirmations are answered.
type Mode string

const (
	// ModePrompt asks the user before running a confirmation-required tool.
	ModePrompt Mode = "prompt"
	// ModeAuto approves every confirmation.
	ModeAuto Mode = "auto"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent     *agent.Agent
	Mode      Mode
	Verbosity ToolVerbosity
	Caller    session.Caller

	in  *bufio.Scanner
	out io.Writer

	conversationID string
	history        []session.Message
}

// New creates a new Terminal reading from in and writing to out.
func New(a *agent.Agent, mode Mode, verbosity ToolVerbosity, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		agent:     a,
		Mode:      mode,
		Verbosity: verbosity,
		in:        bufio.NewScanner(in),
		out:       out,
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		if !t.in.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(t.in.Text())
		if userInput == "" {
			continue
		}

		// Exit commands
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}

	return t.in.Err()
}

// processTurn handles a single user input turn, including any confirmation
// round trips it triggers.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	req := &agent.Request{Query: userInput, History: t.history, ConversationID: t.conversationID}
	for {
		r := &renderer{out: t.out, verbosity: t.Verbosity}
		if err := t.agent.Handle(ctx, req, t.Caller, r); err != nil {
			return err
		}
		if r.conversationID != "" {
			t.conversationID = r.conversationID
		}

		if r.pending == nil {
			t.history = append(t.history, session.UserText(userInput), session.AssistantText(r.text.String()))
			return nil
		}
		if !t.confirm(*r.pending) {
			fmt.Fprintln(t.out, "Action cancelled.")
			t.history = append(t.history, session.UserText(userInput), session.AssistantText("The user declined: "+r.pending.Description))
			return nil
		}
		req = &agent.Request{
			Query:          userInput,
			History:        t.history,
			ConversationID: t.conversationID,
			ConfirmedAction: &agent.ConfirmedAction{
				ToolID:   r.pending.ToolID,
				ToolName: r.pending.ToolName,
				Args:     r.pending.Args,
			},
		}
	}
}

func (t *Terminal) confirm(p stream.PendingConfirmation) bool {
	fmt.Fprintf(t.out, "Dealgate wants to: %s\n", p.Description)
	if t.Mode == ModeAuto {
		return true
	}
	fmt.Fprint(t.out, "Do you want to allow this? (y/n): ")
	if !t.in.Scan() {
		return false
	}
	return strings.TrimSpace(strings.ToLower(t.in.Text())) == "y"
}

// renderer prints one request's events.
type renderer struct {
	out       io.Writer
	verbosity ToolVerbosity

	text           strings.Builder
	lineOpen       bool
	pending        *stream.PendingConfirmation
	conversationID string
}

func (r *renderer) Emit(e stream.Event) error {
	switch d := e.Data.(type) {
	case stream.Routed:
		if r.verbosity == ToolVerbosityAll {
			fmt.Fprintf(r.out, "[%s / %s]\n", d.Category, d.Tier)
		}
	case stream.Text:
		if !r.lineOpen {
			fmt.Fprint(r.out, "Dealgate: ")
			r.lineOpen = true
		}
		r.text.WriteString(d.Text)
		fmt.Fprint(r.out, d.Text)
	case stream.ToolUse:
		r.endText()
		// Display tool call information based on verbosity
		if r.verbosity == ToolVerbosityAll {
			fmt.Fprintf(r.out, "Dealgate wants to call tool `%s` with args: %v\n", d.Name, d.Input)
		} else if r.verbosity == ToolVerbosityInfo {
			fmt.Fprintf(r.out, "Dealgate wants to call tool `%s`\n", d.Name)
		}
	case stream.ToolResult:
		if r.verbosity == ToolVerbosityAll {
			status := "succeeded"
			if !d.Success {
				status = "failed"
			}
			fmt.Fprintf(r.out, "Tool `%s` %s\n", d.Name, status)
		}
	case stream.UIAction:
		if r.verbosity == ToolVerbosityAll {
			fmt.Fprintf(r.out, "UI action: %v\n", map[string]any(d))
		}
	case stream.PendingConfirmation:
		r.endText()
		r.pending = &d
	case stream.Done:
		r.endText()
		r.conversationID = d.ConversationID
		if r.verbosity == ToolVerbosityAll {
			fmt.Fprintf(r.out, "(%d input / %d output tokens, %d tool calls, $%.4f)\n",
				d.Usage.InputTokens, d.Usage.OutputTokens, d.ToolCalls, d.Cost)
		}
	}
	return nil
}

// endText closes a line of streamed text.
func (r *renderer) endText() {
	if r.lineOpen {
		fmt.Fprintln(r.out)
		r.lineOpen = false
	}
}
