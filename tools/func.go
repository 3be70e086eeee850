package tools

import (
	"context"

	"github.com/m4xw311/dealgate/session"
)

// Func adapts a plain function to the Tool interface. It backs in-process
// tools and test doubles.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Confirm  bool
	Fn       func(ctx context.Context, args map[string]any, caller session.Caller) Result
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.Desc }
func (f *Func) InputSchema() map[string]any { return f.Schema }
func (f *Func) RequiresConfirmation() bool  { return f.Confirm }

func (f *Func) Execute(ctx context.Context, args map[string]any, caller session.Caller) Result {
	if f.Fn == nil {
		return Errorf("tool %s has no executor", f.ToolName)
	}
	return f.Fn(ctx, args, caller)
}

// PageContextToolName is the built-in tool that reports the caller's page.
const PageContextToolName = "get_page_context"

// PageContextTool returns what the user is currently viewing, as attached to
// the request context with session.WithPageContext.
func PageContextTool() Tool {
	return &Func{
		ToolName: PageContextToolName,
		Desc:     "Returns the page the user is currently viewing: page name, entity type, entity id and tab.",
		Schema:   map[string]any{"type": "object", "properties": map[string]any{}},
		Fn: func(ctx context.Context, _ map[string]any, _ session.Caller) Result {
			page := session.PageContextFrom(ctx)
			if page.IsZero() {
				return Result{Data: map[string]any{"page": nil, "message": "no page context available"}}
			}
			return Result{Data: page}
		},
	}
}
