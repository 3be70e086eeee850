package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/session"
)

// Result is the outcome of one tool execution. Exactly one of Data or Error
// is meaningful. UIAction, when set, is forwarded to the client UI.
type Result struct {
	Data     any
	Error    string
	UIAction map[string]any
}

// Failed reports whether the execution ended in an error.
func (r Result) Failed() bool { return r.Error != "" }

// Content renders the result as the text fed back to the model.
func (r Result) Content() string {
	if r.Failed() {
		return r.Error
	}
	switch v := r.Data.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.RawMessage:
		return string(v)
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	return string(data)
}

// Errorf builds a failed Result.
func Errorf(format string, a ...any) Result {
	return Result{Error: fmt.Sprintf(format, a...)}
}

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// RequiresConfirmation marks tools that change data. The agent pauses
	// for human approval before running them.
	RequiresConfirmation() bool
	// Execute must not panic; failures are reported through Result.Error.
	Execute(ctx context.Context, args map[string]any, caller session.Caller) Result
}

// Describer is implemented by tools that phrase their own confirmation prompt.
type Describer interface {
	DescribeAction(args map[string]any) string
}

// Registry is an immutable, name-indexed set of tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry indexes the given tools. Duplicate names are an error.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		name := t.Name()
		if _, dup := r.tools[name]; dup {
			return nil, errors.New("tool %q registered twice", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r, nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every tool name in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Tools returns every tool in name order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Specs returns the model-facing specs of the named tools, skipping names
// that are not registered.
func (r *Registry) Specs(names []string) []llm.ToolSpec {
	var specs []llm.ToolSpec
	seen := map[string]bool{}
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		specs = append(specs, Spec(t))
	}
	return specs
}

// Spec converts a tool to its model-facing description.
func Spec(t Tool) llm.ToolSpec {
	schema := t.InputSchema()
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: schema}
}

// GetActiveTools returns the subset of tools whose names match the toolset's
// doublestar patterns.
func (r *Registry) GetActiveTools(ts *config.Toolset) (*Registry, error) {
	var active []Tool
	for _, name := range r.order {
		ok, err := matchesAny(name, ts.Tools)
		if err != nil {
			return nil, errors.Wrapf(err, "toolset %q", ts.Name)
		}
		if ok {
			active = append(active, r.tools[name])
		}
	}
	return NewRegistry(active...)
}

// matchesAny checks if a tool name matches any of the glob patterns.
func matchesAny(name string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// SafeExecute runs the tool and converts a panic into a failed Result.
func SafeExecute(ctx context.Context, t Tool, args map[string]any, caller session.Caller) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Errorf("tool %s panicked: %v", t.Name(), p)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return t.Execute(ctx, args, caller)
}

// Describe returns the human-readable confirmation line for a pending call.
func Describe(t Tool, args map[string]any) string {
	if d, ok := t.(Describer); ok {
		if s := d.DescribeAction(args); s != "" {
			return s
		}
	}
	return humanize(t.Name(), args)
}

// humanize renders update_deal_stage{new_stage: NDA} as
// "Update deal stage (new_stage: NDA)".
func humanize(name string, args map[string]any) string {
	words := strings.ReplaceAll(name, "_", " ")
	if words != "" {
		words = strings.ToUpper(words[:1]) + words[1:]
	}
	if len(args) == 0 {
		return words
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, args[k]))
	}
	return fmt.Sprintf("%s (%s)", words, strings.Join(parts, ", "))
}
