package agent

import (
	"context"
	"time"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/prompt"
	"github.com/m4xw311/dealgate/router"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/stream"
	"github.com/m4xw311/dealgate/tools"
	"github.com/m4xw311/dealgate/truncate"
	"github.com/m4xw311/dealgate/usage"
)

// Outcome summarises a finished request cycle.
type Outcome struct {
	// Text is the assistant text of the last model turn.
	Text string
	// Messages is the working history at the end of the cycle.
	Messages []session.Message
	Usage    usage.Record
	// Pending is set when the cycle stopped for a confirmation.
	Pending *stream.PendingConfirmation
	Rounds  int
}

// cycle is the request-local state of one orchestration.
type cycle struct {
	req      *Request
	caller   session.Caller
	sink     stream.Sink
	model    string
	system   string
	offered  map[string]tools.Tool
	specs    []llm.ToolSpec
	messages []session.Message
	rec      usage.Record
	started  time.Time
}

// Orchestrate runs the model/tool loop for a routed request. Events go to
// sink; on success the last one is done. A model failure is returned
// without a terminal event so the caller can report it, together with an
// outcome holding the usage consumed so far.
func (a *Agent) Orchestrate(ctx context.Context, req *Request, route router.Result, caller session.Caller, sink stream.Sink) (*Outcome, error) {
	c := a.newCycle(req, caller, sink)
	c.model = a.Config.Model(string(route.Tier))
	c.system = prompt.Build(route.Category, req.PageContext)
	c.offered = map[string]tools.Tool{}
	for _, name := range route.Tools {
		if t, ok := a.Registry.Get(name); ok {
			c.offered[name] = t
		}
	}
	c.specs = a.Registry.Specs(route.Tools)
	c.messages = append(c.messages, session.UserText(req.Query))

	var last *llm.Response
	rounds := a.maxRounds()
	for round := 1; round <= rounds; round++ {
		logger := a.Logger.With("conversation_id", req.ConversationID, "round", round)

		resp, err := a.streamModel(ctx, c, llm.ToolChoiceAuto, true)
		if err != nil {
			return a.partial(c, round-1), err
		}
		last = resp

		if resp.StopReason != llm.StopToolUse || len(resp.ToolCalls) == 0 {
			c.messages = append(c.messages, resp.Message())
			return a.finish(c, resp.Text, round, nil), nil
		}

		c.messages = append(c.messages, resp.Message())
		results := make([]session.Block, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			t, ok := c.offered[call.Name]
			if ok && t.RequiresConfirmation() {
				pending := &stream.PendingConfirmation{
					ToolID:      call.ID,
					ToolName:    call.Name,
					Args:        call.Input,
					Description: tools.Describe(t, call.Input),
				}
				logger.InfoContext(ctx, "awaiting confirmation", "tool", call.Name)
				c.sink.Emit(stream.ConfirmationRequiredEvent(*pending))
				return a.finish(c, resp.Text, round, pending), nil
			}
			results = append(results, a.runTool(ctx, c, call, t))
		}
		c.messages = append(c.messages, session.Message{Role: session.RoleUser, Content: results})
	}

	a.Logger.WarnContext(ctx, "round limit reached", "conversation_id", req.ConversationID, "rounds", rounds)
	return a.finish(c, last.Text, rounds, nil), nil
}

// ExecuteConfirmedAction runs the tool the user approved, then gives the
// model one pass, without tools, to report on it.
func (a *Agent) ExecuteConfirmedAction(ctx context.Context, req *Request, caller session.Caller, sink stream.Sink) (*Outcome, error) {
	action := req.ConfirmedAction
	if action == nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "no confirmed action")
	}
	args := action.Args
	if args == nil {
		args = map[string]any{}
	}
	call := session.ToolUseBlock{ID: action.ToolID, Name: action.ToolName, Input: args}

	c := a.newCycle(req, caller, sink)
	c.model = a.Config.Model(string(router.Standard))
	c.system = prompt.Build(router.General, req.PageContext)
	t, ok := a.Registry.Get(action.ToolName)
	if ok {
		c.offered = map[string]tools.Tool{action.ToolName: t}
		c.specs = []llm.ToolSpec{tools.Spec(t)}
	}

	result := a.runTool(ctx, c, call, t)
	c.messages = append(c.messages,
		session.UserText(req.Query),
		session.Message{Role: session.RoleAssistant, Content: []session.Block{call}},
		session.Message{Role: session.RoleUser, Content: []session.Block{result}},
	)

	resp, err := a.streamModel(ctx, c, llm.ToolChoiceNone, false)
	if err != nil {
		return a.partial(c, 0), err
	}
	c.messages = append(c.messages, session.AssistantText(resp.Text))
	return a.finish(c, resp.Text, 1, nil), nil
}

func (a *Agent) newCycle(req *Request, caller session.Caller, sink stream.Sink) *cycle {
	return &cycle{
		req:      req,
		caller:   caller,
		sink:     sink,
		messages: append([]session.Message(nil), req.History...),
		started:  time.Now(),
	}
}

// streamModel runs one model turn under the model timeout, forwarding text
// and, when emitToolUse is set, tool calls as they arrive.
func (a *Agent) streamModel(ctx context.Context, c *cycle, choice llm.ToolChoice, emitToolUse bool) (*llm.Response, error) {
	mctx, cancel := context.WithTimeout(ctx, a.modelTimeout())
	defer cancel()

	resp, err := a.LLMClient.Stream(mctx, llm.Request{
		Model:      c.model,
		System:     c.system,
		Messages:   c.messages,
		Tools:      c.specs,
		ToolChoice: choice,
		MaxTokens:  a.Config.MaxOutputTokens,
	}, func(ev llm.StreamEvent) {
		switch ev.Type {
		case llm.StreamText:
			if ev.Text != "" {
				c.sink.Emit(stream.TextEvent(ev.Text))
			}
		case llm.StreamToolUse:
			if emitToolUse {
				c.sink.Emit(stream.ToolUseEvent(stream.ToolUse{ID: ev.ToolCall.ID, Name: ev.ToolCall.Name, Input: ev.ToolCall.Input}))
			}
		}
	})
	if err != nil {
		if mctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.Wrapf(errors.ErrTimeout, "model %s after %s", c.model, a.modelTimeout())
		}
		return nil, errors.Wrapf(err, "model %s", c.model)
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	c.rec.Add(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.rec.Cost += a.Pricing.Cost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}

// runTool executes one call and returns the (possibly truncated) result
// block. A nil tool means the model asked for something it was not offered.
func (a *Agent) runTool(ctx context.Context, c *cycle, call session.ToolUseBlock, t tools.Tool) session.ToolResultBlock {
	c.sink.Emit(stream.ToolStartEvent(call.ID, call.Name))
	c.rec.ToolCalls++

	var res tools.Result
	if t == nil {
		res = tools.Errorf("%s: %s", errors.ErrUnknownTool, call.Name)
	} else {
		res = a.execute(ctx, t, call.Input, c.caller)
	}
	if res.Failed() {
		a.Logger.WarnContext(ctx, "tool failed", "tool", call.Name, "error", res.Error)
	}

	c.sink.Emit(stream.ToolResultEvent(stream.ToolResult{
		ID:          call.ID,
		Name:        call.Name,
		Success:     !res.Failed(),
		HasUIAction: len(res.UIAction) > 0,
	}))
	if len(res.UIAction) > 0 {
		c.sink.Emit(stream.UIActionEvent(res.UIAction))
	}

	content := res.Content()
	if budget := a.Config.Truncation.Budget; budget > 0 {
		content = truncate.TruncateWithMargin(content, budget, a.Config.Truncation.Margin)
	}
	return session.ToolResultBlock{ToolUseID: call.ID, Content: content, IsError: res.Failed()}
}

// execute bounds a tool run by the tool timeout. A tool that ignores its
// context is abandoned and reported as timed out.
func (a *Agent) execute(ctx context.Context, t tools.Tool, args map[string]any, caller session.Caller) tools.Result {
	timeout := a.toolTimeout()
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan tools.Result, 1)
	go func() {
		done <- tools.SafeExecute(tctx, t, args, caller)
	}()
	select {
	case res := <-done:
		return res
	case <-tctx.Done():
		if ctx.Err() != nil {
			return tools.Errorf("tool %s cancelled", t.Name())
		}
		return tools.Errorf("tool %s timed out after %s", t.Name(), timeout)
	}
}

// partial is the outcome of a cycle cut short by a model failure.
func (a *Agent) partial(c *cycle, rounds int) *Outcome {
	c.rec.DurationMS = time.Since(c.started).Milliseconds()
	return &Outcome{Messages: c.messages, Usage: c.rec, Rounds: rounds}
}

// finish stamps the usage record and emits done.
func (a *Agent) finish(c *cycle, text string, rounds int, pending *stream.PendingConfirmation) *Outcome {
	c.rec.DurationMS = time.Since(c.started).Milliseconds()
	c.sink.Emit(stream.DoneEvent(stream.Done{
		Usage:               c.rec,
		Cost:                c.rec.Cost,
		ToolCalls:           c.rec.ToolCalls,
		PendingConfirmation: pending,
		ConversationID:      c.req.ConversationID,
	}))
	return &Outcome{
		Text:     text,
		Messages: c.messages,
		Usage:    c.rec,
		Pending:  pending,
		Rounds:   rounds,
	}
}
