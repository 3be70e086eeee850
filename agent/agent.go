package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/router"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/stream"
	"github.com/m4xw311/dealgate/tools"
	"github.com/m4xw311/dealgate/usage"
)

// ConfirmedAction is a PendingConfirmation echoed back by a client that
// approved it.
type ConfirmedAction struct {
	ToolID   string         `json:"tool_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// Request is one inbound chat request.
type Request struct {
	Query           string               `json:"query"`
	ConversationID  string               `json:"conversation_id,omitempty"`
	History         []session.Message    `json:"history,omitempty"`
	PageContext     *session.PageContext `json:"page_context,omitempty"`
	ConfirmedAction *ConfirmedAction     `json:"confirmed_action,omitempty"`
}

// Validate rejects requests the pipeline cannot serve. Every error wraps
// errors.ErrInvalidRequest.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "query is required")
	}
	if err := session.ValidatePairing(r.History); err != nil {
		return err
	}
	if a := r.ConfirmedAction; a != nil && (a.ToolID == "" || a.ToolName == "") {
		return errors.Wrapf(errors.ErrInvalidRequest, "confirmed_action needs tool_id and tool_name")
	}
	return nil
}

// Options carries the optional collaborators of an Agent.
type Options struct {
	// Usage receives one record per request. Nil discards usage.
	Usage usage.Sink
	// Conversations, when set, persists history by conversation id.
	Conversations *session.Store
	// Rules overrides the router's bypass rules.
	Rules  []router.Rule
	Logger *slog.Logger
}

// Agent serves chat requests: it routes, runs the tool loop and streams
// events. It holds no per-request state and is safe for concurrent use.
type Agent struct {
	Config        *config.Config
	LLMClient     llm.LLMClient
	Registry      *tools.Registry
	Router        *router.Router
	Pricing       *usage.Pricing
	Usage         usage.Sink
	Conversations *session.Store
	Logger        *slog.Logger
}

func New(cfg *config.Config, client llm.LLMClient, registry *tools.Registry, opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Usage
	if sink == nil {
		sink = usage.Nop{}
	}
	return &Agent{
		Config:    cfg,
		LLMClient: client,
		Registry:  registry,
		Router: router.New(client, router.Config{
			Rules:     opts.Rules,
			Model:     cfg.Model(string(router.Quick)),
			Timeout:   cfg.Timeouts.Classification,
			ToolNames: registry.Names(),
			Logger:    logger,
		}),
		Pricing:       usage.NewPricing(cfg.Pricing),
		Usage:         sink,
		Conversations: opts.Conversations,
		Logger:        logger,
	}
}

// Handle runs one request end to end and always leaves exactly one terminal
// event on sink, even when the pipeline panics. The returned error is the
// failure already reported to the client, for logging by the transport.
func (a *Agent) Handle(ctx context.Context, req *Request, caller session.Caller, sink stream.Sink) (err error) {
	guard := stream.NewGuard(sink)
	logger := a.Logger.With("request_id", uuid.NewString())

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "panic while handling request", "panic", p, "stack", string(debug.Stack()))
			err = errors.New("internal error: %v", p)
		}
		if guard.Terminated() {
			return
		}
		if err == nil {
			err = errors.New("request ended without a result")
		}
		guard.Emit(stream.ErrorEvent(publicMessage(err)))
	}()

	if err := req.Validate(); err != nil {
		return err
	}

	conv, err := a.conversation(req)
	if err != nil {
		return err
	}
	if conv != nil {
		req.ConversationID = conv.ID
		if len(req.History) == 0 {
			req.History = conv.Messages
		}
	}
	logger = logger.With("conversation_id", req.ConversationID)
	ctx = session.WithPageContext(ctx, req.PageContext)

	var outcome *Outcome
	if req.ConfirmedAction != nil {
		guard.Emit(stream.StatusEvent(stream.PhaseExecutingConfirmedAction))
		outcome, err = a.ExecuteConfirmedAction(ctx, req, caller, guard)
	} else {
		guard.Emit(stream.StatusEvent(stream.PhaseRouting))
		route := a.Router.Route(ctx, req.Query, req.PageContext)
		logger.InfoContext(ctx, "routed", "category", route.Category, "tier", route.Tier, "bypassed", route.Bypassed)
		guard.Emit(stream.RoutedEvent(stream.Routed{
			Category:       string(route.Category),
			Tier:           string(route.Tier),
			Tools:          route.Tools,
			Confidence:     route.Confidence,
			Bypassed:       route.Bypassed,
			ConversationID: req.ConversationID,
		}))
		guard.Emit(stream.StatusEvent(stream.PhaseProcessing))
		outcome, err = a.Orchestrate(ctx, req, route, caller, guard)
	}
	if err != nil {
		logger.ErrorContext(ctx, "request failed", "error", err)
		if outcome != nil && consumed(outcome.Usage) {
			a.recordUsage(ctx, logger, caller, req.ConversationID, outcome.Usage)
		}
		return err
	}

	a.recordUsage(ctx, logger, caller, req.ConversationID, outcome.Usage)
	if conv != nil && outcome.Pending == nil {
		conv.Messages = append([]session.Message(nil), req.History...)
		conv.AddMessage(session.UserText(req.Query))
		conv.AddMessage(session.AssistantText(outcome.Text))
		if err := a.Conversations.Save(conv); err != nil {
			logger.WarnContext(ctx, "saving conversation failed", "error", err)
		}
	}
	return nil
}

func (a *Agent) recordUsage(ctx context.Context, logger *slog.Logger, caller session.Caller, conversationID string, rec usage.Record) {
	if err := a.Usage.Record(ctx, caller, conversationID, rec); err != nil {
		logger.WarnContext(ctx, "recording usage failed", "error", err)
	}
}

func consumed(rec usage.Record) bool {
	return rec.InputTokens > 0 || rec.OutputTokens > 0 || rec.ToolCalls > 0
}

// conversation loads or starts the stored conversation for req. It returns
// nil when no store is configured.
func (a *Agent) conversation(req *Request) (*session.Conversation, error) {
	if a.Conversations == nil {
		return nil, nil
	}
	if req.ConversationID == "" {
		return a.Conversations.New(), nil
	}
	return a.Conversations.Load(req.ConversationID)
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		return "invalid request"
	case errors.Is(err, errors.ErrTimeout):
		return "the model did not respond in time"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	return "the assistant could not complete the request"
}

// toolTimeout and modelTimeout fall back to the defaults when a Config was
// built by hand without ApplyDefaults.
func (a *Agent) toolTimeout() time.Duration {
	if a.Config.Timeouts.Tool > 0 {
		return a.Config.Timeouts.Tool
	}
	return 30 * time.Second
}

func (a *Agent) modelTimeout() time.Duration {
	if a.Config.Timeouts.Model > 0 {
		return a.Config.Timeouts.Model
	}
	return 60 * time.Second
}

func (a *Agent) maxRounds() int {
	if a.Config.MaxRounds > 0 {
		return a.Config.MaxRounds
	}
	return 5
}
