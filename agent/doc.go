// Package agent provides the request pipeline of the dealgate gateway.
//
// An Agent turns one chat Request into a stream of events. Requests pass
// through three stages:
//
//   - Routing: the router picks a category, a model tier and the tools worth
//     offering. Bypass rules answer common queries without a model call.
//   - Orchestration: the model is called in rounds. Each round streams text
//     and tool calls; the calls run in order and their results, truncated to
//     the configured budget, are fed back as one user message. The loop ends
//     when the model stops asking for tools or the round limit is hit.
//   - Accounting: token usage and cost are accumulated per request and written
//     once to the usage sink.
//
// # Confirmation
//
// Tools that change data require confirmation. When the model calls one, the
// round stops: a confirmation_required event carries a PendingConfirmation
// and the stream ends with done. Calls after it in the same batch never run.
// A client that approves sends the pending action back as
// Request.ConfirmedAction; ExecuteConfirmedAction runs that one tool and gives
// the model a single pass, with tools disabled, to report the outcome.
//
// # Events
//
// Every request produces exactly one terminal event (done or error). Handle
// converts failures and panics into an error event, so transports only need to
// forward events:
//
//	a := agent.New(cfg, client, registry, agent.Options{Usage: sink})
//	err := a.Handle(ctx, req, caller, stream.FuncSink(func(e stream.Event) error {
//	    // deliver e
//	    return nil
//	}))
//
// # Subpackages
//
// agent/httpapi: HTTP transport with server-sent events and WebSocket
// endpoints.
//
// agent/terminal: interactive command-line client that renders the event
// stream and answers confirmations with a y/n prompt.
package agent
