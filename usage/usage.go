// Package usage accumulates token usage for one request and hands the final
// record to a sink.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/dealgate/session"
)

// Record is the usage of one request cycle.
type Record struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	ToolCalls    int     `json:"tool_calls"`
	DurationMS   int64   `json:"duration_ms"`
}

// Add folds one model call's token counts into the record.
func (r *Record) Add(model string, input, output int64) {
	if model != "" {
		r.Model = model
	}
	r.InputTokens += input
	r.OutputTokens += output
}

// Sink persists usage records. Callers never fail a request on a sink error.
type Sink interface {
	Record(ctx context.Context, caller session.Caller, conversationID string, rec Record) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Record(context.Context, session.Caller, string, Record) error { return nil }

// LogSink writes each record as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, caller session.Caller, conversationID string, rec Record) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "usage",
		"user_id", caller.UserID,
		"conversation_id", conversationID,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"cost", rec.Cost,
		"tool_calls", rec.ToolCalls,
		"duration_ms", rec.DurationMS,
	)
	return nil
}

// Entry is one record captured by MemorySink.
type Entry struct {
	Caller         session.Caller
	ConversationID string
	Record         Record
}

// MemorySink keeps records in memory. Useful in tests.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	Err     error
}

func (s *MemorySink) Record(_ context.Context, caller session.Caller, conversationID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{Caller: caller, ConversationID: conversationID, Record: rec})
	return s.Err
}

// Entries returns a copy of the captured records.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// AsyncSink hands records to the wrapped sink on background goroutines so the
// request path never waits on storage.
type AsyncSink struct {
	Sink    Sink
	Timeout time.Duration
	Logger  *slog.Logger

	wg sync.WaitGroup
}

// NewAsyncSink wraps sink. A zero timeout defaults to five seconds.
func NewAsyncSink(sink Sink, timeout time.Duration, logger *slog.Logger) *AsyncSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSink{Sink: sink, Timeout: timeout, Logger: logger}
}

// Record always returns nil; failures of the wrapped sink are logged.
func (s *AsyncSink) Record(ctx context.Context, caller session.Caller, conversationID string, rec Record) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
		defer cancel()
		if err := s.Sink.Record(bg, caller, conversationID, rec); err != nil {
			s.Logger.Warn("usage sink failed", "conversation_id", conversationID, "error", err)
		}
	}()
	return nil
}

// Drain blocks until in-flight writes finish or ctx is done.
func (s *AsyncSink) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
