package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/dealgate/errors"
)

// ErrClosed is returned when emitting after a terminal event.
var ErrClosed = errors.New("stream already terminated")

// Sink receives events in order. Implementations are used by one request at a time.
type Sink interface {
	Emit(Event) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(Event) error

func (f FuncSink) Emit(e Event) error { return f(e) }

// SSEWriter writes events as server-sent events and flushes after each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers and commits the response.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.Header().Set("x-accel-buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Emit(e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", e.Type)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WSWriter writes each event as one JSON text frame {"type": ..., "data": ...}.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

func (s *WSWriter) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// Recorder keeps every emitted event. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]Type, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// Guard wraps a sink and enforces that at most one terminal event is
// delivered. Events after the terminal one are dropped with ErrClosed.
type Guard struct {
	mu         sync.Mutex
	sink       Sink
	terminated bool
}

func NewGuard(sink Sink) *Guard {
	return &Guard{sink: sink}
}

func (g *Guard) Emit(e Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.terminated {
		return ErrClosed
	}
	if e.Type.Terminal() {
		g.terminated = true
	}
	return g.sink.Emit(e)
}

// Terminated reports whether a done or error event has been emitted.
func (g *Guard) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}
