package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriterFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Emit(StatusEvent(PhaseRouting)))
	require.NoError(t, w.Emit(TextEvent("hello")))

	assert.Equal(t, "text/event-stream", rec.Header().Get("content-type"))
	body := rec.Body.String()
	assert.Equal(t,
		"event: status\ndata: {\"phase\":\"routing\"}\n\n"+
			"event: text\ndata: {\"text\":\"hello\"}\n\n",
		body)
	assert.True(t, rec.Flushed)
}

func TestGuardSingleTerminal(t *testing.T) {
	rec := &Recorder{}
	g := NewGuard(rec)

	require.NoError(t, g.Emit(TextEvent("a")))
	assert.False(t, g.Terminated())
	require.NoError(t, g.Emit(DoneEvent(Done{})))
	assert.True(t, g.Terminated())
	assert.ErrorIs(t, g.Emit(ErrorEvent("late")), ErrClosed)
	assert.ErrorIs(t, g.Emit(TextEvent("late")), ErrClosed)

	assert.Equal(t, []Type{TypeText, TypeDone}, rec.Types())
}

func TestDoneOmitsEmptyPending(t *testing.T) {
	data, err := json.Marshal(Done{ToolCalls: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pending_confirmation")

	data, err = json.Marshal(Done{PendingConfirmation: &PendingConfirmation{ToolID: "t1", ToolName: "update_deal_stage"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_name":"update_deal_stage"`)
}

func TestWSWriter(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ws := NewWSWriter(conn)
		_ = ws.Emit(ToolStartEvent("tu_1", "query_deals"))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var got struct {
		Type Type      `json:"type"`
		Data ToolStart `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, TypeToolStart, got.Type)
	assert.Equal(t, ToolStart{ID: "tu_1", Name: "query_deals"}, got.Data)
}
