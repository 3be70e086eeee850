package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/dealgate/agent"
	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/tools"
	"github.com/m4xw311/dealgate/usage"
)

func newTestServer(t *testing.T, client *llm.MockLLMClient) (*httptest.Server, *usage.MemorySink) {
	t.Helper()
	cfg := &config.Config{LLMClient: "mock"}
	cfg.ApplyDefaults()

	registry, err := tools.NewRegistry(
		&tools.Func{ToolName: "count_deals_by_industry", Desc: "Counts deals per industry.", Fn: func(_ context.Context, args map[string]any, _ session.Caller) tools.Result {
			return tools.Result{Data: map[string]any{"industry": args["industry"], "count": 7}}
		}},
		&tools.Func{ToolName: "update_deal_stage", Desc: "Moves a deal to a new stage.", Confirm: true, Fn: func(context.Context, map[string]any, session.Caller) tools.Result {
			return tools.Result{Data: map[string]any{"ok": true}}
		}},
	)
	require.NoError(t, err)

	sink := &usage.MemorySink{}
	a := agent.New(cfg, client, registry, agent.Options{Usage: sink})
	ts := httptest.NewServer(NewServer(a, nil))
	t.Cleanup(ts.Close)
	return ts, sink
}

type sseEvent struct {
	Type string
	Data map[string]any
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestChatSSE(t *testing.T) {
	client := llm.NewMockLLMClient(
		&llm.Response{ToolCalls: []session.ToolUseBlock{{ID: "t1", Name: "count_deals_by_industry", Input: map[string]any{"industry": "hvac"}}}},
		&llm.Response{Text: "7 HVAC deals."},
	)
	ts, sink := newTestServer(t, client)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/chat", strings.NewReader(`{"query":"show me our HVAC deals in Texas"}`))
	require.NoError(t, err)
	req.Header.Set(UserHeader, "u-7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("content-type"))

	events := readSSE(t, resp)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"status", "routed", "status", "tool_use", "tool_start", "tool_result", "text", "done"}, types)
	assert.Equal(t, "PIPELINE_ANALYTICS", events[1].Data["category"])
	assert.Equal(t, "7 HVAC deals.", events[6].Data["text"])
	assert.Equal(t, float64(1), events[7].Data["tool_calls"])

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "u-7", entries[0].Caller.UserID)
}

func TestChatRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"empty query", `{"query":""}`},
		{"broken history", `{"query":"q","history":[{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"x","input":{}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := llm.NewMockLLMClient()
			ts, _ := newTestServer(t, client)

			resp, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Empty(t, client.Requests())
		})
	}
}

func readUntilTerminal(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	var events []map[string]any
	for {
		var e map[string]any
		require.NoError(t, conn.ReadJSON(&e))
		events = append(events, e)
		if e["type"] == "done" || e["type"] == "error" {
			return events
		}
	}
}

func TestChatWebSocketConfirmationRoundTrip(t *testing.T) {
	client := llm.NewMockLLMClient(
		&llm.Response{ToolCalls: []session.ToolUseBlock{{ID: "t1", Name: "update_deal_stage", Input: map[string]any{"deal_id": "d-1", "new_stage": "NDA"}}}},
		&llm.Response{Text: "Moved d-1 to NDA."},
	)
	ts, _ := newTestServer(t, client)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"query": "move d-1 to the NDA stage"}))
	first := readUntilTerminal(t, conn)

	done := first[len(first)-1]["data"].(map[string]any)
	pending, ok := done["pending_confirmation"].(map[string]any)
	require.True(t, ok, "done must carry the pending confirmation")
	assert.Equal(t, "update_deal_stage", pending["tool_name"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"query":            "move d-1 to the NDA stage",
		"confirmed_action": map[string]any{"tool_id": pending["tool_id"], "tool_name": pending["tool_name"], "args": pending["args"]},
	}))
	second := readUntilTerminal(t, conn)

	var types []any
	for _, e := range second {
		types = append(types, e["type"])
	}
	assert.Equal(t, []any{"status", "tool_start", "tool_result", "text", "done"}, types)
	assert.Nil(t, second[len(second)-1]["data"].(map[string]any)["pending_confirmation"])
}

func TestChatWebSocketMalformedFrame(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockLLMClient())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	events := readUntilTerminal(t, conn)
	assert.Equal(t, "error", events[0]["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"query": "hello"}))
	events = readUntilTerminal(t, conn)
	assert.Equal(t, "done", events[len(events)-1]["type"])
}

func TestToolsAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockLLMClient())

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	var infos []ToolInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "count_deals_by_industry", infos[0].Name)
	assert.True(t, infos[1].RequiresConfirmation)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
