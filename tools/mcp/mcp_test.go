package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/tools"
)

func boolPtr(b bool) *bool { return &b }

func crmServer(t *testing.T) *mcpsdk.Server {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "crm", Version: "test"}, nil)
	objectSchema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"industry": map[string]any{"type": "string"}},
	}

	server.AddTool(&mcpsdk.Tool{
		Name:        "count_deals_by_industry",
		Description: "Count deals",
		InputSchema: objectSchema,
		Annotations: &mcpsdk.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		_ = json.Unmarshal(req.Params.Arguments, &args)
		user, _ := req.Params.Meta["user_id"].(string)
		return &mcpsdk.CallToolResult{
			Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: "12 deals"}},
			StructuredContent: map[string]any{"industry": args["industry"], "count": 12, "user": user},
		}, nil
	})

	server.AddTool(&mcpsdk.Tool{
		Name:        "update_deal_stage",
		Description: "Move a deal to a new stage",
		InputSchema: map[string]any{"type": "object"},
		Annotations: &mcpsdk.ToolAnnotations{DestructiveHint: boolPtr(true)},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "moved"}},
			StructuredContent: map[string]any{
				"ok":        true,
				"ui_action": map[string]any{"type": "refresh", "target": "deal"},
			},
		}, nil
	})

	server.AddTool(&mcpsdk.Tool{Name: "find_contacts", InputSchema: map[string]any{"type": "object"}},
		func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "contact service unavailable"}},
				IsError: true,
			}, nil
		})
	return server
}

func connect(t *testing.T) *MCPClient {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := crmServer(t).Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client, err := Connect(ctx, "crm", clientT)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func byName(ts []tools.Tool) map[string]tools.Tool {
	out := map[string]tools.Tool{}
	for _, t := range ts {
		out[t.Name()] = t
	}
	return out
}

func TestDiscovery(t *testing.T) {
	client := connect(t)
	found := byName(client.Tools())
	require.Len(t, found, 3)

	count := found["count_deals_by_industry"]
	assert.Equal(t, "Count deals", count.Description())
	assert.Equal(t, "object", count.InputSchema()["type"])
	assert.False(t, count.RequiresConfirmation(), "read-only tools run without confirmation")
	assert.True(t, found["update_deal_stage"].RequiresConfirmation())
	assert.True(t, found["find_contacts"].RequiresConfirmation(), "unannotated tools require confirmation")
}

func TestDestructiveDefaults(t *testing.T) {
	tests := []struct {
		name string
		ann  *mcpsdk.ToolAnnotations
		want bool
	}{
		{"no annotations", nil, true},
		{"empty annotations", &mcpsdk.ToolAnnotations{}, true},
		{"read only", &mcpsdk.ToolAnnotations{ReadOnlyHint: true}, false},
		{"read only wins over destructive", &mcpsdk.ToolAnnotations{ReadOnlyHint: true, DestructiveHint: boolPtr(true)}, false},
		{"explicitly destructive", &mcpsdk.ToolAnnotations{DestructiveHint: boolPtr(true)}, true},
		{"explicitly non-destructive", &mcpsdk.ToolAnnotations{DestructiveHint: boolPtr(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, destructive(tt.ann))
		})
	}
}

func TestExecuteStructured(t *testing.T) {
	client := connect(t)
	tool := byName(client.Tools())["count_deals_by_industry"]

	res := tool.Execute(context.Background(), map[string]any{"industry": "hvac"}, session.Caller{UserID: "u-9"})
	require.False(t, res.Failed(), res.Error)
	assert.JSONEq(t, `{"industry":"hvac","count":12,"user":"u-9"}`, res.Content())
	assert.Nil(t, res.UIAction)
}

func TestExecuteUIAction(t *testing.T) {
	client := connect(t)
	tool := byName(client.Tools())["update_deal_stage"]

	res := tool.Execute(context.Background(), map[string]any{}, session.Caller{})
	require.False(t, res.Failed())
	assert.Equal(t, map[string]any{"type": "refresh", "target": "deal"}, res.UIAction)
	assert.JSONEq(t, `{"ok":true}`, res.Content())
}

func TestExecuteToolError(t *testing.T) {
	client := connect(t)
	tool := byName(client.Tools())["find_contacts"]

	res := tool.Execute(context.Background(), map[string]any{}, session.Caller{})
	assert.True(t, res.Failed())
	assert.Equal(t, "contact service unavailable", res.Error)
}

func TestAssemble(t *testing.T) {
	client := connect(t)
	cfg := &config.Config{
		Toolsets:     []config.Toolset{{Name: "readonly", Tools: []string{"get_*", "count_*", "find_*"}}},
		ConfirmTools: []config.ConfirmTool{{Pattern: "find_*", Description: "Look up contacts"}},
	}
	all := append([]tools.Tool{tools.PageContextTool()}, client.Tools()...)

	registry, err := Assemble(cfg, "readonly", all)
	require.NoError(t, err)
	assert.Equal(t, []string{"count_deals_by_industry", "find_contacts", "get_page_context"}, registry.Names())

	find, _ := registry.Get("find_contacts")
	assert.True(t, find.RequiresConfirmation())
	assert.Equal(t, "Look up contacts", tools.Describe(find, nil))

	full, err := Assemble(&config.Config{}, "", all)
	require.NoError(t, err)
	assert.Equal(t, 4, full.Len())
}
