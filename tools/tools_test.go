package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/session"
)

func stub(name string) *Func {
	return &Func{
		ToolName: name,
		Desc:     name + " tool",
		Fn: func(context.Context, map[string]any, session.Caller) Result {
			return Result{Data: map[string]any{"tool": name}}
		},
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(stub("query_deals"), stub("query_deals"))
	assert.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(stub("query_deals"), stub("find_contacts"))
	require.NoError(t, err)

	assert.Equal(t, []string{"find_contacts", "query_deals"}, r.Names())
	_, ok := r.Get("query_deals")
	assert.True(t, ok)
	_, ok = r.Get("drop_tables")
	assert.False(t, ok)

	specs := r.Specs([]string{"query_deals", "missing", "query_deals"})
	require.Len(t, specs, 1)
	assert.Equal(t, "object", specs[0].InputSchema["type"])
}

func TestGetActiveTools(t *testing.T) {
	r, err := NewRegistry(stub("query_deals"), stub("get_deal_details"), stub("update_deal_stage"), stub("get_page_context"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"all", []string{"**"}, []string{"get_deal_details", "get_page_context", "query_deals", "update_deal_stage"}},
		{"prefix", []string{"get_*"}, []string{"get_deal_details", "get_page_context"}},
		{"alternation", []string{"{query,update}_*"}, []string{"query_deals", "update_deal_stage"}},
		{"none", []string{"nothing"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active, err := r.GetActiveTools(&config.Toolset{Name: tt.name, Tools: tt.patterns})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Zero(t, active.Len())
				return
			}
			assert.Equal(t, tt.want, active.Names())
		})
	}
}

func TestSafeExecuteRecovers(t *testing.T) {
	boom := &Func{ToolName: "boom", Fn: func(context.Context, map[string]any, session.Caller) Result {
		panic("nil map")
	}}
	res := SafeExecute(context.Background(), boom, nil, session.Caller{})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "nil map")
}

func TestResultContent(t *testing.T) {
	assert.Equal(t, `{"count":3}`, Result{Data: map[string]int{"count": 3}}.Content())
	assert.Equal(t, "plain", Result{Data: "plain"}.Content())
	assert.Equal(t, "not found", Errorf("not %s", "found").Content())
	assert.Equal(t, "null", Result{}.Content())
}

func TestConfirmPolicy(t *testing.T) {
	r, err := NewRegistry(stub("update_deal_stage"), stub("add_deal_note"), stub("query_deals"))
	require.NoError(t, err)

	r, err = ApplyConfirmPolicy(r, []config.ConfirmTool{
		{Pattern: "update_*", Description: "Move deal {{.deal_id}} to {{.new_stage}}"},
		{Pattern: "add_*"},
	})
	require.NoError(t, err)

	update, _ := r.Get("update_deal_stage")
	assert.True(t, update.RequiresConfirmation())
	assert.Equal(t, "Move deal d-42 to NDA", Describe(update, map[string]any{"deal_id": "d-42", "new_stage": "NDA"}))

	note, _ := r.Get("add_deal_note")
	assert.True(t, note.RequiresConfirmation())
	assert.Equal(t, "Add deal note (note: call back)", Describe(note, map[string]any{"note": "call back"}))

	query, _ := r.Get("query_deals")
	assert.False(t, query.RequiresConfirmation())
}

func TestConfirmPolicyBadTemplate(t *testing.T) {
	r, err := NewRegistry(stub("update_deal_stage"))
	require.NoError(t, err)
	_, err = ApplyConfirmPolicy(r, []config.ConfirmTool{{Pattern: "*", Description: "{{.x"}})
	assert.Error(t, err)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Update deal stage (new_stage: NDA)", humanize("update_deal_stage", map[string]any{"new_stage": "NDA"}))
	assert.Equal(t, "Trigger enrichment", humanize("trigger_enrichment", nil))
}

func TestPageContextTool(t *testing.T) {
	tool := PageContextTool()

	res := tool.Execute(context.Background(), nil, session.Caller{})
	assert.False(t, res.Failed())
	assert.Contains(t, res.Content(), "no page context")

	page := &session.PageContext{Page: "deal_detail", EntityID: "d-1", EntityType: "deal"}
	res = tool.Execute(session.WithPageContext(context.Background(), page), nil, session.Caller{})
	assert.JSONEq(t, `{"page":"deal_detail","entity_id":"d-1","entity_type":"deal"}`, res.Content())
}
