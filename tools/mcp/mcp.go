// Package mcp exposes the tools of external MCP servers as registry tools.
// The CRM data layer (deals, buyers, contacts, scoring, enrichment) is reached
// this way.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/tools"
)

// UIActionKey is the structured-content key carrying a client UI payload.
const UIActionKey = "ui_action"

// MCPClient manages the connection to a single MCP server.
type MCPClient struct {
	Name  string
	conn  *mcpsdk.ClientSession
	tools []*MCPTool
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args, env []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return Connect(ctx, name, &mcpsdk.CommandTransport{Command: cmd})
}

// Connect initializes a client over any MCP transport and lists its tools,
// following pagination cursors.
func Connect(ctx context.Context, name string, transport mcpsdk.Transport) (*MCPClient, error) {
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "dealgate", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{Name: name, conn: conn}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			client.tools = append(client.tools, newMCPTool(client, t))
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return client, nil
}

// Tools returns the discovered tools.
func (c *MCPClient) Tools() []tools.Tool {
	out := make([]tools.Tool, len(c.tools))
	for i, t := range c.tools {
		out[i] = t
	}
	return out
}

// Close ends the session, which also stops a command transport's subprocess.
func (c *MCPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// MCPTool is a tool served by an MCP server.
type MCPTool struct {
	client      *MCPClient
	name        string
	description string
	schema      map[string]any
	destructive bool
}

func newMCPTool(client *MCPClient, t *mcpsdk.Tool) *MCPTool {
	tool := &MCPTool{client: client, name: t.Name, description: t.Description}
	if schema, ok := t.InputSchema.(map[string]any); ok {
		tool.schema = schema
	}
	tool.destructive = destructive(t.Annotations)
	return tool
}

// destructive applies the MCP annotation defaults: a tool may write unless it
// declares readOnlyHint, and a writing tool is destructive unless
// destructiveHint is explicitly false.
func destructive(ann *mcpsdk.ToolAnnotations) bool {
	if ann == nil {
		return true
	}
	if ann.ReadOnlyHint {
		return false
	}
	return ann.DestructiveHint == nil || *ann.DestructiveHint
}

func (t *MCPTool) Name() string                { return t.name }
func (t *MCPTool) Description() string         { return t.description }
func (t *MCPTool) InputSchema() map[string]any { return t.schema }

// RequiresConfirmation follows the server's annotations. Unannotated tools
// require confirmation.
func (t *MCPTool) RequiresConfirmation() bool { return t.destructive }

// Execute calls the tool on the server. The caller's id travels in _meta.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any, caller session.Caller) tools.Result {
	params := &mcpsdk.CallToolParams{Name: t.name, Arguments: args}
	if caller.UserID != "" {
		params.Meta = mcpsdk.Meta{"user_id": caller.UserID}
	}
	res, err := t.client.conn.CallTool(ctx, params)
	if err != nil {
		return tools.Errorf("failed to call tool '%s': %v", t.name, err)
	}
	return convertResult(res)
}

func convertResult(res *mcpsdk.CallToolResult) tools.Result {
	var text strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	if res.IsError {
		msg := text.String()
		if msg == "" {
			msg = "tool reported an error"
		}
		return tools.Result{Error: msg}
	}

	var out tools.Result
	if structured := asMap(res.StructuredContent); structured != nil {
		if ui, ok := structured[UIActionKey].(map[string]any); ok {
			out.UIAction = ui
			rest := make(map[string]any, len(structured)-1)
			for k, v := range structured {
				if k != UIActionKey {
					rest[k] = v
				}
			}
			structured = rest
		}
		out.Data = structured
		return out
	}
	if res.StructuredContent != nil {
		out.Data = res.StructuredContent
		return out
	}
	out.Data = text.String()
	return out
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case json.RawMessage:
		var out map[string]any
		if json.Unmarshal(m, &out) == nil {
			return out
		}
	}
	return nil
}

// Catalog owns the MCP connections behind a registry.
type Catalog struct {
	clients []*MCPClient
	logger  *slog.Logger
}

// Close stops every server.
func (c *Catalog) Close() error {
	var first error
	for _, client := range c.clients {
		if err := client.Close(); err != nil && first == nil {
			first = err
		}
		c.logger.Info("stopped MCP server", "server", client.Name)
	}
	return first
}
