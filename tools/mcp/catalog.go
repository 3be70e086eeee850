package mcp

import (
	"context"
	"log/slog"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/tools"
)

// BuildRegistry starts every configured MCP server and assembles the tool
// registry: the built-in tools, then each server's tools, with the
// confirm_tools policy applied and the named toolset selected.
func BuildRegistry(ctx context.Context, cfg *config.Config, toolset string, logger *slog.Logger) (*tools.Registry, *Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := &Catalog{logger: logger}

	all := []tools.Tool{tools.PageContextTool()}
	for _, server := range cfg.MCPServers {
		client, err := NewMCPClient(ctx, server.Name, server.Command, server.Args, server.Env)
		if err != nil {
			catalog.Close()
			return nil, nil, err
		}
		catalog.clients = append(catalog.clients, client)
		logger.Info("initialized MCP client", "server", server.Name, "tools", len(client.tools))
		all = append(all, client.Tools()...)
	}

	registry, err := Assemble(cfg, toolset, all)
	if err != nil {
		catalog.Close()
		return nil, nil, err
	}
	return registry, catalog, nil
}

// Assemble indexes tools, applies the confirmation policy and selects the toolset.
func Assemble(cfg *config.Config, toolset string, all []tools.Tool) (*tools.Registry, error) {
	registry, err := tools.NewRegistry(all...)
	if err != nil {
		return nil, errors.Wrapf(err, "building tool registry")
	}
	registry, err = tools.ApplyConfirmPolicy(registry, cfg.ConfirmTools)
	if err != nil {
		return nil, err
	}
	return registry.GetActiveTools(cfg.GetToolset(toolset))
}
