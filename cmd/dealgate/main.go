package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/m4xw311/dealgate/agent"
	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/llm"
	"github.com/m4xw311/dealgate/session"
	"github.com/m4xw311/dealgate/tools"
	"github.com/m4xw311/dealgate/tools/mcp"
	"github.com/m4xw311/dealgate/usage"
)

var (
	configPath string
	toolset    string
	provider   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dealgate",
	Short: "Conversational agent gateway for the deal-advisory CRM",
	Long: `dealgate routes free-text requests to CRM tools served over MCP, drives the
model/tool loop and streams every step as typed events.

Examples:
  dealgate serve                          # HTTP on the configured listen address
  dealgate ask "how many HVAC deals do we have in Texas?"
  dealgate tools                          # list the active tools`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to ~/.dealgate and ./.dealgate config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&toolset, "toolset", "t", "", "Toolset to use (defaults to 'default')")
	rootCmd.PersistentFlags().StringVar(&provider, "llm", "", "Override the LLM provider: anthropic, openai, gemini, bedrock or mock")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, askCmd, toolsCmd, usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if provider != "" {
		cfg.LLMClient = provider
		cfg.Models = config.Models{}
		cfg.ApplyDefaults()
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration")
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// newUsageSink opens the configured usage store. The returned close func is
// never nil.
func newUsageSink(cfg *config.Config, logger *slog.Logger) (usage.Sink, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Usage.Driver {
	case "sqlite":
		store, err := usage.OpenSQLite(cfg.Usage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "log":
		return usage.LogSink{Logger: logger}, nop, nil
	case "none":
		return usage.Nop{}, nop, nil
	}
	return nil, nil, errors.New("unknown usage driver %q", cfg.Usage.Driver)
}

// app is everything a command needs, wired from the configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	agent    *agent.Agent
	registry *tools.Registry
	usage    *usage.AsyncSink

	closers []func() error
}

func newApp(ctx context.Context, withConversations bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry, catalog, err := mcp.BuildRegistry(ctx, cfg, toolset, logger)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.closers = append(a.closers, catalog.Close)

	sink, closeSink, err := newUsageSink(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.usage = usage.NewAsyncSink(sink, 5*time.Second, logger)
	a.closers = append(a.closers, closeSink)

	opts := agent.Options{Usage: a.usage, Logger: logger}
	if withConversations {
		store, err := session.NewStore(cfg.ConversationDir)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Conversations = store
	}
	a.agent = agent.New(cfg, client, registry, opts)

	logger.Info("dealgate ready", "llm", cfg.LLMClient, "tools", registry.Len())
	return a, nil
}

// Close drains pending usage writes, then releases resources in reverse order.
func (a *app) Close() error {
	if a.usage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.usage.Drain(ctx); err != nil {
			a.logger.Warn("usage writes still pending at shutdown", "error", err)
		}
		cancel()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
