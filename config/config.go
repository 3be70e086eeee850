package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/usage"
)

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// ConfirmTool marks tools matching Pattern as confirmation-required.
// Description is a text/template rendered over the tool arguments.
type ConfirmTool struct {
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description"`
}

// Models maps a routing tier to a provider model name.
type Models struct {
	Quick    string `yaml:"quick"`
	Standard string `yaml:"standard"`
	Deep     string `yaml:"deep"`
}

type Timeouts struct {
	Model          time.Duration `yaml:"model"`
	Classification time.Duration `yaml:"classification"`
	Tool           time.Duration `yaml:"tool"`
}

type Truncation struct {
	Budget int `yaml:"budget"`
	Margin int `yaml:"margin"`
}

type Usage struct {
	Driver string `yaml:"driver"` // sqlite, log or none
	Path   string `yaml:"path"`
}

type Config struct {
	LLMClient       string                        `yaml:"llm"`
	Models          Models                        `yaml:"models"`
	MaxRounds       int                           `yaml:"max_rounds"`
	MaxOutputTokens int64                         `yaml:"max_output_tokens"`
	Timeouts        Timeouts                      `yaml:"timeouts"`
	Truncation      Truncation                    `yaml:"truncation"`
	Listen          string                        `yaml:"listen"`
	LogLevel        string                        `yaml:"log_level"`
	Usage           Usage                         `yaml:"usage"`
	ConversationDir string                        `yaml:"conversations_dir"`
	Pricing         map[string]usage.ModelPricing `yaml:"pricing"`
	Toolsets        []Toolset                     `yaml:"toolsets"`
	MCPServers      []MCPServer                   `yaml:"mcp_servers"`
	ConfirmTools    []ConfirmTool                 `yaml:"confirm_tools"`
}

var defaultModels = map[string]Models{
	"anthropic": {Quick: "claude-3-5-haiku-latest", Standard: "claude-sonnet-4-20250514", Deep: "claude-opus-4-20250514"},
	"openai":    {Quick: "gpt-4o-mini", Standard: "gpt-4o", Deep: "gpt-4.1"},
	"gemini":    {Quick: "gemini-1.5-flash", Standard: "gemini-1.5-pro", Deep: "gemini-1.5-pro"},
	"bedrock":   {Quick: "anthropic.claude-3-haiku-20240307-v1:0", Standard: "anthropic.claude-3-5-sonnet-20240620-v1:0", Deep: "anthropic.claude-3-5-sonnet-20240620-v1:0"},
	"mock":      {Quick: "mock", Standard: "mock", Deep: "mock"},
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence, then fills defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".dealgate", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".dealgate", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadFile loads a single explicit config file and fills defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, so later files win.
	return yaml.Unmarshal(data, cfg)
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.LLMClient == "" {
		c.LLMClient = "anthropic"
	}
	if models, ok := defaultModels[c.LLMClient]; ok {
		if c.Models.Quick == "" {
			c.Models.Quick = models.Quick
		}
		if c.Models.Standard == "" {
			c.Models.Standard = models.Standard
		}
		if c.Models.Deep == "" {
			c.Models.Deep = models.Deep
		}
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 5
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 4096
	}
	if c.Timeouts.Model == 0 {
		c.Timeouts.Model = 60 * time.Second
	}
	if c.Timeouts.Classification == 0 {
		c.Timeouts.Classification = 3 * time.Second
	}
	if c.Timeouts.Tool == 0 {
		c.Timeouts.Tool = 30 * time.Second
	}
	if c.Truncation.Budget == 0 {
		c.Truncation.Budget = 40000
	}
	if c.Truncation.Margin == 0 {
		c.Truncation.Margin = 200
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Usage.Driver == "" {
		c.Usage.Driver = "sqlite"
	}
	if c.Usage.Path == "" {
		c.Usage.Path = filepath.Join(".dealgate", "usage.db")
	}
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(".dealgate", "conversations")
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if _, ok := defaultModels[c.LLMClient]; !ok {
		return errors.New("unknown llm client %q", c.LLMClient)
	}
	if c.MaxRounds <= 0 {
		return errors.New("max_rounds must be positive, got %d", c.MaxRounds)
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("max_output_tokens must be positive, got %d", c.MaxOutputTokens)
	}
	if c.Truncation.Budget <= c.Truncation.Margin || c.Truncation.Margin < 0 {
		return errors.New("truncation budget %d must exceed margin %d", c.Truncation.Budget, c.Truncation.Margin)
	}
	switch c.Usage.Driver {
	case "sqlite", "log", "none":
	default:
		return errors.New("unknown usage driver %q", c.Usage.Driver)
	}
	for _, ts := range c.Toolsets {
		for _, p := range ts.Tools {
			if !doublestar.ValidatePattern(p) {
				return errors.New("toolset %q: invalid pattern %q", ts.Name, p)
			}
		}
	}
	for _, ct := range c.ConfirmTools {
		if !doublestar.ValidatePattern(ct.Pattern) {
			return errors.New("confirm_tools: invalid pattern %q", ct.Pattern)
		}
	}
	for _, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("mcp server entries need a name and a command")
		}
	}
	return nil
}

// Model returns the model configured for a routing tier, falling back to
// the standard model for unknown tiers.
func (c *Config) Model(tier string) string {
	switch tier {
	case "QUICK":
		return c.Models.Quick
	case "DEEP":
		return c.Models.Deep
	default:
		return c.Models.Standard
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. Without a
// configured "default", every tool is allowed.
func (c *Config) GetToolset(name string) *Toolset {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts
		}
	}
	if name == "default" {
		return &Toolset{Name: "default", Tools: []string{"**"}}
	}
	return c.GetToolset("default")
}
