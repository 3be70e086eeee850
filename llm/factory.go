package llm

import (
	"context"

	"github.com/m4xw311/dealgate/config"
	"github.com/m4xw311/dealgate/errors"
)

// NewClient builds the provider named by cfg.LLMClient. The standard-tier
// model is the client default; requests normally name their own model.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	model := cfg.Models.Standard
	switch cfg.LLMClient {
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	case "openai":
		return NewOpenAILLMClient(ctx, model)
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "mock":
		return NewMockLLMClient(), nil
	default:
		return nil, errors.New("unknown llm client: %s", cfg.LLMClient)
	}
}
