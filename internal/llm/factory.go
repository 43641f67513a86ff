package llm

import (
	"context"
	"fmt"

	"github.com/wenhaiyang6/parenting/internal/config"
)

// New creates the model selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	case "gemini":
		return NewGemini(ctx, cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
