package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/models"
)

// LangChain adapts any langchaingo model (OpenAI-compatible or Ollama).
type LangChain struct {
	llm         llms.Model
	name        string
	temperature float64
}

// NewOpenAI creates an OpenAI chat model. BaseURL may point at any OpenAI-compatible API.
func NewOpenAI(cfg config.LLMConfig) (*LangChain, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChain(m, "openai/"+cfg.Model, cfg.Temperature), nil
}

// NewOllama creates a model served by a local Ollama instance.
func NewOllama(cfg config.LLMConfig) (*LangChain, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return NewLangChain(m, "ollama/"+cfg.Model, cfg.Temperature), nil
}

// NewLangChain wraps an existing langchaingo model.
func NewLangChain(m llms.Model, name string, temperature float64) *LangChain {
	return &LangChain{llm: m, name: name, temperature: temperature}
}

// Name returns provider/model.
func (l *LangChain) Name() string { return l.name }

// Complete sends a system + user message pair and returns the first choice.
func (l *LangChain) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := l.llm.GenerateContent(ctx, messages, llms.WithTemperature(l.temperature))
	if err != nil {
		return "", fmt.Errorf("%s: %w", l.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Stream streams the answer through llms.WithStreamingFunc.
func (l *LangChain) Stream(ctx context.Context, system string, history []models.HistoryTurn, question string, onDelta DeltaFunc) (string, error) {
	var full strings.Builder
	_, err := l.llm.GenerateContent(ctx, chatMessages(system, history, question),
		llms.WithTemperature(l.temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			delta := string(chunk)
			if err := onDelta(delta); err != nil {
				return err
			}
			full.WriteString(delta)
			return nil
		}))
	if err != nil {
		return full.String(), fmt.Errorf("%s: %w", l.name, err)
	}
	return full.String(), nil
}

// Close is a no-op; langchaingo clients hold no resources.
func (l *LangChain) Close() error { return nil }

// chatMessages lays out the system prompt, then each prior turn as a human question followed
// by the AI answer when there is one, then the current question.
func chatMessages(system string, history []models.HistoryTurn, question string) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2+2*len(history))
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for _, turn := range history {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, turn.Question))
		if turn.Answer != "" {
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, turn.Answer))
		}
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))
}
