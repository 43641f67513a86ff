package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/models"
)

// Gemini talks to the Gemini API through google.golang.org/genai.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, temperature: float32(cfg.Temperature)}, nil
}

// Name returns provider/model.
func (g *Gemini) Name() string { return "gemini/" + g.model }

// Complete runs a single-turn generation.
func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.generateConfig(system))
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Text(), nil
}

// Stream iterates Models.GenerateContentStream, forwarding each chunk's text.
func (g *Gemini) Stream(ctx context.Context, system string, history []models.HistoryTurn, question string, onDelta DeltaFunc) (string, error) {
	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, geminiContents(history, question), g.generateConfig(system)) {
		if err != nil {
			return full.String(), fmt.Errorf("%s: %w", g.Name(), err)
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
		full.WriteString(delta)
	}
	return full.String(), nil
}

// Close is a no-op; the genai client has nothing to release.
func (g *Gemini) Close() error { return nil }

func (g *Gemini) generateConfig(system string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	}
}

func geminiContents(history []models.HistoryTurn, question string) []*genai.Content {
	contents := make([]*genai.Content, 0, 1+2*len(history))
	for _, turn := range history {
		contents = append(contents, genai.NewContentFromText(turn.Question, genai.RoleUser))
		if turn.Answer != "" {
			contents = append(contents, genai.NewContentFromText(turn.Answer, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(question, genai.RoleUser))
}
