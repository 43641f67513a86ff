package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wenhaiyang6/parenting/internal/llm"
	"github.com/wenhaiyang6/parenting/internal/prompt"
)

// FollowUpCount is how many follow-up questions are suggested per turn.
const FollowUpCount = 3

var errNoFollowUps = errors.New("no follow-up questions in reply")

// Assistant runs the auxiliary single-shot LLM calls of a turn: keyword extraction, titles,
// and follow-up suggestions.
type Assistant struct {
	model   llm.Model
	prompts *prompt.Store
}

// NewAssistant returns an assistant using model with the templates served by prompts.
func NewAssistant(model llm.Model, prompts *prompt.Store) *Assistant {
	return &Assistant{model: model, prompts: prompts}
}

// ExtractKeywords returns a short web query for text.
func (a *Assistant) ExtractKeywords(ctx context.Context, text string) (string, error) {
	p, err := a.prompts.Current().RenderKeywords(text)
	if err != nil {
		return "", err
	}
	out, err := a.model.Complete(ctx, "", p)
	if err != nil {
		return "", err
	}
	return strings.Trim(firstLine(out), "\"' "), nil
}

// Title returns a short conversation title for question.
func (a *Assistant) Title(ctx context.Context, question string) (string, error) {
	p, err := a.prompts.Current().RenderTitle(question)
	if err != nil {
		return "", err
	}
	out, err := a.model.Complete(ctx, "", p)
	if err != nil {
		return "", err
	}
	title := cleanTitle(out)
	if title == "" {
		return "", llm.ErrEmptyResponse
	}
	return title, nil
}

// FollowUps suggests up to FollowUpCount next questions.
func (a *Assistant) FollowUps(ctx context.Context, question, answer string) ([]string, error) {
	p, err := a.prompts.Current().RenderFollowUp(question, answer)
	if err != nil {
		return nil, err
	}
	out, err := a.model.Complete(ctx, "", p)
	if err != nil {
		return nil, err
	}
	return parseFollowUps(out)
}

// parseFollowUps reads the first JSON array of strings in raw. Models often wrap the array
// in prose or a code fence.
func parseFollowUps(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errNoFollowUps
	}
	var items []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("parse follow-up questions: %w", err)
	}
	out := make([]string, 0, FollowUpCount)
	for _, q := range items {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == FollowUpCount {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoFollowUps
	}
	return out, nil
}

func cleanTitle(raw string) string {
	t := firstLine(raw)
	if i := strings.Index(strings.ToLower(t), "title:"); i == 0 {
		t = t[len("title:"):]
	}
	t = strings.Trim(strings.TrimSpace(t), "\"'*#` ")
	return strings.TrimRight(t, ".")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
