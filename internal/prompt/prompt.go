// Package prompt holds the LLM prompt templates and renders them.
package prompt

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// Set is one complete group of templates. Templates use Go template syntax.
//
//	system:    {{.sources}}
//	keywords:  {{.text}}
//	title:     {{.question}}
//	follow_up: {{.question}} {{.answer}}
type Set struct {
	System   string `yaml:"system"`
	Keywords string `yaml:"keywords"`
	Title    string `yaml:"title"`
	FollowUp string `yaml:"follow_up"`
}

// DefaultSet returns the built-in templates.
func DefaultSet() Set {
	return Set{
		System: `You are a helpful parenting expert. Provide clear, concise advice based on established parenting practices.
When responding, take into account the context of any previous questions and answers in the conversation.

Use the numbered sources below when they are relevant. Cite a source inline with its bracketed number, for example [1] or [2][3]. Only cite numbers that appear in the list. If the sources do not cover the question, answer from general knowledge without citations.

Sources:
{{.sources}}`,
		Keywords: `Extract 2-3 key search terms from the following questions. Reply with the terms only, separated by spaces, without quotes or punctuation.

{{.text}}`,
		Title: `Write a short title (at most 6 words) for a conversation that starts with this question. Reply with the title only, without quotes.

{{.question}}`,
		FollowUp: `A parent asked: {{.question}}

They were answered: {{.answer}}

Suggest exactly 3 short follow-up questions the parent might ask next. Reply with a JSON array of 3 strings and nothing else.`,
	}
}

// LoadFile reads a YAML prompt file. Templates missing from the file keep their defaults.
// Every template is test-rendered so that a broken file is rejected as a whole.
func LoadFile(path string) (Set, error) {
	set := DefaultSet()
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("failed to read prompts: %w", err)
	}
	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Set{}, fmt.Errorf("failed to parse prompts: %w", err)
	}
	if strings.TrimSpace(override.System) != "" {
		set.System = override.System
	}
	if strings.TrimSpace(override.Keywords) != "" {
		set.Keywords = override.Keywords
	}
	if strings.TrimSpace(override.Title) != "" {
		set.Title = override.Title
	}
	if strings.TrimSpace(override.FollowUp) != "" {
		set.FollowUp = override.FollowUp
	}
	if err := set.Check(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Check renders every template with sample values.
func (s Set) Check() error {
	if _, err := s.RenderSystem(nil); err != nil {
		return err
	}
	if _, err := s.RenderKeywords("q"); err != nil {
		return err
	}
	if _, err := s.RenderTitle("q"); err != nil {
		return err
	}
	if _, err := s.RenderFollowUp("q", "a"); err != nil {
		return err
	}
	return nil
}

// RenderSystem renders the answer system prompt with the numbered source passages.
func (s Set) RenderSystem(sources []models.Source) (string, error) {
	return render("system", s.System, map[string]any{"sources": FormatSources(sources)})
}

// RenderKeywords renders the keyword-extraction prompt.
func (s Set) RenderKeywords(text string) (string, error) {
	return render("keywords", s.Keywords, map[string]any{"text": text})
}

// RenderTitle renders the title prompt.
func (s Set) RenderTitle(question string) (string, error) {
	return render("title", s.Title, map[string]any{"question": question})
}

// RenderFollowUp renders the follow-up prompt.
func (s Set) RenderFollowUp(question, answer string) (string, error) {
	return render("follow_up", s.FollowUp, map[string]any{"question": question, "answer": answer})
}

// FormatSources lists sources as "[n] title (date)\npassage" blocks, numbered from 1.
func FormatSources(sources []models.Source) string {
	if len(sources) == 0 {
		return "(no sources found)"
	}
	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + strconv.Itoa(i+1) + "] " + src.Title)
		if src.Date != nil {
			b.WriteString(" (" + *src.Date + ")")
		}
		if src.Passage != "" {
			b.WriteString("\n" + src.Passage)
		}
	}
	return b.String()
}

func render(name, tmpl string, values map[string]any) (string, error) {
	vars := make([]string, 0, len(values))
	for k := range values {
		vars = append(vars, k)
	}
	out, err := prompts.NewPromptTemplate(tmpl, vars).Format(values)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return out, nil
}
