package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// Mock is a deterministic offline model. It streams Answer word by word and answers every
// Complete call with CompleteFunc, or with a fixed reply when CompleteFunc is nil.
type Mock struct {
	// Answer is streamed in whitespace-preserving word chunks. When empty, a canned answer
	// citing the first source is used.
	Answer string
	// StreamErr, when set, is returned after FailAfter deltas have been delivered.
	StreamErr error
	FailAfter int
	// CompleteFunc answers Complete calls.
	CompleteFunc func(system, prompt string) (string, error)

	mu          sync.Mutex
	streams     int
	completions []string
	lastHistory []models.HistoryTurn
	lastSystem  string
}

// NewMock returns a mock that never fails.
func NewMock() *Mock {
	return &Mock{FailAfter: -1}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Complete records prompt and returns CompleteFunc's result.
func (m *Mock) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	m.completions = append(m.completions, prompt)
	fn := m.CompleteFunc
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(system, prompt)
	}
	return "parenting advice", nil
}

// Stream delivers the scripted answer.
func (m *Mock) Stream(ctx context.Context, system string, history []models.HistoryTurn, question string, onDelta DeltaFunc) (string, error) {
	m.mu.Lock()
	m.streams++
	m.lastSystem = system
	m.lastHistory = append([]models.HistoryTurn(nil), history...)
	answer := m.Answer
	m.mu.Unlock()

	if answer == "" {
		answer = "Here is what most parenting experts suggest about \"" + question + "\" [1]."
	}
	var full strings.Builder
	for i, delta := range strings.SplitAfter(answer, " ") {
		if m.StreamErr != nil && m.FailAfter >= 0 && i == m.FailAfter {
			return full.String(), m.StreamErr
		}
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		if delta == "" {
			continue
		}
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
		full.WriteString(delta)
	}
	if m.StreamErr != nil && m.FailAfter >= 0 {
		return full.String(), m.StreamErr
	}
	return full.String(), nil
}

// Close is a no-op.
func (m *Mock) Close() error { return nil }

// Streams returns how many Stream calls were made.
func (m *Mock) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams
}

// Completions returns the prompts passed to Complete, in call order.
func (m *Mock) Completions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completions...)
}

// LastStream returns the system prompt and history of the most recent Stream call.
func (m *Mock) LastStream() (string, []models.HistoryTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSystem, m.lastHistory
}
