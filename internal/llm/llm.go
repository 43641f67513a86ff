// Package llm provides chat completion and token streaming over LLM providers.
package llm

import (
	"context"
	"errors"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// ErrEmptyResponse is returned when a provider answers with no choices.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// DeltaFunc receives one increment of generated text. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

// Model generates text.
type Model interface {
	// Complete runs a single-shot prompt and returns the whole reply.
	Complete(ctx context.Context, system, prompt string) (string, error)
	// Stream answers question in the context of history, calling onDelta for every non-empty
	// increment in generation order. It returns the concatenation of the increments that
	// onDelta accepted, which is partial when err is non-nil.
	Stream(ctx context.Context, system string, history []models.HistoryTurn, question string, onDelta DeltaFunc) (string, error)
	// Name identifies the provider and model, for logs.
	Name() string
	Close() error
}
