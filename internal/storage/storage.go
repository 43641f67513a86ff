// Package storage defines the persistence interface for conversations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// ErrNotFound is returned for conversations that do not exist or belong to another user.
// Callers cannot tell the two apart.
var ErrNotFound = errors.New("conversation not found")

// ErrConflict is returned when an append keeps racing a concurrent writer.
var ErrConflict = errors.New("conversation was modified concurrently")

// Storage persists conversations. Every write is scoped to a user id.
type Storage interface {
	// FindByUser returns the user's conversations, most recently updated first.
	FindByUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	// FindByID returns a conversation regardless of owner; callers scope reads with OwnedBy.
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	// AppendMessage appends msg to conversation id, creating it for userID with title when
	// absent. It returns ErrNotFound when id belongs to another user.
	AppendMessage(ctx context.Context, id, userID, title string, msg models.Message) (*models.Conversation, error)
	// DeleteByID deletes a conversation owned by userID.
	DeleteByID(ctx context.Context, id, userID string) error

	// Stats
	CountConversations(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	Close() error
}

// retryConflict runs fn until it returns something other than ErrConflict, at most attempts
// times.
func retryConflict(attempts int, fn func() error) error {
	err := ErrConflict
	for i := 0; i < attempts && errors.Is(err, ErrConflict); i++ {
		err = fn()
	}
	return err
}

// nextUpdatedAt returns a timestamp strictly after prev, truncated to resolution.
func nextUpdatedAt(prev time.Time, resolution time.Duration) time.Time {
	now := time.Now().UTC().Truncate(resolution)
	if !now.After(prev) {
		return prev.Add(resolution)
	}
	return now
}
