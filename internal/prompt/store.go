package prompt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wenhaiyang6/parenting/internal/watcher"
)

// Store serves the current prompt Set and reloads it from disk when the file changes.
type Store struct {
	path    string
	mu      sync.RWMutex
	set     Set
	logger  *zap.Logger
	watcher *watcher.Watcher
}

// NewStore returns a store. An empty path serves the defaults forever.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{path: path, set: DefaultSet(), logger: logger}
	if path == "" {
		return s, nil
	}
	set, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.set = set
	return s, nil
}

// Current returns the active templates.
func (s *Store) Current() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Reload re-reads the prompt file. On error the previous templates stay active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := LoadFile(s.path)
	if err != nil {
		s.logger.Warn("prompt reload failed, keeping previous prompts", zap.String("path", s.path), zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	s.logger.Info("prompts reloaded", zap.String("path", s.path))
	return nil
}

// Watch reloads the store whenever its file changes, until ctx is done or Close is called.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w := watcher.NewWatcher([]string{s.path}, func(string) { _ = s.Reload() }, watcher.WithLogger(s.logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

// Close stops watching.
func (s *Store) Close() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}
