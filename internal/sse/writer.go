// Package sse implements the server-sent event framing used by the answer stream: one
// "data: <payload>" line per event, a blank line after each event, and a final
// "data: [DONE]" sentinel.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// DoneSentinel is the payload of the final event of a complete stream.
const DoneSentinel = "[DONE]"

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer writes events to an HTTP response. Nothing reaches the client, headers included,
// until the writer is committed by Send or Done, so a handler can still answer with a
// plain error status while only buffered events exist.
type Writer struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	pending   [][]byte
	committed bool
	done      bool
}

// NewWriter wraps w.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: f}, nil
}

// Buffer queues an event to be written ahead of the next Send or Done.
func (s *Writer) Buffer(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		return s.writeLocked(b)
	}
	s.pending = append(s.pending, b)
	return nil
}

// Send commits the stream and writes v after any buffered events.
func (s *Writer) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(); err != nil {
		return err
	}
	return s.writeLocked(b)
}

// Done commits the stream and writes the [DONE] sentinel. Further writes fail.
func (s *Writer) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(); err != nil {
		return err
	}
	if err := s.writeLocked([]byte(DoneSentinel)); err != nil {
		return err
	}
	s.done = true
	return nil
}

// Committed reports whether any bytes have been written to the client.
func (s *Writer) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *Writer) commitLocked() error {
	if s.committed {
		return nil
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.committed = true

	pending := s.pending
	s.pending = nil
	for _, b := range pending {
		if err := s.writeLocked(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Writer) writeLocked(payload []byte) error {
	if s.done {
		return errors.New("write after [DONE]")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
