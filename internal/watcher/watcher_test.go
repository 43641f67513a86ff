package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var changes []string
	w := NewWatcher([]string{path}, func(p string) {
		mu.Lock()
		changes = append(changes, p)
		mu.Unlock()
	}, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte{byte('b' + i)}, 0644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want exactly one debounced callback", changes)
	}
	want, _ := filepath.Abs(path)
	if changes[0] != want {
		t.Errorf("changed path = %s, want %s", changes[0], want)
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	called := make(chan string, 1)
	w := NewWatcher([]string{path}, func(p string) { called <- p }, WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-called:
		t.Errorf("unexpected change for %s", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher([]string{filepath.Join(dir, "x.yaml")}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
	if len(w.Files()) != 1 {
		t.Errorf("Files() = %v", w.Files())
	}
}
