package storage

import (
	"context"
	"os"
	"path/filepath"
)

// Usage summarizes what the store and its side files hold.
type Usage struct {
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
	// DiskBytes covers local files only (sqlite database, recall index); remote stores report 0.
	DiskBytes int64 `json:"diskBytes"`
}

// Report counts conversations and messages in s and sums the size of the local paths.
func Report(ctx context.Context, s Storage, paths ...string) (*Usage, error) {
	convs, err := s.CountConversations(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	bytes, err := DiskUsageBytes(paths...)
	if err != nil {
		return nil, err
	}
	return &Usage{Conversations: convs, Messages: msgs, DiskBytes: bytes}, nil
}

// DiskUsageBytes returns the total size in bytes of the given paths. sqlite's -wal and -shm
// companions are included for file paths. Missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
			continue
		}
		total += info.Size()
		for _, suffix := range []string{"-wal", "-shm"} {
			if side, err := os.Stat(p + suffix); err == nil {
				total += side.Size()
			}
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
