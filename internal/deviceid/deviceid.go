// Package deviceid derives the anonymous client identity sent as X-User-ID.
//
// The id is a fingerprint of environment signals, computed once and persisted. It is not a
// credential: anyone can send any id, so it only separates conversations between honest
// clients.
package deviceid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	prefix         = "v1_"
	fingerprintLen = 32
)

// Signals are the environment properties hashed into an id.
type Signals struct {
	Hostname string
	User     string
	OS       string
	Arch     string
	Timezone string
	Language string
}

// Collect reads the signals of the current process. Missing values stay empty.
func Collect() Signals {
	s := Signals{OS: runtime.GOOS, Arch: runtime.GOARCH}
	s.Hostname, _ = os.Hostname()
	if u, err := user.Current(); err == nil {
		s.User = u.Username
	} else {
		s.User = os.Getenv("USER")
	}
	zone, offset := time.Now().Zone()
	s.Timezone = fmt.Sprintf("%s%+d", zone, offset/3600)
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			s.Language = v
			break
		}
	}
	return s
}

// Fingerprint returns the id for s. Equal signals always yield the same id.
func Fingerprint(s Signals) string {
	joined := strings.Join([]string{s.Hostname, s.User, s.OS, s.Arch, s.Timezone, s.Language}, "|")
	hash := sha256.Sum256([]byte(joined))
	return prefix + hex.EncodeToString(hash[:])[:fingerprintLen]
}

// Valid reports whether id has the shape produced by Fingerprint.
func Valid(id string) bool {
	if !strings.HasPrefix(id, prefix) || len(id) != len(prefix)+fingerprintLen {
		return false
	}
	_, err := hex.DecodeString(id[len(prefix):])
	return err == nil
}

// Load returns the id stored at path, creating it from the current environment on first use.
// A stored id survives later changes to the environment.
func Load(path string) (string, error) {
	return loadOrCreate(path, Collect)
}

func loadOrCreate(path string, collect func() Signals) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); Valid(id) {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}

	id := Fingerprint(collect())
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to save identity: %w", err)
	}
	return id, nil
}
