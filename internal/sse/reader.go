package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/wenhaiyang6/parenting/internal/models"
)

// ErrTruncated is returned when a stream ends without the [DONE] sentinel.
var ErrTruncated = errors.New("stream ended before [DONE]")

const maxEventSize = 1024 * 1024

// Stats describes a consumed stream.
type Stats struct {
	Events  int
	Skipped int
}

// Read consumes a stream, calling fn for every well-formed event in order. Events whose
// payload is not valid JSON are counted and skipped. Read returns nil after [DONE],
// ErrTruncated when the body ends first, and fn's error if fn fails.
func Read(r io.Reader, fn func(models.Event) error) (Stats, error) {
	var stats Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []string
	dispatch := func() (bool, error) {
		if len(data) == 0 {
			return false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		if payload == DoneSentinel {
			return true, nil
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			stats.Skipped++
			return false, nil
		}
		stats.Events++
		return false, fn(ev)
	}

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			done, err := dispatch()
			if err != nil || done {
				return stats, err
			}
			continue
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		if v, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			data = append(data, string(bytes.TrimPrefix(v, []byte(" "))))
		}
	}
	if err := sc.Err(); err != nil {
		return stats, err
	}
	// A final event without its blank line still counts.
	done, err := dispatch()
	if err != nil {
		return stats, err
	}
	if !done {
		return stats, ErrTruncated
	}
	return stats, nil
}
