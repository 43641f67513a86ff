package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("ééééé", 2); got != "éé..." {
		t.Errorf("multibyte: got %s", got)
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"How much sleep does a two year old need at night", 8, "How much sleep does a two year old..."},
		{"  short   question ", 8, "short question"},
		{"one two", 0, "one two"},
	}
	for _, tt := range tests {
		if got := TruncateWords(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Errorf("got %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Errorf("got %q", got)
	}
}
