package recall

import (
	"context"
	"strings"
	"testing"
)

func TestIndex_Suggest(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)
	ctx := context.Background()

	tests := []struct {
		name  string
		user  string
		query string
		want  string
	}{
		{"one typo", "alice", "tantrunms", "tantrums"},
		{"typo next to known word", "alice", "toddler slep", "toddler sleep"},
		{"all known", "alice", "toddler naps", ""},
		{"nothing close", "alice", "vaccination", ""},
		{"short terms left alone", "alice", "hw", ""},
		// "newborn" only appears in bob's turns
		{"other user's vocabulary unused", "alice", "newbron", ""},
		{"unknown user", "carol", "slep", ""},
		{"empty query", "alice", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.Suggest(ctx, tt.user, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Suggest(%q, %q) = %q, want %q", tt.user, tt.query, got, tt.want)
			}
		})
	}
}

func TestIndex_Terms(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	got := strings.Join(idx.terms("Toddler SLEEP, 2-year-old!"), " ")
	if got != "toddler sleep 2 year old" {
		t.Errorf("terms = %q", got)
	}
	if cjk := idx.terms("宝宝睡眠"); len(cjk) == 0 {
		t.Error("CJK text produced no terms")
	}
}
