package recall

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wenhaiyang6/parenting/internal/models"
)

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	turns := []struct {
		conv *models.Conversation
		msg  models.Message
	}{
		{&models.Conversation{ID: "c1", UserID: "alice", Title: "Toddler sleep"},
			models.Message{ID: "m1", Text: "How much sleep does a toddler need?", Answer: "Toddlers need 11 to 14 hours [1]."}},
		{&models.Conversation{ID: "c1", UserID: "alice", Title: "Toddler sleep"},
			models.Message{ID: "m2", Text: "What about naps?", Answer: "One afternoon nap is typical."}},
		{&models.Conversation{ID: "c2", UserID: "alice", Title: "Tantrums"},
			models.Message{ID: "m3", Text: "How do I handle tantrums?", Answer: "Stay calm and name the feeling."}},
		{&models.Conversation{ID: "c3", UserID: "bob", Title: "Sleep"},
			models.Message{ID: "m4", Text: "Newborn sleep schedule?", Answer: "Newborns sleep 14 to 17 hours."}},
	}
	for _, tt := range turns {
		if err := idx.IndexTurn(ctx, tt.conv, tt.msg); err != nil {
			t.Fatalf("IndexTurn %s: %v", tt.msg.ID, err)
		}
	}
}

func TestIndex_SearchScopedToUser(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "alice", "sleep", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for alice")
	}
	for _, h := range hits {
		if h.ConversationID == "c3" {
			t.Errorf("bob's turn leaked into alice's results: %+v", h)
		}
	}
	if hits[0].MessageID != "m1" {
		t.Errorf("best hit = %s, want m1", hits[0].MessageID)
	}
	if hits[0].Question == "" || hits[0].Title != "Toddler sleep" {
		t.Errorf("stored fields missing: %+v", hits[0])
	}

	none, err := idx.Search(context.Background(), "carol", "sleep", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown user got %d hits", len(none))
	}
}

func TestIndex_FuzzySearch(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)

	hits, err := idx.Search(context.Background(), "alice", "tantrumz", 5, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].ConversationID != "c2" {
		t.Errorf("fuzzy search hits = %+v", hits)
	}
}

func TestIndex_DeleteConversation(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "recall.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)
	ctx := context.Background()

	// wrong owner is a no-op
	if err := idx.DeleteConversation(ctx, "bob", "c1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 4 {
		t.Fatalf("DocCount = %d, want 4", n)
	}

	if err := idx.DeleteConversation(ctx, "alice", "c1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
	hits, _ := idx.Search(ctx, "alice", "naps", 10, nil)
	if len(hits) != 0 {
		t.Errorf("deleted turn still searchable: %+v", hits)
	}
}

func TestIndex_ReopenKeepsTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.bleve")
	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	seed(t, idx)
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	hits, err := idx.Search(context.Background(), "alice", "tantrums", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits after reopen = %d, want 1", len(hits))
	}
}

func TestIndex_EmptyQuery(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	hits, err := idx.Search(context.Background(), "alice", "  ", 10, nil)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty query: hits=%v err=%v", hits, err)
	}
	if err := idx.IndexTurn(context.Background(), &models.Conversation{ID: "c"}, models.Message{}); err == nil {
		t.Error("expected error for message without id")
	}
}

func TestIndex_SearchAnalyzesQuery(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	turns := []models.Message{
		{ID: "m1", Text: "how long should toddlers nap", Answer: "About two hours."},
		{ID: "m2", Text: "宝宝睡眠问题怎么办", Answer: "保持固定的作息。"},
	}
	for _, m := range turns {
		if err := idx.IndexTurn(ctx, &models.Conversation{ID: "c-" + m.ID, UserID: "alice"}, m); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  string
	}{
		{"nap", "c-m1"},
		{"toddlers,nap", "c-m1"},
		{"TODDLERS...", "c-m1"},
		{"睡眠", "c-m2"},
		{"宝宝睡眠", "c-m2"},
	}
	for _, opts := range []*SearchOptions{nil, {Fuzziness: 1}} {
		for _, tt := range tests {
			hits, err := idx.Search(ctx, "alice", tt.query, 10, opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(hits) == 0 || hits[0].ConversationID != tt.want {
				t.Errorf("Search(%q, %+v) = %+v, want top hit %s", tt.query, opts, hits, tt.want)
			}
		}
	}
}
