package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wenhaiyang6/parenting/internal/ask"
	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/llm"
	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/prompt"
	"github.com/wenhaiyang6/parenting/internal/recall"
	"github.com/wenhaiyang6/parenting/internal/search"
	"github.com/wenhaiyang6/parenting/internal/sse"
	"github.com/wenhaiyang6/parenting/internal/storage"
)

func newTestServer(t *testing.T, model *llm.Mock) (http.Handler, *storage.SQLiteStorage) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db.sqlite")
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	idx, err := recall.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	prompts, err := prompt.NewStore("", nil)
	if err != nil {
		t.Fatal(err)
	}

	agg := search.NewAggregator(search.NopSearcher{}, nil)
	retries := 0
	svc := ask.NewService(store, agg, model, prompts,
		ask.WithRecall(idx),
		ask.WithAskConfig(config.AskConfig{AnswerTimeout: 5 * time.Second, Retries: &retries}))
	cfg := &config.ServerConfig{Port: 5000, FrontendURL: "http://localhost:3000", RequestTimeout: 5 * time.Second}
	return NewServer(svc, cfg, zap.NewNop(), dbPath).Router(), store
}

func do(t *testing.T, h http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if user != "" {
		r.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// askTurn runs one streamed turn and returns the conversation id from the title event.
func askTurn(t *testing.T, h http.Handler, path, user, question string) string {
	t.Helper()
	w := do(t, h, http.MethodPost, path, user, models.AskRequest{Question: question})
	if w.Code != http.StatusOK {
		t.Fatalf("stream status: got %d, body: %s", w.Code, w.Body.String())
	}
	var id string
	if _, err := sse.Read(w.Body, func(e models.Event) error {
		if e.Type == models.EventTitle {
			id = e.ConversationID
		}
		return nil
	}); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if id == "" {
		t.Fatal("no conversation id in stream")
	}
	return id
}

func TestRequireUser(t *testing.T) {
	model := llm.NewMock()
	h, _ := newTestServer(t, model)

	for _, tt := range []struct{ method, path string }{
		{http.MethodPost, "/ask/stream"},
		{http.MethodPost, "/api/ask/stream"},
		{http.MethodGet, "/ask/conversations"},
		{http.MethodGet, "/api/ask/conversations/abc"},
		{http.MethodDelete, "/ask/conversations/abc"},
	} {
		w := do(t, h, tt.method, tt.path, "", models.AskRequest{Question: "q"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: got %d, want 400", tt.method, tt.path, w.Code)
		}
	}
	if model.Streams() != 0 || len(model.Completions()) != 0 {
		t.Error("model called without identity")
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, llm.NewMock())
	r := httptest.NewRequest(http.MethodOptions, "/ask/stream", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("status: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow credentials: %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, UserHeader) {
		t.Errorf("allow headers: %q", got)
	}
}

func TestConversationLifecycle(t *testing.T) {
	h, _ := newTestServer(t, llm.NewMock())

	id := askTurn(t, h, "/api/ask/stream", "alice", "How do I handle tantrums?")

	w := do(t, h, http.MethodGet, "/ask/conversations", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var convs []models.Conversation
	if err := json.NewDecoder(w.Body).Decode(&convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != id || len(convs[0].Messages) != 1 {
		t.Fatalf("conversations: %+v", convs)
	}

	w = do(t, h, http.MethodGet, "/ask/conversations", "bob", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("bob's list: %s", w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/ask/conversations/"+id, "bob", nil); w.Code != http.StatusNotFound {
		t.Errorf("cross-user get: got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/ask/conversations/"+id, "bob", nil); w.Code != http.StatusNotFound {
		t.Errorf("cross-user delete: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/ask/conversations/search?q=tantrums", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: got %d", w.Code)
	}
	var found struct {
		Hits []recall.Hit `json:"hits"`
	}
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found.Hits) != 1 || found.Hits[0].ConversationID != id {
		t.Errorf("search hits: %+v", found.Hits)
	}

	w = do(t, h, http.MethodGet, "/ask/conversations/search?q=tamtrunms", "alice", nil)
	var missed struct {
		Hits       []recall.Hit `json:"hits"`
		Suggestion string       `json:"suggestion"`
	}
	if err := json.NewDecoder(w.Body).Decode(&missed); err != nil {
		t.Fatal(err)
	}
	if len(missed.Hits) != 0 || missed.Suggestion != "tantrums" {
		t.Errorf("misspelled search: %+v", missed)
	}

	w = do(t, h, http.MethodDelete, "/ask/conversations/"+id, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
	var msg map[string]string
	_ = json.NewDecoder(w.Body).Decode(&msg)
	if msg["message"] == "" {
		t.Errorf("delete body: %v", msg)
	}
	if w := do(t, h, http.MethodGet, "/ask/conversations/"+id, "alice", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d", w.Code)
	}
}

func TestAskStream_UpstreamFailureBeforeStreaming(t *testing.T) {
	model := llm.NewMock()
	model.StreamErr = errors.New("openai: 401 Incorrect API key provided: sk-proj-abc***xyz")
	model.FailAfter = 0
	h, store := newTestServer(t, model)

	w := do(t, h, http.MethodPost, "/ask/stream", "alice", models.AskRequest{Question: "q"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] != "failed to get answer" {
		t.Errorf("error body: %v %v", body, err)
	}
	if n, _ := store.CountConversations(context.Background()); n != 0 {
		t.Errorf("persisted %d conversations", n)
	}
}

func TestErrorMessage(t *testing.T) {
	err := fmt.Errorf("%w: provider said sk-secret", ask.ErrUpstream)
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, err.Error()},
		{http.StatusNotFound, err.Error()},
		{http.StatusBadGateway, "failed to get answer"},
		{http.StatusGatewayTimeout, "upstream timed out"},
		{http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		if got := errorMessage(tt.status, err); got != tt.want {
			t.Errorf("errorMessage(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAskStream_BodyTooLarge(t *testing.T) {
	model := llm.NewMock()
	h, _ := newTestServer(t, model)

	history := []models.HistoryTurn{{Question: "q", Answer: strings.Repeat("a", maxAskBodyBytes)}}
	w := do(t, h, http.MethodPost, "/ask/stream", "alice", models.AskRequest{Question: "q", ConversationHistory: history})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d", w.Code)
	}
	if model.Streams() != 0 {
		t.Errorf("model called %d times for an oversized body", model.Streams())
	}
}

func TestAskStream_BadRequests(t *testing.T) {
	h, _ := newTestServer(t, llm.NewMock())

	r := httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader("{not json"))
	r.Header.Set(UserHeader, "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/ask/stream", "alice", models.AskRequest{Question: "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty question: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/ask/conversations/search", "alice", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search without q: got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/ask/conversations/search?q=x&limit=-1", "alice", nil); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, llm.NewMock())
	askTurn(t, h, "/ask/stream", "alice", "q")

	w := do(t, h, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Status        string `json:"status"`
		Conversations int64  `json:"conversations"`
		Messages      int64  `json:"messages"`
		DiskBytes     int64  `json:"diskBytes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "ok" || out.Conversations != 1 || out.Messages != 1 || out.DiskBytes == 0 {
		t.Errorf("health: %+v", out)
	}
}
