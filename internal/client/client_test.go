package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wenhaiyang6/parenting/internal/models"
)

func writeEvents(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		w.(http.Flusher).Flush()
	}
}

func TestAskStream_AssemblesAnswer(t *testing.T) {
	var gotUser string
	var gotReq models.AskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ask/stream" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotUser = r.Header.Get(UserHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		writeEvents(w,
			`{"type":"title","title":"Sleep","conversationId":"c1"}`,
			`{"type":"searching","searchQuery":"toddler sleep"}`,
			`{"type":"content","content":"Toddlers ","sources":[{"title":"A","link":"https://a","date":null}]}`,
			`{not json`,
			`{"type":"content","content":"need sleep [1].","sources":[{"title":"A","link":"https://a","date":null}]}`,
			`{"type":"followUp","questions":["Naps?"]}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "v1_user")
	var deltas []string
	var titleID string
	ans, err := c.AskStream(context.Background(), models.AskRequest{Question: "How much sleep?"}, Handlers{
		OnTitle:   func(id, _ string) { titleID = id },
		OnContent: func(d string) { deltas = append(deltas, d) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotUser != "v1_user" || gotReq.Question != "How much sleep?" {
		t.Errorf("request: user=%q req=%+v", gotUser, gotReq)
	}
	if ans.ConversationID != "c1" || titleID != "c1" || ans.Title != "Sleep" {
		t.Errorf("title: %+v", ans)
	}
	if ans.Text != "Toddlers need sleep [1]." {
		t.Errorf("text = %q", ans.Text)
	}
	if diff := cmp.Diff([]string{"Toddlers ", "need sleep [1]."}, deltas); diff != "" {
		t.Errorf("deltas (-want +got):\n%s", diff)
	}
	if ans.Skipped != 1 || ans.Truncated {
		t.Errorf("skipped=%d truncated=%v", ans.Skipped, ans.Truncated)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].Link != "https://a" {
		t.Errorf("sources = %+v", ans.Sources)
	}
	if diff := cmp.Diff([]string{"Naps?"}, ans.FollowUps); diff != "" {
		t.Errorf("follow-ups (-want +got):\n%s", diff)
	}
	if c.InFlight() {
		t.Error("in-flight flag not released")
	}
}

func TestAskStream_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"type":"content","content":"partial","sources":[]}`)
	}))
	defer srv.Close()

	ans, err := New(srv.URL, "u").AskStream(context.Background(), models.AskRequest{Question: "q", ConversationID: "c9"}, Handlers{})
	if err != nil {
		t.Fatal(err)
	}
	if !ans.Truncated || ans.Text != "partial" || ans.ConversationID != "c9" {
		t.Errorf("answer = %+v", ans)
	}
}

func TestAskStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"answer model unavailable"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "u")
	_, err := c.AskStream(context.Background(), models.AskRequest{Question: "q"}, Handlers{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway || apiErr.Message != "answer model unavailable" {
		t.Fatalf("err = %v", err)
	}
	if c.InFlight() {
		t.Error("in-flight flag not released after error")
	}
}

func TestAskStream_OneAtATime(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		writeEvents(w, `[DONE]`)
	}))
	defer srv.Close()

	c := New(srv.URL, "u")
	done := make(chan error, 1)
	go func() {
		_, err := c.AskStream(context.Background(), models.AskRequest{Question: "q"}, Handlers{})
		done <- err
	}()
	<-started
	if _, err := c.AskStream(context.Background(), models.AskRequest{Question: "q"}, Handlers{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second ask: err = %v, want ErrBusy", err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first ask did not finish")
	}
}

func TestConversationCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Conversation{{ID: "c1", UserID: r.Header.Get(UserHeader)}})
	})
	mux.HandleFunc("/ask/conversations/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "slep" {
			_, _ = fmt.Fprint(w, `{"query":"slep","hits":[],"suggestion":"sleep"}`)
			return
		}
		_, _ = fmt.Fprintf(w, `{"query":%q,"hits":[{"conversationId":"c1","question":"q"}]}`, q)
	})
	mux.HandleFunc("/ask/conversations/c1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"message":"Conversation deleted"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.Conversation{ID: "c1"})
	})
	mux.HandleFunc("/ask/conversations/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"conversation not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, "alice")

	convs, err := c.Conversations(ctx)
	if err != nil || len(convs) != 1 || convs[0].UserID != "alice" {
		t.Fatalf("Conversations: %+v %v", convs, err)
	}
	if conv, err := c.Conversation(ctx, "c1"); err != nil || conv.ID != "c1" {
		t.Errorf("Conversation: %+v %v", conv, err)
	}
	if _, err := c.Conversation(ctx, "missing"); !NotFound(err) {
		t.Errorf("missing: err = %v", err)
	}
	if err := c.Delete(ctx, "c1"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := c.Delete(ctx, "missing"); !NotFound(err) {
		t.Errorf("Delete missing: err = %v", err)
	}
	res, err := c.Search(ctx, "sleep", 5)
	if err != nil || len(res.Hits) != 1 || res.Hits[0].ConversationID != "c1" {
		t.Errorf("Search: %+v %v", res, err)
	}
	res, err = c.Search(ctx, "slep", 5)
	if err != nil || len(res.Hits) != 0 || res.Suggestion != "sleep" {
		t.Errorf("Search suggestion: %+v %v", res, err)
	}
}
