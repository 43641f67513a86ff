package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAskRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *AskRequest
		wantErr bool
	}{
		{"empty question", &AskRequest{Question: ""}, true},
		{"whitespace question", &AskRequest{Question: "   \n"}, true},
		{"valid question", &AskRequest{Question: "How much sleep does a toddler need?"}, false},
		{"too long", &AskRequest{Question: strings.Repeat("a", MaxQuestionLength+1)}, true},
		{"cjk at limit", &AskRequest{Question: strings.Repeat("睡", MaxQuestionLength)}, false},
		{"cjk over limit", &AskRequest{Question: strings.Repeat("睡", MaxQuestionLength+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAskRequest_ValidateTrimsHistory(t *testing.T) {
	req := &AskRequest{Question: " q "}
	for i := 0; i < MaxHistoryTurns+5; i++ {
		req.ConversationHistory = append(req.ConversationHistory, HistoryTurn{Question: string(rune('a' + i))})
	}
	if err := req.Validate(); err != nil {
		t.Fatal(err)
	}
	if req.Question != "q" {
		t.Errorf("question not trimmed: %q", req.Question)
	}
	if len(req.ConversationHistory) != MaxHistoryTurns {
		t.Fatalf("history len: got %d, want %d", len(req.ConversationHistory), MaxHistoryTurns)
	}
	if req.ConversationHistory[0].Question != "f" {
		t.Errorf("expected oldest kept turn to be f, got %q", req.ConversationHistory[0].Question)
	}
}

func TestAskRequest_RecentQuestions(t *testing.T) {
	req := &AskRequest{ConversationHistory: []HistoryTurn{
		{Question: "first"}, {Question: "second"}, {Question: " "}, {Question: "third"},
	}}
	got := req.RecentQuestions(2)
	if len(got) != 1 || got[0] != "third" {
		t.Errorf("RecentQuestions(2) = %v", got)
	}
	got = req.RecentQuestions(10)
	if len(got) != 3 || got[0] != "first" {
		t.Errorf("RecentQuestions(10) = %v", got)
	}
}

func TestEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"content without sources", ContentEvent("Hi", nil), `{"type":"content","content":"Hi","sources":[]}`},
		{"searching", SearchingEvent("toddler sleep"), `{"type":"searching","searchQuery":"toddler sleep"}`},
		{"title", TitleEvent("c1", "Sleep"), `{"type":"title","title":"Sleep","conversationId":"c1"}`},
		{"follow up", FollowUpEvent([]string{"a"}), `{"type":"followUp","questions":["a"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tt.want {
				t.Errorf("got %s, want %s", b, tt.want)
			}
		})
	}
}

func TestEvent_ContentHidesPassage(t *testing.T) {
	date := "Jan 2, 2024"
	ev := ContentEvent("x", []Source{{Title: "T", Link: "https://a", Date: &date, Passage: "secret"}})
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "secret") {
		t.Errorf("passage leaked: %s", b)
	}
	if !strings.Contains(string(b), `"date":"Jan 2, 2024"`) {
		t.Errorf("date missing: %s", b)
	}
}

func TestConversation_OwnedBy(t *testing.T) {
	c := &Conversation{UserID: "u1"}
	if !c.OwnedBy("u1") {
		t.Error("expected owner")
	}
	if c.OwnedBy("u2") || c.OwnedBy("") {
		t.Error("unexpected owner match")
	}
	var nilConv *Conversation
	if nilConv.OwnedBy("u1") {
		t.Error("nil conversation has no owner")
	}
}
