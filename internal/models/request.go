package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQuestionLength caps a single question in characters.
	MaxQuestionLength = 4000
	// MaxHistoryTurns is the number of prior turns forwarded to the LLM.
	MaxHistoryTurns = 10
)

// HistoryTurn is one prior question/answer pair sent by the client.
type HistoryTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// AskRequest is the body of POST /ask/stream.
type AskRequest struct {
	Question            string        `json:"question"`
	ConversationID      string        `json:"conversationId,omitempty"`
	ConversationHistory []HistoryTurn `json:"conversationHistory,omitempty"`
}

// Validate trims the question, rejects empty or oversized questions, and keeps only the
// most recent MaxHistoryTurns of history.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if utf8.RuneCountInString(r.Question) > MaxQuestionLength {
		return fmt.Errorf("question exceeds %d characters", MaxQuestionLength)
	}
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	if n := len(r.ConversationHistory); n > MaxHistoryTurns {
		r.ConversationHistory = r.ConversationHistory[n-MaxHistoryTurns:]
	}
	return nil
}

// RecentQuestions returns up to n of the most recent prior questions, oldest first.
func (r *AskRequest) RecentQuestions(n int) []string {
	var out []string
	start := len(r.ConversationHistory) - n
	if start < 0 {
		start = 0
	}
	for _, t := range r.ConversationHistory[start:] {
		if q := strings.TrimSpace(t.Question); q != "" {
			out = append(out, q)
		}
	}
	return out
}
