// Package models defines core data structures for conversations, turns, and sources.
package models

import "time"

// Source is one external reference used both as LLM grounding context and as a citation.
type Source struct {
	Title string `json:"title" bson:"title"`
	Link  string `json:"link" bson:"link"`
	// Date is display-formatted; nil when the provider exposed no usable date.
	Date *string `json:"date" bson:"date,omitempty"`
	// Passage is grounding context for the LLM only. It is never sent to clients
	// and never persisted.
	Passage string `json:"-" bson:"-"`
}

// Message is one question/answer turn.
type Message struct {
	ID                string   `json:"id" bson:"id"`
	Text              string   `json:"text" bson:"text"`
	Answer            string   `json:"answer" bson:"answer"`
	Timestamp         string   `json:"timestamp" bson:"timestamp"`
	Sources           []Source `json:"sources,omitempty" bson:"sources,omitempty"`
	FollowUpQuestions []string `json:"followUpQuestions,omitempty" bson:"follow_up_questions,omitempty"`
}

// Conversation is an ordered, append-only sequence of turns owned by one user.
type Conversation struct {
	ID        string    `json:"id" bson:"id"`
	UserID    string    `json:"userId" bson:"user_id"`
	Title     string    `json:"title,omitempty" bson:"title,omitempty"`
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// History returns the conversation as question/answer pairs in creation order.
func (c *Conversation) History() []HistoryTurn {
	turns := make([]HistoryTurn, 0, len(c.Messages))
	for _, m := range c.Messages {
		turns = append(turns, HistoryTurn{Question: m.Text, Answer: m.Answer})
	}
	return turns
}

// OwnedBy reports whether userID owns the conversation.
func (c *Conversation) OwnedBy(userID string) bool {
	return c != nil && userID != "" && c.UserID == userID
}
