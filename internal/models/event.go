package models

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates stream events.
type EventType string

const (
	EventTitle     EventType = "title"
	EventSearching EventType = "searching"
	EventContent   EventType = "content"
	EventFollowUp  EventType = "followUp"
)

// Event is one server-sent event payload. Only the fields relevant to Type are set.
type Event struct {
	Type           EventType `json:"type"`
	Title          string    `json:"title,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SearchQuery    string    `json:"searchQuery,omitempty"`
	Content        string    `json:"content,omitempty"`
	Sources        []Source  `json:"sources,omitempty"`
	Questions      []string  `json:"questions,omitempty"`
}

// MarshalJSON emits exactly the fields of the event's type. Content events always
// carry a sources array, even an empty one.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTitle:
		return json.Marshal(struct {
			Type           EventType `json:"type"`
			Title          string    `json:"title"`
			ConversationID string    `json:"conversationId,omitempty"`
		}{e.Type, e.Title, e.ConversationID})
	case EventSearching:
		return json.Marshal(struct {
			Type        EventType `json:"type"`
			SearchQuery string    `json:"searchQuery"`
		}{e.Type, e.SearchQuery})
	case EventContent:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
			Sources []Source  `json:"sources"`
		}{e.Type, e.Content, sources})
	case EventFollowUp:
		questions := e.Questions
		if questions == nil {
			questions = []string{}
		}
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Questions []string  `json:"questions"`
		}{e.Type, questions})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// TitleEvent announces the conversation title and its server-generated id.
func TitleEvent(conversationID, title string) Event {
	return Event{Type: EventTitle, Title: title, ConversationID: conversationID}
}

// SearchingEvent reports the keyword query sent to the search provider.
func SearchingEvent(query string) Event {
	return Event{Type: EventSearching, SearchQuery: query}
}

// ContentEvent carries one answer delta and the turn's source list.
func ContentEvent(delta string, sources []Source) Event {
	return Event{Type: EventContent, Content: delta, Sources: sources}
}

// FollowUpEvent carries suggested next questions.
func FollowUpEvent(questions []string) Event {
	return Event{Type: EventFollowUp, Questions: questions}
}
