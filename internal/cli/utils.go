// Package cli formats command output for the parenting terminal client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/recall"
	"github.com/wenhaiyang6/parenting/pkg/utils"
)

// OutputFormat is the format of list output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// Styles are the terminal styles of the client.
type Styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
}

// NewStyles returns the client styles. plain disables all decoration.
func NewStyles(plain bool) Styles {
	if plain {
		s := lipgloss.NewStyle()
		return Styles{Title: s, Muted: s, Accent: s, Error: s, Success: s}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Italic(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true),
	}
}

// WriteConversations writes a conversation list to w in the given format.
func WriteConversations(w io.Writer, convs []models.Conversation, format OutputFormat, st Styles) error {
	if format == OutputJSON {
		return writeJSON(w, convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, st.Muted.Render("No conversations yet."))
		return nil
	}
	for _, c := range convs {
		title := c.Title
		if title == "" && len(c.Messages) > 0 {
			title = utils.TruncateWords(c.Messages[0].Text, 8)
		}
		fmt.Fprintln(w, st.Title.Render(title))
		fmt.Fprintf(w, "  %s\n", st.Muted.Render(fmt.Sprintf("%s | %d %s | updated %s",
			c.ID, len(c.Messages), plural(len(c.Messages), "turn", "turns"), c.UpdatedAt.Local().Format(time.DateTime))))
	}
	return nil
}

// WriteSearchHits writes recall results to w in the given format.
func WriteSearchHits(w io.Writer, query string, hits []recall.Hit, format OutputFormat, st Styles) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"query": query, "hits": hits})
	}
	fmt.Fprintf(w, "\nFound %d %s for %q\n\n", len(hits), plural(len(hits), "turn", "turns"), query)
	for _, h := range hits {
		fmt.Fprintln(w, strings.Repeat("─", 57))
		fmt.Fprintf(w, "%s %s\n", st.Title.Render(h.Question), st.Muted.Render(fmt.Sprintf("(score %.3f)", h.Score)))
		fmt.Fprintf(w, "Conversation: %s", h.ConversationID)
		if h.Title != "" {
			fmt.Fprintf(w, " | %s", h.Title)
		}
		fmt.Fprintln(w)
		if h.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", h.Snippet)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSuggestion prints a "did you mean" line; nothing when suggestion is empty.
func WriteSuggestion(w io.Writer, suggestion string, st Styles) {
	if suggestion == "" {
		return
	}
	fmt.Fprintf(w, "Did you mean %s?\n", st.Accent.Render(suggestion))
}

// WriteFollowUps lists suggested next questions.
func WriteFollowUps(w io.Writer, questions []string, st Styles) {
	if len(questions) == 0 {
		return
	}
	fmt.Fprintln(w, st.Muted.Render("Related questions:"))
	for i, q := range questions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, st.Accent.Render(q))
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
