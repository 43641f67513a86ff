// Package client is the HTTP client of the ask API used by the terminal commands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/recall"
	"github.com/wenhaiyang6/parenting/internal/sse"
)

const (
	// UserHeader carries the client identity.
	UserHeader = "X-User-ID"
	// DefaultTimeout bounds non-streaming calls made by the CLI.
	DefaultTimeout = 30 * time.Second
)

// ErrBusy is returned when AskStream is called while another ask is in flight.
var ErrBusy = errors.New("another question is still being answered")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// NotFound reports whether err is a 404 from the server.
func NotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to one server as one user.
type Client struct {
	baseURL  string
	userID   string
	http     *http.Client
	inFlight atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL sending userID on every request.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		// No overall timeout: answer streams are long-lived. Callers bound them with ctx.
		http: &http.Client{Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handlers receive stream events as they arrive. Nil handlers are skipped.
type Handlers struct {
	OnTitle     func(conversationID, title string)
	OnSearching func(query string)
	OnContent   func(delta string)
	OnFollowUp  func(questions []string)
}

// Answer is the assembled result of a stream.
type Answer struct {
	ConversationID string
	Title          string
	SearchQuery    string
	Text           string
	Sources        []models.Source
	FollowUps      []string
	// Truncated is set when the server closed the stream before the done sentinel.
	Truncated bool
	// Skipped counts malformed events that were ignored.
	Skipped int
}

// AskStream posts req and consumes the answer stream. Only one ask may be in flight per
// client.
func (c *Client) AskStream(ctx context.Context, req models.AskRequest, h Handlers) (*Answer, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.inFlight.Store(false)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/ask/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ans := &Answer{ConversationID: req.ConversationID}
	var text strings.Builder
	stats, err := sse.Read(resp.Body, func(e models.Event) error {
		switch e.Type {
		case models.EventTitle:
			ans.Title = e.Title
			if e.ConversationID != "" {
				ans.ConversationID = e.ConversationID
			}
			if h.OnTitle != nil {
				h.OnTitle(ans.ConversationID, e.Title)
			}
		case models.EventSearching:
			ans.SearchQuery = e.SearchQuery
			if h.OnSearching != nil {
				h.OnSearching(e.SearchQuery)
			}
		case models.EventContent:
			text.WriteString(e.Content)
			if e.Sources != nil {
				ans.Sources = e.Sources
			}
			if h.OnContent != nil {
				h.OnContent(e.Content)
			}
		case models.EventFollowUp:
			ans.FollowUps = e.Questions
			if h.OnFollowUp != nil {
				h.OnFollowUp(e.Questions)
			}
		}
		return nil
	})
	ans.Text = text.String()
	ans.Skipped = stats.Skipped
	if errors.Is(err, sse.ErrTruncated) {
		ans.Truncated = true
		return ans, nil
	}
	if err != nil {
		return ans, fmt.Errorf("read answer stream: %w", err)
	}
	return ans, nil
}

// InFlight reports whether an ask is running.
func (c *Client) InFlight() bool {
	return c.inFlight.Load()
}

// Conversations lists the user's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	return out, c.getJSON(ctx, "/ask/conversations", &out)
}

// Conversation fetches one conversation.
func (c *Client) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.getJSON(ctx, "/ask/conversations/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a conversation.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/ask/conversations/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SearchResult is the response of a recall search.
type SearchResult struct {
	Hits []recall.Hit `json:"hits"`
	// Suggestion is a corrected query, set only when nothing matched.
	Suggestion string `json:"suggestion,omitempty"`
}

// Search runs a full-text search over the user's past turns.
func (c *Client) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out SearchResult
	if err := c.getJSON(ctx, "/ask/conversations/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	return out, c.getJSON(ctx, "/health", &out)
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return nil, apiErr
}
