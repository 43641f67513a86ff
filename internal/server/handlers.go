package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wenhaiyang6/parenting/internal/ask"
	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/sse"
	"github.com/wenhaiyang6/parenting/internal/storage"
)

// maxAskBodyBytes bounds the ask request body, history included.
const maxAskBodyBytes = 1 << 20

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	body := http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sw, err := sse.NewWriter(w)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	turn, err := s.ask.Ask(r.Context(), userID(r), &req, sw)
	if err != nil {
		if sw.Committed() {
			s.logger.Error("ask stream failed after commit", zap.Error(err))
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("ask failed", zap.Error(err))
		}
		s.respondError(w, status, errorMessage(status, err))
		return
	}
	s.logger.Debug("ask stream finished",
		zap.String("conversation_id", turn.ConversationID),
		zap.Bool("partial", turn.Partial))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.ask.Conversations(r.Context(), userID(r))
	if err != nil {
		s.fail(w, "list conversations failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.ask.Conversation(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get conversation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete conversation request", zap.String("id", id))
	if err := s.ask.Delete(r.Context(), userID(r), id); err != nil {
		s.fail(w, "delete conversation failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

func (s *Server) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	hits, err := s.ask.Search(r.Context(), userID(r), q, limit)
	if err != nil {
		s.fail(w, "search conversations failed", err)
		return
	}
	body := map[string]interface{}{"query": q, "hits": hits}
	if len(hits) == 0 {
		suggestion, err := s.ask.Suggest(r.Context(), userID(r), q)
		if err != nil {
			s.logger.Warn("search suggestion failed", zap.Error(err))
		} else if suggestion != "" {
			body["suggestion"] = suggestion
		}
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	usage, err := s.ask.Usage(r.Context(), s.diskPaths...)
	if err != nil {
		s.logger.Error("health: usage report failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"conversations": usage.Conversations,
		"messages":      usage.Messages,
		"diskBytes":     usage.DiskBytes,
	})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	}
	s.respondError(w, status, errorMessage(status, err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ask.ErrMissingUser), errors.Is(err, ask.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ask.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal and upstream error text behind fixed messages; the wrapped
// error is logged instead.
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusBadGateway:
		return "failed to get answer"
	case http.StatusGatewayTimeout:
		return "upstream timed out"
	}
	return err.Error()
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
