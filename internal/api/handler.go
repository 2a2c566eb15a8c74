// Package api provides the HTTP surface of the tutoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/socratic-dev/socratic/internal/llm/invoker"
	"github.com/socratic-dev/socratic/internal/observability"
	"github.com/socratic-dev/socratic/internal/tutor"
	metrics "github.com/socratic-dev/socratic/pkg/observability"
	"github.com/socratic-dev/socratic/pkg/security"
	"github.com/socratic-dev/socratic/pkg/session"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Tutor is the service surface the handlers need.
type Tutor interface {
	StartSession(ctx context.Context, topic, learningContext string) (*tutor.TurnResult, error)
	Respond(ctx context.Context, sessionID, answer string) (*tutor.TurnResult, error)
	Hint(ctx context.Context, sessionID string) (string, *session.Session, error)
	EndSession(ctx context.Context, sessionID string) (*session.Session, *session.Stats, error)
	SuggestTopics(ctx context.Context, interests string) ([]tutor.TopicSuggestion, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context) ([]*session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*session.Stats, error)
}

// Handler holds the API handlers.
type Handler struct {
	svc Tutor
}

// NewHandler creates a new Handler.
func NewHandler(svc Tutor) *Handler {
	return &Handler{svc: svc}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success": false, "error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes a success envelope with the given payload fields.
func OK(w http.ResponseWriter, payload map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	JSON(w, http.StatusOK, body)
}

// Error writes a JSON error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// writeError maps service errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var cfgErr *invoker.ConfigError
	var exhErr *invoker.ExhaustedError

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, tutor.ErrSessionEnded):
		Error(w, http.StatusConflict, "Session has already ended")
	case errors.As(err, &cfgErr):
		Error(w, http.StatusInternalServerError, cfgErr.Error())
	case errors.As(err, &exhErr):
		Error(w, http.StatusBadGateway, exhErr.Error())
	default:
		log.Printf("[api] internal error: %v", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// StartSession starts a new Socratic learning session.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic   string `json:"topic"`
		Context string `json:"context"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := security.ValidateTopic(req.Topic); err != nil {
		Error(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if err := security.ValidateContext(req.Context); err != nil {
		Error(w, http.StatusBadRequest, "Context is too long")
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "session.start")
	defer span.End()

	res, err := h.svc.StartSession(ctx, req.Topic, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	span.SetAttributes(observability.SessionAttributes(res.Session.ID, res.Session.Topic)...)
	metrics.RecordSessionStarted()

	OK(w, map[string]interface{}{
		"session_id": res.Session.ID,
		"data":       res.Raw,
	})
}

// Respond submits a student response and returns the next question.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req struct {
		Response string `json:"response"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := security.ValidateResponse(req.Response); err != nil {
		Error(w, http.StatusBadRequest, "Response is required")
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "session.respond")
	defer span.End()

	res, err := h.svc.Respond(ctx, sessionID, req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	span.SetAttributes(observability.SessionAttributes(sessionID, res.Session.Topic)...)
	metrics.RecordExchange(res.Turn.UnderstandingScore)

	OK(w, map[string]interface{}{
		"data": res.Raw,
	})
}

// Hint returns a hint for the current question.
func (h *Handler) Hint(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	ctx, span := observability.StartSpan(r.Context(), "session.hint")
	defer span.End()

	hint, sess, err := h.svc.Hint(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	span.SetAttributes(observability.SessionAttributes(sessionID, sess.Topic)...)
	metrics.RecordHint()

	OK(w, map[string]interface{}{
		"data": map[string]string{"hint": hint},
	})
}

// EndSession ends a session and returns its summary.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	ctx, span := observability.StartSpan(r.Context(), "session.end")
	defer span.End()

	sess, _, err := h.svc.EndSession(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	span.SetAttributes(observability.SessionAttributes(sessionID, sess.Topic)...)
	metrics.RecordSessionEnded()

	summary := sess.Summary
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}

	OK(w, map[string]interface{}{
		"summary": summary,
		"session": sess,
	})
}

// GetSession returns session details.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	OK(w, map[string]interface{}{"session": sess})
}

// ListSessions returns all sessions, most recent first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	OK(w, map[string]interface{}{"sessions": sessions})
}

// GetStats returns overall learning statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	OK(w, map[string]interface{}{"stats": stats})
}

// Suggestions returns topic suggestions, optionally tuned to interests.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartSpan(r.Context(), "suggestions")
	defer span.End()

	suggestions, err := h.svc.SuggestTopics(ctx, r.URL.Query().Get("interests"))
	if err != nil {
		writeError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []tutor.TopicSuggestion{}
	}
	OK(w, map[string]interface{}{"suggestions": suggestions})
}

// DeleteSession deletes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	OK(w, nil)
}
