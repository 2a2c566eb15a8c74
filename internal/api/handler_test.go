package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socratic-dev/socratic/internal/dialogue"
	"github.com/socratic-dev/socratic/internal/llm/invoker"
	"github.com/socratic-dev/socratic/internal/tutor"
	"github.com/socratic-dev/socratic/pkg/security"
	"github.com/socratic-dev/socratic/pkg/session"
)

type fakeTutor struct {
	startResult   *tutor.TurnResult
	startErr      error
	respondResult *tutor.TurnResult
	respondErr    error
	hint          string
	hintErr       error
	endSession    *session.Session
	endStats      *session.Stats
	endErr        error
	sessions      map[string]*session.Session
	stats         *session.Stats
	suggestions   []tutor.TopicSuggestion
	deleted       []string

	lastTopic    string
	lastContext  string
	lastResponse string
}

func (f *fakeTutor) StartSession(_ context.Context, topic, learningContext string) (*tutor.TurnResult, error) {
	f.lastTopic, f.lastContext = topic, learningContext
	return f.startResult, f.startErr
}

func (f *fakeTutor) Respond(_ context.Context, sessionID, answer string) (*tutor.TurnResult, error) {
	f.lastResponse = answer
	if f.respondErr != nil {
		return nil, f.respondErr
	}
	if _, ok := f.sessions[sessionID]; !ok && f.respondResult == nil {
		return nil, session.ErrSessionNotFound
	}
	return f.respondResult, nil
}

func (f *fakeTutor) Hint(_ context.Context, sessionID string) (string, *session.Session, error) {
	if f.hintErr != nil {
		return "", nil, f.hintErr
	}
	return f.hint, &session.Session{ID: sessionID, Topic: "recursion"}, nil
}

func (f *fakeTutor) EndSession(_ context.Context, sessionID string) (*session.Session, *session.Stats, error) {
	return f.endSession, f.endStats, f.endErr
}

func (f *fakeTutor) SuggestTopics(_ context.Context, interests string) ([]tutor.TopicSuggestion, error) {
	return f.suggestions, nil
}

func (f *fakeTutor) GetSession(_ context.Context, id string) (*session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeTutor) ListSessions(_ context.Context) ([]*session.Session, error) {
	var out []*session.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeTutor) DeleteSession(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTutor) GetStats(_ context.Context) (*session.Stats, error) {
	if f.stats == nil {
		return &session.Stats{}, nil
	}
	return f.stats, nil
}

func serve(t *testing.T, svc Tutor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(NewHandler(svc), nil)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func turnResult(id string) *tutor.TurnResult {
	raw := json.RawMessage(`{"question":"What is a base case?","understanding_score":40,"difficulty_level":"foundational"}`)
	return &tutor.TurnResult{
		Session: &session.Session{ID: id, Topic: "recursion", IsActive: true},
		Turn:    dialogue.DecodeTurn(raw),
		Raw:     raw,
		Model:   "gemini-2.0-flash",
	}
}

func TestStartSession(t *testing.T) {
	svc := &fakeTutor{startResult: turnResult("sess-1")}
	rec := serve(t, svc, http.MethodPost, "/api/session/start", `{"topic":"recursion","context":"CS intro"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `true`, string(body["success"]))
	assert.JSONEq(t, `"sess-1"`, string(body["session_id"]))
	assert.Contains(t, string(body["data"]), "What is a base case?")
	assert.Equal(t, "recursion", svc.lastTopic)
	assert.Equal(t, "CS intro", svc.lastContext)
}

func TestStartSession_MissingTopic(t *testing.T) {
	svc := &fakeTutor{}
	rec := serve(t, svc, http.MethodPost, "/api/session/start", `{"topic":"  "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `false`, string(body["success"]))
	assert.JSONEq(t, `"Topic is required"`, string(body["error"]))
}

func TestStartSession_BadJSON(t *testing.T) {
	rec := serve(t, &fakeTutor{}, http.MethodPost, "/api/session/start", `{"topic":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSession_ModelsExhausted(t *testing.T) {
	svc := &fakeTutor{startErr: &invoker.ExhaustedError{Models: []string{"gemini-2.0-flash"}}}
	rec := serve(t, svc, http.MethodPost, "/api/session/start", `{"topic":"recursion"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, string(body["error"]), "gemini-2.0-flash")
}

func TestRespond(t *testing.T) {
	svc := &fakeTutor{respondResult: turnResult("sess-1")}
	rec := serve(t, svc, http.MethodPost, "/api/session/sess-1/respond", `{"response":"It stops the recursion."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `true`, string(body["success"]))
	assert.Equal(t, "It stops the recursion.", svc.lastResponse)
}

func TestRespond_MissingResponse(t *testing.T) {
	rec := serve(t, &fakeTutor{}, http.MethodPost, "/api/session/sess-1/respond", `{"response":""}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `"Response is required"`, string(body["error"]))
}

func TestRespond_UnknownSession(t *testing.T) {
	svc := &fakeTutor{respondErr: session.ErrSessionNotFound}
	rec := serve(t, svc, http.MethodPost, "/api/session/nope/respond", `{"response":"hello"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespond_EndedSession(t *testing.T) {
	svc := &fakeTutor{respondErr: tutor.ErrSessionEnded}
	rec := serve(t, svc, http.MethodPost, "/api/session/sess-1/respond", `{"response":"hello"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHint(t *testing.T) {
	svc := &fakeTutor{hint: "Think about what stops the calls."}
	rec := serve(t, svc, http.MethodPost, "/api/session/sess-1/hint", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `{"hint":"Think about what stops the calls."}`, string(body["data"]))
}

func TestEndSession(t *testing.T) {
	sess := &session.Session{
		ID:      "sess-1",
		Topic:   "recursion",
		Summary: json.RawMessage(`{"overall_understanding":80}`),
	}
	svc := &fakeTutor{endSession: sess, endStats: &session.Stats{TotalSessions: 1}}
	rec := serve(t, svc, http.MethodPost, "/api/session/sess-1/end", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `{"overall_understanding":80}`, string(body["summary"]))
	assert.Contains(t, string(body["session"]), `"sess-1"`)
}

func TestEndSession_NoSummary(t *testing.T) {
	svc := &fakeTutor{endSession: &session.Session{ID: "sess-1"}}
	rec := serve(t, svc, http.MethodPost, "/api/session/sess-1/end", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `{}`, string(body["summary"]))
}

func TestGetSession_NotFound(t *testing.T) {
	rec := serve(t, &fakeTutor{}, http.MethodGet, "/api/session/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `"Session not found"`, string(body["error"]))
}

func TestListSessions_Empty(t *testing.T) {
	rec := serve(t, &fakeTutor{}, http.MethodGet, "/api/sessions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `[]`, string(body["sessions"]))
}

func TestGetStats(t *testing.T) {
	svc := &fakeTutor{stats: &session.Stats{TotalSessions: 3, StreakDays: 2}}
	rec := serve(t, svc, http.MethodGet, "/api/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, string(body["stats"]), `"total_sessions":3`)
}

func TestSuggestions(t *testing.T) {
	svc := &fakeTutor{suggestions: []tutor.TopicSuggestion{
		{Topic: "Goroutines", Description: "Concurrency in Go", Category: "programming", Difficulty: "intermediate"},
	}}
	rec := serve(t, svc, http.MethodGet, "/api/suggestions?interests=go", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, string(body["suggestions"]), "Goroutines")
}

func TestDeleteSession(t *testing.T) {
	svc := &fakeTutor{sessions: map[string]*session.Session{"sess-1": {ID: "sess-1"}}}
	rec := serve(t, svc, http.MethodDelete, "/api/session/sess-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"sess-1"}, svc.deleted)
}

func TestNotFoundRoute(t *testing.T) {
	rec := serve(t, &fakeTutor{}, http.MethodGet, "/api/nope", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `false`, string(body["success"]))
}

func TestRateLimit(t *testing.T) {
	router := NewRouter(NewHandler(&fakeTutor{}), security.NewRateLimiter(1, 1))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
