// Package tutor orchestrates Socratic learning sessions: it builds prompts,
// runs model calls through the paced scheduler and fallback invoker, folds
// the structured replies into session state, and persists through the
// session store. All retry and fallback policy lives below in the invoker;
// the service only sees a final success or a final aggregated failure.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/socratic-dev/socratic/internal/dialogue"
	"github.com/socratic-dev/socratic/internal/llm/invoker"
	"github.com/socratic-dev/socratic/internal/llm/provider"
	"github.com/socratic-dev/socratic/internal/prompt"
	"github.com/socratic-dev/socratic/pkg/observability"
	"github.com/socratic-dev/socratic/pkg/session"
)

// ErrSessionEnded is returned when operating on a session that is no longer
// active.
var ErrSessionEnded = errors.New("session has already ended")

// Invoker runs one logical model call with fallback. Satisfied by
// *invoker.Invoker.
type Invoker interface {
	Invoke(ctx context.Context, candidates []invoker.Candidate, req provider.CompletionRequest) (json.RawMessage, string, error)
}

// Scheduler serializes model calls process-wide. Satisfied by
// *scheduler.Scheduler.
type Scheduler interface {
	Enqueue(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the tutoring operations against a store and a model stack.
type Service struct {
	store      session.Store
	sched      Scheduler
	inv        Invoker
	candidates []invoker.Candidate

	temperature float64
	maxTokens   int

	newID func() string
	now   func() time.Time
}

// Option tweaks a Service, mainly for tests.
type Option func(*Service)

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the wall clock.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithSampling sets the base temperature for dialogue calls and the token
// bound for every completion. Zero values keep the defaults. Summary and
// suggestion calls keep their per-call temperatures.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(s *Service) {
		if temperature != 0 {
			s.temperature = temperature
		}
		if maxTokens != 0 {
			s.maxTokens = maxTokens
		}
	}
}

// New creates a tutoring service. candidates is the model preference order
// handed to the invoker on every call.
func New(store session.Store, sched Scheduler, inv Invoker, candidates []invoker.Candidate, opts ...Option) *Service {
	s := &Service{
		store:      store,
		sched:      sched,
		inv:        inv,
		candidates: candidates,

		temperature: prompt.DialogueTemperature,
		maxTokens:   prompt.MaxTokens,

		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TurnResult is the outcome of one successful tutoring turn.
type TurnResult struct {
	Session *session.Session
	Turn    dialogue.TurnPayload
	Raw     json.RawMessage
	Model   string
}

// TopicSuggestion is one proposed topic from SuggestTopics.
type TopicSuggestion struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Difficulty  string `json:"difficulty"`
}

// invoke runs one prompt through the scheduler slot and the fallback chain.
func (s *Service) invoke(ctx context.Context, req prompt.Request) (json.RawMessage, string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.temperature
	}
	creq := provider.CompletionRequest{
		Messages:     make([]provider.Message, 0, len(req.Messages)+1),
		Temperature:  temperature,
		MaxTokens:    s.maxTokens,
		JSONResponse: true,
	}
	creq.Messages = append(creq.Messages, provider.Message{Role: "system", Content: req.System})
	creq.Messages = append(creq.Messages, req.Messages...)

	var raw json.RawMessage
	var model string
	start := time.Now()
	err := s.sched.Enqueue(ctx, func(ctx context.Context) error {
		var ierr error
		raw, model, ierr = s.inv.Invoke(ctx, s.candidates, creq)
		return ierr
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	label := model
	if label == "" {
		label = "none"
	}
	observability.RecordModelCall(label, outcome, time.Since(start))

	return raw, model, err
}

// StartSession asks the model for the opening question on a topic and, on
// success, creates the session with the question as its first turn. The
// opening question counts as exchange one and seeds the score and difficulty.
func (s *Service) StartSession(ctx context.Context, topic, learningContext string) (*TurnResult, error) {
	raw, model, err := s.invoke(ctx, prompt.StartSession(topic, learningContext))
	if err != nil {
		return nil, err
	}
	turn := dialogue.DecodeTurn(raw)
	state := dialogue.Reduce(dialogue.State{}, turn)

	id := s.newID()
	if _, err := s.store.Create(ctx, id, topic, learningContext); err != nil {
		return nil, err
	}

	upd := stateUpdate(state)
	upd.Conversation = []session.Turn{session.AssistantTurn(raw)}
	upd.Exchanges = []session.Exchange{{
		Number:             1,
		Timestamp:          s.now(),
		Question:           turn.Question,
		DifficultyLevel:    turn.DifficultyLevel,
		UnderstandingScore: turn.UnderstandingScore,
	}}
	sess, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	log.Printf("[tutor] session %s started on %q via %s", id, topic, model)
	return &TurnResult{Session: sess, Turn: turn, Raw: raw, Model: model}, nil
}

// Respond submits a student answer and returns the next question.
//
// The user turn is persisted before the model call is attempted, so a failed
// call never loses the student's input; only the assistant reply is at risk
// and the conversation stays queryable and resumable.
func (s *Service) Respond(ctx context.Context, sessionID, answer string) (*TurnResult, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrSessionEnded
	}

	history := historyOf(sess)

	withUser := append(append([]session.Turn(nil), sess.Conversation...), session.UserTurn(answer))
	if _, err := s.store.Update(ctx, sessionID, session.Update{Conversation: withUser}); err != nil {
		return nil, err
	}

	raw, model, err := s.invoke(ctx, prompt.Continue(sess.Topic, history, answer))
	if err != nil {
		return nil, err
	}
	turn := dialogue.DecodeTurn(raw)

	state := stateOf(sess)
	state = dialogue.Reduce(state, turn)

	// one complete update carrying every changed field at once
	upd := stateUpdate(state)
	upd.Conversation = append(withUser, session.AssistantTurn(raw))
	upd.Exchanges = nextExchanges(sess, turn, answer, s.now())

	updated, err := s.store.Update(ctx, sessionID, upd)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Session: updated, Turn: turn, Raw: raw, Model: model}, nil
}

// Hint asks for a nudge on the question the student is currently stuck on
// and records its use against the session and the open exchange.
func (s *Service) Hint(ctx context.Context, sessionID string) (string, *session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	if !sess.IsActive {
		return "", nil, ErrSessionEnded
	}

	current := currentQuestion(sess)
	raw, _, err := s.invoke(ctx, prompt.Hint(sess.Topic, historyOf(sess), current))
	if err != nil {
		return "", nil, err
	}

	var payload struct {
		Hint string `json:"hint"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, err
	}

	hints := sess.HintsUsed + 1
	upd := session.Update{HintsUsed: &hints}
	if n := len(sess.Exchanges); n > 0 {
		exchanges := append([]session.Exchange(nil), sess.Exchanges...)
		exchanges[n-1].HintUsed = true
		exchanges[n-1].HintText = payload.Hint
		upd.Exchanges = exchanges
	}
	updated, err := s.store.Update(ctx, sessionID, upd)
	if err != nil {
		return "", nil, err
	}
	return payload.Hint, updated, nil
}

// EndSession closes a session and folds it into the aggregate stats. The
// summary call is best effort: a failed summary still ends the session, it
// just leaves Summary empty and the running-max score in place.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*session.Session, *session.Stats, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.IsActive {
		return nil, nil, ErrSessionEnded
	}

	now := s.now()
	inactive := false
	upd := session.Update{EndedAt: &now, IsActive: &inactive}

	raw, _, err := s.invoke(ctx, prompt.Summary(sess.Topic, historyOf(sess)))
	if err != nil {
		log.Printf("[tutor] summary for session %s failed, closing without one: %v", sessionID, err)
	} else {
		upd.Summary = raw
		sum := dialogue.DecodeSummary(raw)
		if sum.OverallUnderstanding != nil {
			// holistic judgment overwrites the running max
			upd.FinalUnderstandingScore = sum.OverallUnderstanding
		}
	}

	updated, err := s.store.Update(ctx, sessionID, upd)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.store.UpdateStatsOnEnd(ctx, updated)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[tutor] session %s ended after %d exchanges", sessionID, updated.TotalExchanges)
	return updated, stats, nil
}

// SuggestTopics asks for six topics, optionally biased by interests.
func (s *Service) SuggestTopics(ctx context.Context, interests string) ([]TopicSuggestion, error) {
	raw, _, err := s.invoke(ctx, prompt.Suggestions(interests))
	if err != nil {
		return nil, err
	}
	var payload struct {
		Suggestions []TopicSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload.Suggestions, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.store.Get(ctx, id)
}

// ListSessions returns every session, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return s.store.ListAll(ctx)
}

// DeleteSession removes a session.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// GetStats returns the process-wide aggregate.
func (s *Service) GetStats(ctx context.Context) (*session.Stats, error) {
	return s.store.GetStats(ctx)
}

// stateOf rebuilds the reducer state from persisted session fields.
func stateOf(sess *session.Session) dialogue.State {
	return dialogue.State{
		Insights:       sess.Insights,
		Misconceptions: sess.Misconceptions,
		Gaps:           sess.Gaps,
		Score:          sess.FinalUnderstandingScore,
		Highest:        dialogue.ParseDifficulty(sess.HighestDifficulty),
		Exchanges:      sess.TotalExchanges,
	}
}

// stateUpdate maps reduced state onto a store update.
func stateUpdate(state dialogue.State) session.Update {
	difficulty := state.Highest.String()
	return session.Update{
		TotalExchanges:          &state.Exchanges,
		FinalUnderstandingScore: &state.Score,
		HighestDifficulty:       &difficulty,
		Insights:                orEmpty(state.Insights),
		Misconceptions:          orEmpty(state.Misconceptions),
		Gaps:                    orEmpty(state.Gaps),
	}
}

// orEmpty keeps slice updates non-nil so clears propagate through the
// shallow merge.
func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// historyOf converts stored turns into the prompt layer's view.
func historyOf(sess *session.Session) []prompt.HistoryEntry {
	out := make([]prompt.HistoryEntry, 0, len(sess.Conversation))
	for _, t := range sess.Conversation {
		out = append(out, prompt.HistoryEntry{Role: t.Role, Content: t.Text()})
	}
	return out
}

// currentQuestion finds the most recent question asked.
func currentQuestion(sess *session.Session) string {
	for i := len(sess.Conversation) - 1; i >= 0; i-- {
		if sess.Conversation[i].Role == "assistant" {
			return sess.Conversation[i].Text()
		}
	}
	return ""
}

// nextExchanges closes the open exchange with the student's answer and the
// model's assessment of it, then opens a new exchange for the next question.
func nextExchanges(sess *session.Session, turn dialogue.TurnPayload, answer string, now time.Time) []session.Exchange {
	exchanges := append([]session.Exchange(nil), sess.Exchanges...)
	if n := len(exchanges); n > 0 && exchanges[n-1].StudentResponse == "" {
		exchanges[n-1].StudentResponse = answer
		exchanges[n-1].UnderstandingScore = turn.UnderstandingScore
		exchanges[n-1].CorrectInsights = turn.Signals.CorrectInsights
		exchanges[n-1].Misconceptions = turn.Signals.Misconceptions
		exchanges[n-1].Gaps = turn.Signals.Gaps
	}
	number := 1
	if n := len(exchanges); n > 0 {
		number = exchanges[n-1].Number + 1
	}
	exchanges = append(exchanges, session.Exchange{
		Number:             number,
		Timestamp:          now,
		Question:           turn.Question,
		DifficultyLevel:    turn.DifficultyLevel,
		UnderstandingScore: turn.UnderstandingScore,
	})
	return exchanges
}
