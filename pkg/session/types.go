// Package session persists guided-learning sessions and the process-wide
// learning statistics. Backends implement the Store interface; merge and
// stats-folding semantics are shared so every backend behaves identically.
package session

import (
	"encoding/json"
	"time"
)

// Turn is one conversation message. Assistant content is the structured
// per-turn JSON object the model produced; user content is a JSON string.
type Turn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// UserTurn wraps student text as a conversation turn.
func UserTurn(text string) Turn {
	content, _ := json.Marshal(text)
	return Turn{Role: "user", Content: content}
}

// AssistantTurn wraps a structured model reply as a conversation turn.
func AssistantTurn(payload json.RawMessage) Turn {
	return Turn{Role: "assistant", Content: payload}
}

// Text returns the turn content as plain text: user turns decode their JSON
// string, assistant turns surface the question field when present.
func (t Turn) Text() string {
	var s string
	if json.Unmarshal(t.Content, &s) == nil {
		return s
	}
	var obj struct {
		Question string `json:"question"`
	}
	if json.Unmarshal(t.Content, &obj) == nil && obj.Question != "" {
		return obj.Question
	}
	return string(t.Content)
}

// Exchange is one question-answer round with the model's assessment of it.
type Exchange struct {
	Number             int       `json:"exchange_number"`
	Timestamp          time.Time `json:"timestamp"`
	Question           string    `json:"question"`
	DifficultyLevel    string    `json:"difficulty_level"`
	StudentResponse    string    `json:"student_response,omitempty"`
	UnderstandingScore int       `json:"understanding_score"`
	CorrectInsights    []string  `json:"correct_insights,omitempty"`
	Misconceptions     []string  `json:"misconceptions,omitempty"`
	Gaps               []string  `json:"gaps,omitempty"`
	HintUsed           bool      `json:"hint_used,omitempty"`
	HintText           string    `json:"hint_text,omitempty"`
}

// Session is one guided-learning conversation.
type Session struct {
	ID        string     `json:"id"`
	Topic     string     `json:"topic"`
	Context   string     `json:"context,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	IsActive  bool       `json:"is_active"`

	TotalExchanges          int    `json:"total_exchanges"`
	FinalUnderstandingScore int    `json:"final_understanding_score"`
	HighestDifficulty       string `json:"highest_difficulty"`
	HintsUsed               int    `json:"hints_used"`

	// Accumulated understanding picture, maintained by the caller's reducer.
	Insights       []string `json:"insights,omitempty"`
	Misconceptions []string `json:"misconceptions,omitempty"`
	Gaps           []string `json:"gaps,omitempty"`

	// Summary is the end-of-session report, stored verbatim.
	Summary json.RawMessage `json:"summary,omitempty"`

	Conversation []Turn     `json:"conversation_history"`
	Exchanges    []Exchange `json:"exchanges,omitempty"`
}

// DurationMinutes reports the session length, using now for still-active
// sessions. Rounded to one decimal place.
func (s *Session) DurationMinutes(now time.Time) float64 {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return float64(int(d.Seconds())/6) / 10
}

// Clone returns a deep copy so callers can mutate freely without aliasing
// backend-held state.
func (s *Session) Clone() *Session {
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	out.Insights = append([]string(nil), s.Insights...)
	out.Misconceptions = append([]string(nil), s.Misconceptions...)
	out.Gaps = append([]string(nil), s.Gaps...)
	out.Summary = append(json.RawMessage(nil), s.Summary...)
	if s.Conversation != nil {
		out.Conversation = make([]Turn, len(s.Conversation))
		for i, t := range s.Conversation {
			out.Conversation[i] = Turn{Role: t.Role, Content: append(json.RawMessage(nil), t.Content...)}
		}
	}
	if s.Exchanges != nil {
		out.Exchanges = make([]Exchange, len(s.Exchanges))
		copy(out.Exchanges, s.Exchanges)
	}
	return &out
}

// Stats is the single process-wide aggregate, updated only at session end.
type Stats struct {
	TotalSessions        int        `json:"total_sessions"`
	TotalExchanges       int        `json:"total_exchanges"`
	TotalLearningMinutes float64    `json:"total_learning_minutes"`
	AverageUnderstanding float64    `json:"average_understanding"`
	TopicsExplored       []string   `json:"topics_explored"`
	StreakDays           int        `json:"streak_days"`
	LastSessionDate      *time.Time `json:"last_session_date,omitempty"`
}

// Clone returns a copy safe to hand to callers.
func (st *Stats) Clone() *Stats {
	out := *st
	out.TopicsExplored = append([]string(nil), st.TopicsExplored...)
	if st.LastSessionDate != nil {
		t := *st.LastSessionDate
		out.LastSessionDate = &t
	}
	return &out
}
