// Package dialogue holds the structured payloads the tutor model emits and
// the pure state folding applied to them. Model output is untrusted: every
// field is optional and decoded defensively, missing or mistyped fields fall
// back to zero values instead of failing the turn.
package dialogue

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Difficulty is the ordered ladder a session climbs. The zero value means
// the model has not reported a level yet.
type Difficulty int

const (
	DifficultyUnknown Difficulty = iota
	DifficultyFoundational
	DifficultyIntermediate
	DifficultyAdvanced
	DifficultyMastery
)

var difficultyNames = map[Difficulty]string{
	DifficultyUnknown:      "",
	DifficultyFoundational: "foundational",
	DifficultyIntermediate: "intermediate",
	DifficultyAdvanced:     "advanced",
	DifficultyMastery:      "mastery",
}

func (d Difficulty) String() string { return difficultyNames[d] }

// ParseDifficulty maps a model-reported level to the ladder. Unrecognized
// strings parse as DifficultyUnknown, which never advances the ratchet.
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foundational", "beginner", "basic":
		return DifficultyFoundational
	case "intermediate":
		return DifficultyIntermediate
	case "advanced":
		return DifficultyAdvanced
	case "mastery", "expert":
		return DifficultyMastery
	default:
		return DifficultyUnknown
	}
}

func (d Difficulty) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Difficulty) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = ParseDifficulty(s)
	return nil
}

// UnderstandingSignals is the per-turn assessment block.
type UnderstandingSignals struct {
	CorrectInsights []string `json:"correct_insights"`
	Misconceptions  []string `json:"misconceptions"`
	Gaps            []string `json:"gaps"`
}

// TurnPayload is one structured tutor reply.
type TurnPayload struct {
	Question           string               `json:"question"`
	Thinking           string               `json:"thinking,omitempty"`
	Signals            UnderstandingSignals `json:"understanding_signals"`
	UnderstandingScore int                  `json:"understanding_score"`
	DifficultyLevel    string               `json:"difficulty_level"`
	HintAvailable      bool                 `json:"hint_available"`
	Encouragement      string               `json:"encouragement,omitempty"`
}

// SummaryPayload is the end-of-session report. OverallUnderstanding is a
// pointer so an absent score can be told apart from an explicit zero.
type SummaryPayload struct {
	TopicSummary           string   `json:"topic_summary"`
	KeyDiscoveries         []string `json:"key_discoveries"`
	MisconceptionsAddressed []string `json:"misconceptions_addressed"`
	RemainingGaps          []string `json:"remaining_gaps"`
	OverallUnderstanding   *int     `json:"overall_understanding"`
	RecommendedNextTopics  []string `json:"recommended_next_topics"`
	LearningStyleNotes     string   `json:"learning_style_notes"`
	TimeWellSpentScore     int      `json:"time_well_spent_score"`
}

// DecodeTurn extracts a TurnPayload field by field. A field that is missing
// or of the wrong type is dropped rather than failing the whole turn.
func DecodeTurn(raw json.RawMessage) TurnPayload {
	fields := splitObject(raw)
	var t TurnPayload
	t.Question = asString(fields["question"])
	t.Thinking = asString(fields["thinking"])
	t.UnderstandingScore = clampScore(asInt(fields["understanding_score"]))
	t.DifficultyLevel = asString(fields["difficulty_level"])
	t.HintAvailable = asBool(fields["hint_available"])
	t.Encouragement = asString(fields["encouragement"])
	if sig, ok := fields["understanding_signals"]; ok {
		sf := splitObject(sig)
		t.Signals.CorrectInsights = asStrings(sf["correct_insights"])
		t.Signals.Misconceptions = asStrings(sf["misconceptions"])
		t.Signals.Gaps = asStrings(sf["gaps"])
	}
	return t
}

// DecodeSummary extracts a SummaryPayload with the same tolerance as
// DecodeTurn.
func DecodeSummary(raw json.RawMessage) SummaryPayload {
	fields := splitObject(raw)
	var s SummaryPayload
	s.TopicSummary = asString(fields["topic_summary"])
	s.KeyDiscoveries = asStrings(fields["key_discoveries"])
	s.MisconceptionsAddressed = asStrings(fields["misconceptions_addressed"])
	s.RemainingGaps = asStrings(fields["remaining_gaps"])
	s.RecommendedNextTopics = asStrings(fields["recommended_next_topics"])
	s.LearningStyleNotes = asString(fields["learning_style_notes"])
	s.TimeWellSpentScore = asInt(fields["time_well_spent_score"])
	if v, ok := fields["overall_understanding"]; ok {
		var n int
		if json.Unmarshal(v, &n) == nil {
			n = clampScore(n)
			s.OverallUnderstanding = &n
		}
	}
	return s
}

func splitObject(raw json.RawMessage) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}
	_ = json.Unmarshal(raw, &fields)
	return fields
}

func asString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func asInt(raw json.RawMessage) int {
	var n int
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	// some models quote numbers
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if m, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return m
		}
	}
	return 0
}

func asBool(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func asStrings(raw json.RawMessage) []string {
	var out []string
	if json.Unmarshal(raw, &out) == nil {
		return out
	}
	return nil
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
