package dialogue

import (
	"encoding/json"
	"reflect"
	"testing"
)

func turnWith(signals UnderstandingSignals, score int, level string) TurnPayload {
	return TurnPayload{Signals: signals, UnderstandingScore: score, DifficultyLevel: level}
}

func TestReduce_InsightDedupIsIdempotent(t *testing.T) {
	turn := turnWith(UnderstandingSignals{
		CorrectInsights: []string{"base case stops recursion", "stack frames nest"},
		Misconceptions:  []string{"recursion is always slow"},
	}, 40, "foundational")

	once := Reduce(State{}, turn)
	twice := Reduce(once, turn)

	if len(once.Insights) != 2 || len(twice.Insights) != 2 {
		t.Errorf("expected 2 insights after folding twice, got %d then %d", len(once.Insights), len(twice.Insights))
	}
	if len(twice.Misconceptions) != 1 {
		t.Errorf("expected 1 misconception, got %v", twice.Misconceptions)
	}
	if !reflect.DeepEqual(once.Insights, twice.Insights) {
		t.Errorf("insertion order changed: %v vs %v", once.Insights, twice.Insights)
	}
}

func TestReduce_GapsReplacedWholesale(t *testing.T) {
	s := Reduce(State{}, turnWith(UnderstandingSignals{Gaps: []string{"tail calls", "mutual recursion"}}, 0, ""))
	s = Reduce(s, turnWith(UnderstandingSignals{Gaps: []string{"tail calls"}}, 0, ""))

	if !reflect.DeepEqual(s.Gaps, []string{"tail calls"}) {
		t.Errorf("gaps not replaced: %v", s.Gaps)
	}

	s = Reduce(s, turnWith(UnderstandingSignals{}, 0, ""))
	if len(s.Gaps) != 0 {
		t.Errorf("expected gaps cleared, got %v", s.Gaps)
	}
}

func TestReduce_ScoreIsRunningMax(t *testing.T) {
	s := Reduce(State{}, turnWith(UnderstandingSignals{}, 20, ""))
	s = Reduce(s, turnWith(UnderstandingSignals{}, 65, ""))
	s = Reduce(s, turnWith(UnderstandingSignals{}, 30, ""))

	if s.Score != 65 {
		t.Errorf("expected running max 65, got %d", s.Score)
	}
}

func TestReduce_DifficultyRatchet(t *testing.T) {
	var s State
	for _, level := range []string{"intermediate", "foundational", "advanced"} {
		s = Reduce(s, turnWith(UnderstandingSignals{}, 0, level))
	}
	if s.Highest != DifficultyAdvanced {
		t.Errorf("expected advanced after ratchet, got %s", s.Highest)
	}

	// mid-sequence check: a lower report never regresses the ratchet
	s2 := Reduce(State{}, turnWith(UnderstandingSignals{}, 0, "intermediate"))
	s2 = Reduce(s2, turnWith(UnderstandingSignals{}, 0, "foundational"))
	if s2.Highest != DifficultyIntermediate {
		t.Errorf("ratchet regressed to %s", s2.Highest)
	}
	if s2.Current != DifficultyFoundational {
		t.Errorf("current indicator should follow the latest report, got %s", s2.Current)
	}
}

func TestReduce_UnknownDifficultyIgnored(t *testing.T) {
	s := Reduce(State{}, turnWith(UnderstandingSignals{}, 0, "advanced"))
	s = Reduce(s, turnWith(UnderstandingSignals{}, 0, "totally-made-up"))
	if s.Highest != DifficultyAdvanced || s.Current != DifficultyAdvanced {
		t.Errorf("unknown level should not move either value, got highest=%s current=%s", s.Highest, s.Current)
	}
}

func TestReduce_CountsExchanges(t *testing.T) {
	s := Reduce(State{}, TurnPayload{})
	s = Reduce(s, TurnPayload{})
	if s.Exchanges != 2 {
		t.Errorf("expected 2 exchanges, got %d", s.Exchanges)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	orig := State{Insights: []string{"a"}, Gaps: []string{"g"}}
	_ = Reduce(orig, turnWith(UnderstandingSignals{CorrectInsights: []string{"b"}, Gaps: []string{"h"}}, 50, "mastery"))

	if !reflect.DeepEqual(orig.Insights, []string{"a"}) || !reflect.DeepEqual(orig.Gaps, []string{"g"}) {
		t.Errorf("input state mutated: %+v", orig)
	}
	if orig.Score != 0 || orig.Highest != DifficultyUnknown {
		t.Errorf("input state mutated: %+v", orig)
	}
}

func TestApplySummary_OverwritesScore(t *testing.T) {
	s := State{Score: 95}
	n := 80
	s = ApplySummary(s, SummaryPayload{OverallUnderstanding: &n})
	if s.Score != 80 {
		t.Errorf("summary score should overwrite, got %d", s.Score)
	}

	s = ApplySummary(s, SummaryPayload{})
	if s.Score != 80 {
		t.Errorf("absent summary score should leave value, got %d", s.Score)
	}
}

func TestDecodeTurn_ToleratesMissingAndMistypedFields(t *testing.T) {
	raw := json.RawMessage(`{
		"question": "What stops the recursion?",
		"understanding_score": "72",
		"difficulty_level": 3,
		"hint_available": true,
		"understanding_signals": {
			"correct_insights": ["knows the base case"],
			"gaps": "not-a-list"
		}
	}`)

	turn := DecodeTurn(raw)
	if turn.Question != "What stops the recursion?" {
		t.Errorf("question lost: %q", turn.Question)
	}
	if turn.UnderstandingScore != 72 {
		t.Errorf("quoted score should still parse, got %d", turn.UnderstandingScore)
	}
	if turn.DifficultyLevel != "" {
		t.Errorf("mistyped difficulty should decode empty, got %q", turn.DifficultyLevel)
	}
	if !turn.HintAvailable {
		t.Error("hint flag lost")
	}
	if len(turn.Signals.CorrectInsights) != 1 || turn.Signals.Gaps != nil {
		t.Errorf("signals decoded wrong: %+v", turn.Signals)
	}
}

func TestDecodeTurn_ClampsScore(t *testing.T) {
	turn := DecodeTurn(json.RawMessage(`{"understanding_score": 250}`))
	if turn.UnderstandingScore != 100 {
		t.Errorf("expected clamp to 100, got %d", turn.UnderstandingScore)
	}
	turn = DecodeTurn(json.RawMessage(`{"understanding_score": -5}`))
	if turn.UnderstandingScore != 0 {
		t.Errorf("expected clamp to 0, got %d", turn.UnderstandingScore)
	}
}

func TestDecodeSummary_DistinguishesAbsentScore(t *testing.T) {
	sum := DecodeSummary(json.RawMessage(`{"topic_summary": "covered the basics"}`))
	if sum.OverallUnderstanding != nil {
		t.Errorf("absent score should be nil, got %d", *sum.OverallUnderstanding)
	}

	sum = DecodeSummary(json.RawMessage(`{"overall_understanding": 0, "key_discoveries": ["a", "b"]}`))
	if sum.OverallUnderstanding == nil || *sum.OverallUnderstanding != 0 {
		t.Error("explicit zero score should survive decoding")
	}
	if len(sum.KeyDiscoveries) != 2 {
		t.Errorf("discoveries lost: %v", sum.KeyDiscoveries)
	}
}

func TestParseDifficultyOrdering(t *testing.T) {
	if !(DifficultyFoundational < DifficultyIntermediate &&
		DifficultyIntermediate < DifficultyAdvanced &&
		DifficultyAdvanced < DifficultyMastery) {
		t.Fatal("difficulty ladder out of order")
	}
	if ParseDifficulty("  Advanced ") != DifficultyAdvanced {
		t.Error("parse should trim and lowercase")
	}
}
