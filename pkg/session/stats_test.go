package session

import (
	"context"
	"testing"
	"time"
)

func endedSession(topic string, exchanges, score int, start, end time.Time) *Session {
	return &Session{
		ID:                      "s-" + topic,
		Topic:                   topic,
		StartedAt:               start,
		EndedAt:                 &end,
		TotalExchanges:          exchanges,
		FinalUnderstandingScore: score,
	}
}

func TestFoldStats_StreakTransitions(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 8, d, 10, 0, 0, 0, time.UTC)
	}
	s := endedSession("Recursion", 1, 50, day(1), day(1).Add(10*time.Minute))

	var st Stats

	foldStats(&st, s, []*Session{s}, day(1))
	if st.StreakDays != 1 {
		t.Fatalf("first session should start the streak, got %d", st.StreakDays)
	}

	foldStats(&st, s, []*Session{s}, day(1))
	if st.StreakDays != 1 {
		t.Errorf("same-day session should hold the streak, got %d", st.StreakDays)
	}

	foldStats(&st, s, []*Session{s}, day(2))
	if st.StreakDays != 2 {
		t.Errorf("next-day session should extend the streak, got %d", st.StreakDays)
	}

	foldStats(&st, s, []*Session{s}, day(5))
	if st.StreakDays != 1 {
		t.Errorf("a gap should restart the streak at 1, got %d", st.StreakDays)
	}
}

func TestFoldStats_DurationAndAverage(t *testing.T) {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	a := endedSession("A", 3, 80, start, start.Add(12*time.Minute))
	b := endedSession("B", 1, 30, start, start.Add(6*time.Minute))

	var st Stats
	foldStats(&st, a, []*Session{a}, start.Add(time.Hour))
	foldStats(&st, b, []*Session{a, b}, start.Add(time.Hour))

	if st.TotalLearningMinutes != 18 {
		t.Errorf("expected 18 learning minutes, got %v", st.TotalLearningMinutes)
	}
	if st.AverageUnderstanding != 55 {
		t.Errorf("expected average 55, got %v", st.AverageUnderstanding)
	}
	if st.TotalExchanges != 4 || st.TotalSessions != 2 {
		t.Errorf("totals wrong: %+v", st)
	}
}

func TestDecayStreak(t *testing.T) {
	last := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	st := Stats{StreakDays: 4, LastSessionDate: &last}

	// later the same day, nothing changes
	decayStreak(&st, last.Add(30*time.Minute))
	if st.StreakDays != 4 {
		t.Errorf("same-day decay should be a no-op, got %d", st.StreakDays)
	}

	// the next day the streak is still alive
	decayStreak(&st, last.AddDate(0, 0, 1))
	if st.StreakDays != 4 {
		t.Errorf("next-day decay should keep the streak, got %d", st.StreakDays)
	}

	// a missed day zeroes it
	decayStreak(&st, last.AddDate(0, 0, 2))
	if st.StreakDays != 0 {
		t.Errorf("missed day should zero the streak, got %d", st.StreakDays)
	}

	// no sessions at all, nothing to decay
	empty := Stats{}
	decayStreak(&empty, time.Now())
	if empty.StreakDays != 0 {
		t.Errorf("unexpected streak on empty stats: %d", empty.StreakDays)
	}
}

func TestMemoryBackend_DecayStreakThroughStore(t *testing.T) {
	store := NewMemoryBackend()
	defer store.Close()
	ctx := context.Background()

	last := time.Now().UTC().AddDate(0, 0, -3)
	store.stats = Stats{StreakDays: 7, LastSessionDate: &last}

	if err := store.DecayStreak(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("DecayStreak failed: %v", err)
	}
	st, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.StreakDays != 0 {
		t.Errorf("expected streak reset, got %d", st.StreakDays)
	}
}

func TestTurnText(t *testing.T) {
	if got := UserTurn("hello").Text(); got != "hello" {
		t.Errorf("user turn text mangled: %q", got)
	}
	at := AssistantTurn([]byte(`{"question":"Why?","thinking":"..."}`))
	if got := at.Text(); got != "Why?" {
		t.Errorf("assistant turn should surface the question, got %q", got)
	}
}

func TestSessionDurationMinutes(t *testing.T) {
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	end := start.Add(7*time.Minute + 30*time.Second)
	s := &Session{StartedAt: start, EndedAt: &end}
	if got := s.DurationMinutes(time.Now()); got != 7.5 {
		t.Errorf("expected 7.5 minutes, got %v", got)
	}

	active := &Session{StartedAt: start}
	if got := active.DurationMinutes(start.Add(3 * time.Minute)); got != 3 {
		t.Errorf("active session should measure to now, got %v", got)
	}
}
