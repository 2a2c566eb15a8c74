package session

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session with a taken ID.
	ErrSessionExists = errors.New("session already exists")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// Update carries a shallow merge: non-nil fields overwrite, nil fields are
// untouched. Slices replace wholesale; pass an empty non-nil slice to clear.
type Update struct {
	EndedAt                 *time.Time
	IsActive                *bool
	TotalExchanges          *int
	FinalUnderstandingScore *int
	HighestDifficulty       *string
	HintsUsed               *int

	Insights       []string
	Misconceptions []string
	Gaps           []string

	Summary      []byte
	Conversation []Turn
	Exchanges    []Exchange
}

// Store abstracts session persistence. The caller treats it as a
// synchronous, always-available, single-process store; implementations must
// still be safe for concurrent use from multiple goroutines.
type Store interface {
	// Create stores a new active session. Returns ErrSessionExists when the
	// ID is taken.
	Create(ctx context.Context, id, topic, learningContext string) (*Session, error)

	// Get retrieves a session by ID. Returns ErrSessionNotFound if absent.
	Get(ctx context.Context, id string) (*Session, error)

	// Update applies a shallow merge and returns the merged session.
	Update(ctx context.Context, id string, upd Update) (*Session, error)

	// Delete removes a session. Deleting an absent session returns
	// ErrSessionNotFound.
	Delete(ctx context.Context, id string) error

	// ListAll returns every session ordered by StartedAt descending.
	ListAll(ctx context.Context) ([]*Session, error)

	// GetStats returns the process-wide aggregate. A store with no
	// completed sessions returns zeroed stats, not an error.
	GetStats(ctx context.Context) (*Stats, error)

	// UpdateStatsOnEnd folds a just-ended session into the aggregate. The
	// average is recomputed over all completed sessions.
	UpdateStatsOnEnd(ctx context.Context, s *Session) (*Stats, error)

	// DecayStreak zeroes the streak when the last session is older than
	// yesterday. Meant for a daily maintenance job.
	DecayStreak(ctx context.Context, now time.Time) error

	// Close releases any resources held by the backend.
	Close() error
}

// applyUpdate merges upd into s in place. Shared by every backend so merge
// semantics cannot drift.
func applyUpdate(s *Session, upd Update) {
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		s.EndedAt = &t
	}
	if upd.IsActive != nil {
		s.IsActive = *upd.IsActive
	}
	if upd.TotalExchanges != nil {
		s.TotalExchanges = *upd.TotalExchanges
	}
	if upd.FinalUnderstandingScore != nil {
		s.FinalUnderstandingScore = *upd.FinalUnderstandingScore
	}
	if upd.HighestDifficulty != nil {
		s.HighestDifficulty = *upd.HighestDifficulty
	}
	if upd.HintsUsed != nil {
		s.HintsUsed = *upd.HintsUsed
	}
	if upd.Insights != nil {
		s.Insights = append([]string(nil), upd.Insights...)
	}
	if upd.Misconceptions != nil {
		s.Misconceptions = append([]string(nil), upd.Misconceptions...)
	}
	if upd.Gaps != nil {
		s.Gaps = append([]string(nil), upd.Gaps...)
	}
	if upd.Summary != nil {
		s.Summary = append([]byte(nil), upd.Summary...)
	}
	if upd.Conversation != nil {
		s.Conversation = make([]Turn, len(upd.Conversation))
		copy(s.Conversation, upd.Conversation)
	}
	if upd.Exchanges != nil {
		s.Exchanges = make([]Exchange, len(upd.Exchanges))
		copy(s.Exchanges, upd.Exchanges)
	}
}

// foldStats folds the ended session into st. completed is every inactive
// session including ended; the average is recomputed from scratch over it
// rather than incrementally adjusted, which avoids drift.
func foldStats(st *Stats, ended *Session, completed []*Session, now time.Time) {
	st.TotalSessions++
	st.TotalExchanges += ended.TotalExchanges
	st.TotalLearningMinutes = round1(st.TotalLearningMinutes + ended.DurationMinutes(now))

	if len(completed) > 0 {
		sum := 0
		for _, s := range completed {
			sum += s.FinalUnderstandingScore
		}
		st.AverageUnderstanding = round1(float64(sum) / float64(len(completed)))
	}

	found := false
	for _, t := range st.TopicsExplored {
		if t == ended.Topic {
			found = true
			break
		}
	}
	if !found {
		st.TopicsExplored = append(st.TopicsExplored, ended.Topic)
	}

	switch {
	case st.LastSessionDate == nil:
		st.StreakDays = 1
	case sameDay(*st.LastSessionDate, now):
		if st.StreakDays == 0 {
			st.StreakDays = 1
		}
	case sameDay(st.LastSessionDate.AddDate(0, 0, 1), now):
		st.StreakDays++
	default:
		st.StreakDays = 1
	}
	t := now
	st.LastSessionDate = &t
}

// decayStreak zeroes the streak once a full calendar day has passed with no
// session.
func decayStreak(st *Stats, now time.Time) {
	if st.LastSessionDate == nil {
		return
	}
	last := *st.LastSessionDate
	if !sameDay(last, now) && !sameDay(last.AddDate(0, 0, 1), now) {
		st.StreakDays = 0
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

// sortSessionsDesc orders sessions newest first, for ListAll.
func sortSessionsDesc(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
