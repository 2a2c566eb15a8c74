package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// backendsUnderTest builds one of each locally-runnable backend. Firestore
// needs a live emulator and is exercised separately.
func backendsUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	fileBackend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	sqliteBackend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}

	mr := miniredis.RunT(t)
	redisBackend := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", 0)

	backends := map[string]Store{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
		"sqlite": sqliteBackend,
		"redis":  redisBackend,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			_ = b.Close()
		}
	})
	return backends
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := store.Create(ctx, "sess-1", "Recursion", "knows some Python")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if !created.IsActive || created.Topic != "Recursion" {
				t.Errorf("unexpected created session: %+v", created)
			}

			got, err := store.Get(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.ID != "sess-1" || got.Context != "knows some Python" {
				t.Errorf("round trip mismatch: %+v", got)
			}
			if got.StartedAt.IsZero() {
				t.Error("StartedAt not set")
			}

			if _, err := store.Create(ctx, "sess-1", "Other", ""); !errors.Is(err, ErrSessionExists) {
				t.Errorf("expected ErrSessionExists, got %v", err)
			}
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_UpdateShallowMerge(t *testing.T) {
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Create(ctx, "sess-1", "Recursion", "ctx"); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			exchanges := 3
			score := 65
			difficulty := "intermediate"
			turns := []Turn{
				AssistantTurn(json.RawMessage(`{"question":"What is a base case?"}`)),
				UserTurn("the stopping condition"),
			}

			updated, err := store.Update(ctx, "sess-1", Update{
				TotalExchanges:          &exchanges,
				FinalUnderstandingScore: &score,
				HighestDifficulty:       &difficulty,
				Insights:                []string{"knows the base case"},
				Conversation:            turns,
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if updated.TotalExchanges != 3 || updated.FinalUnderstandingScore != 65 {
				t.Errorf("numeric fields not merged: %+v", updated)
			}

			// omitted fields must stay untouched
			hints := 1
			after, err := store.Update(ctx, "sess-1", Update{HintsUsed: &hints})
			if err != nil {
				t.Fatalf("second Update failed: %v", err)
			}
			if after.TotalExchanges != 3 || after.HighestDifficulty != "intermediate" {
				t.Errorf("omitted fields were clobbered: %+v", after)
			}
			if after.HintsUsed != 1 {
				t.Errorf("provided field not applied: %+v", after)
			}
			if len(after.Conversation) != 2 || after.Conversation[1].Text() != "the stopping condition" {
				t.Errorf("conversation lost: %+v", after.Conversation)
			}
			if len(after.Insights) != 1 {
				t.Errorf("insights lost: %v", after.Insights)
			}

			// a non-nil empty slice clears
			cleared, err := store.Update(ctx, "sess-1", Update{Gaps: []string{}})
			if err != nil {
				t.Fatalf("clearing Update failed: %v", err)
			}
			if len(cleared.Gaps) != 0 {
				t.Errorf("gaps not cleared: %v", cleared.Gaps)
			}

			if _, err := store.Update(ctx, "missing", Update{}); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_UserTurnSurvivesAlone(t *testing.T) {
	// a user turn with no matching assistant turn must persist and replay
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Create(ctx, "sess-1", "Recursion", ""); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			turns := []Turn{
				AssistantTurn(json.RawMessage(`{"question":"What stops it?"}`)),
				UserTurn("hmm, not sure"),
			}
			if _, err := store.Update(ctx, "sess-1", Update{Conversation: turns}); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			got, err := store.Get(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(got.Conversation) != 2 {
				t.Fatalf("expected 2 turns, got %d", len(got.Conversation))
			}
			last := got.Conversation[1]
			if last.Role != "user" || last.Text() != "hmm, not sure" {
				t.Errorf("trailing user turn mangled: %+v", last)
			}
		})
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"s1", "s2", "s3"} {
				if _, err := store.Create(ctx, id, "topic "+id, ""); err != nil {
					t.Fatalf("Create %s failed: %v", id, err)
				}
			}

			if err := store.Delete(ctx, "s2"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := store.Delete(ctx, "s2"); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}

			all, err := store.ListAll(ctx)
			if err != nil {
				t.Fatalf("ListAll failed: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("expected 2 sessions, got %d", len(all))
			}
			// newest first
			if all[0].StartedAt.Before(all[1].StartedAt) {
				t.Errorf("sessions not ordered by start descending")
			}
		})
	}
}

func TestStore_StatsFoldOnEnd(t *testing.T) {
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			st, err := store.GetStats(ctx)
			if err != nil {
				t.Fatalf("GetStats failed: %v", err)
			}
			if st.TotalSessions != 0 {
				t.Errorf("fresh store should report zero stats: %+v", st)
			}

			endSession := func(id, topic string, exchanges, score int) *Stats {
				t.Helper()
				if _, err := store.Create(ctx, id, topic, ""); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				now := time.Now().UTC()
				inactive := false
				ended, err := store.Update(ctx, id, Update{
					EndedAt:                 &now,
					IsActive:                &inactive,
					TotalExchanges:          &exchanges,
					FinalUnderstandingScore: &score,
				})
				if err != nil {
					t.Fatalf("Update failed: %v", err)
				}
				st, err := store.UpdateStatsOnEnd(ctx, ended)
				if err != nil {
					t.Fatalf("UpdateStatsOnEnd failed: %v", err)
				}
				return st
			}

			endSession("s1", "Recursion", 4, 80)
			st = endSession("s2", "Gravity", 2, 40)

			if st.TotalSessions != 2 || st.TotalExchanges != 6 {
				t.Errorf("totals wrong: %+v", st)
			}
			if st.AverageUnderstanding != 60 {
				t.Errorf("average should be recomputed over completed sessions, got %v", st.AverageUnderstanding)
			}
			if len(st.TopicsExplored) != 2 {
				t.Errorf("topics not tracked: %v", st.TopicsExplored)
			}
			if st.StreakDays != 1 {
				t.Errorf("same-day sessions should hold streak at 1, got %d", st.StreakDays)
			}
			if st.LastSessionDate == nil {
				t.Error("last session date not recorded")
			}

			// repeated topic is not duplicated
			st = endSession("s3", "Recursion", 1, 60)
			if len(st.TopicsExplored) != 2 {
				t.Errorf("topic duplicated: %v", st.TopicsExplored)
			}
		})
	}
}

func TestStore_ClosedBackend(t *testing.T) {
	for name, store := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if _, err := store.Create(ctx, "x", "t", ""); !errors.Is(err, ErrStorageClosed) {
				t.Errorf("expected ErrStorageClosed, got %v", err)
			}
			if _, err := store.Get(ctx, "x"); !errors.Is(err, ErrStorageClosed) {
				t.Errorf("expected ErrStorageClosed, got %v", err)
			}
		})
	}
}

func TestFileBackend_RejectsTraversal(t *testing.T) {
	store, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"../escape", "a/b", `a\b`, ""} {
		if _, err := store.Create(context.Background(), id, "topic", ""); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestFileBackend_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	if _, err := store.Create(ctx, "sess-1", "Recursion", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Topic != "Recursion" {
		t.Errorf("session lost across reopen: %+v", got)
	}
}

func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if _, err := store.Create(ctx, "sess-1", "Recursion", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Topic != "Recursion" {
		t.Errorf("session lost across reopen: %+v", got)
	}
}
