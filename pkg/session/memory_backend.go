package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Store with in-process maps. It is the default
// for tests and the chat REPL; nothing survives a restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stats    Stats
	closed   bool
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

func (m *MemoryBackend) Create(ctx context.Context, id, topic, learningContext string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.sessions[id]; ok {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:        id,
		Topic:     topic,
		Context:   learningContext,
		StartedAt: time.Now().UTC(),
		IsActive:  true,
	}
	m.sessions[id] = s
	return s.Clone(), nil
}

func (m *MemoryBackend) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) Update(ctx context.Context, id string, upd Update) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	applyUpdate(s, upd)
	return s.Clone(), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryBackend) ListAll(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sortSessionsDesc(out)
	return out, nil
}

func (m *MemoryBackend) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	return m.stats.Clone(), nil
}

func (m *MemoryBackend) UpdateStatsOnEnd(ctx context.Context, ended *Session) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	var completed []*Session
	for _, s := range m.sessions {
		if !s.IsActive {
			completed = append(completed, s)
		}
	}
	foldStats(&m.stats, ended, completed, time.Now().UTC())
	return m.stats.Clone(), nil
}

func (m *MemoryBackend) DecayStreak(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	decayStreak(&m.stats, now)
	return nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
