package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a session ID contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements Store using JSON files.
// Storage layout:
//
//	~/.socratic/
//	  ├── sessions/
//	  │   └── <session-id>.json
//	  └── stats.json
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a file-based store rooted at baseDir.
// If baseDir is empty, uses ~/.socratic.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".socratic")
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "sessions"), 0700); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

func (f *FileBackend) sessionPath(id string) string {
	return filepath.Join(f.baseDir, "sessions", id+".json")
}

func (f *FileBackend) statsPath() string {
	return filepath.Join(f.baseDir, "stats.json")
}

// writeJSON writes atomically via a temp file then rename, so a crash never
// leaves a half-written record.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (f *FileBackend) loadSession(id string) (*Session, error) {
	if err := validatePathComponent(id); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	data, err := os.ReadFile(f.sessionPath(id)) // #nosec G304 - path component validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

func (f *FileBackend) loadStats() (*Stats, error) {
	data, err := os.ReadFile(f.statsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Stats{}, nil
		}
		return nil, fmt.Errorf("read stats: %w", err)
	}
	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	return &st, nil
}

func (f *FileBackend) Create(ctx context.Context, id, topic, learningContext string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	if err := validatePathComponent(id); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	if _, err := os.Stat(f.sessionPath(id)); err == nil {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:        id,
		Topic:     topic,
		Context:   learningContext,
		StartedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := writeJSON(f.sessionPath(id), s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileBackend) Get(ctx context.Context, id string) (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	return f.loadSession(id)
}

func (f *FileBackend) Update(ctx context.Context, id string, upd Update) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	s, err := f.loadSession(id)
	if err != nil {
		return nil, err
	}
	applyUpdate(s, upd)
	if err := writeJSON(f.sessionPath(id), s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileBackend) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	err := os.Remove(f.sessionPath(id))
	if os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	return err
}

func (f *FileBackend) ListAll(ctx context.Context) ([]*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	out, err := f.listLocked()
	if err != nil {
		return nil, err
	}
	sortSessionsDesc(out)
	return out, nil
}

func (f *FileBackend) GetStats(ctx context.Context) (*Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	return f.loadStats()
}

func (f *FileBackend) UpdateStatsOnEnd(ctx context.Context, ended *Session) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStorageClosed
	}
	st, err := f.loadStats()
	if err != nil {
		return nil, err
	}
	all, err := f.listLocked()
	if err != nil {
		return nil, err
	}
	var completed []*Session
	for _, s := range all {
		if !s.IsActive {
			completed = append(completed, s)
		}
	}
	foldStats(st, ended, completed, time.Now().UTC())
	if err := writeJSON(f.statsPath(), st); err != nil {
		return nil, err
	}
	return st, nil
}

func (f *FileBackend) DecayStreak(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}
	st, err := f.loadStats()
	if err != nil {
		return err
	}
	decayStreak(st, now)
	return writeJSON(f.statsPath(), st)
}

func (f *FileBackend) listLocked() ([]*Session, error) {
	entries, err := os.ReadDir(filepath.Join(f.baseDir, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}
	var out []*Session
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := f.loadSession(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// skip unreadable records rather than failing the listing
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
