package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Store on a single SQLite file. Sessions are stored
// as JSON documents with the start time broken out for ordered listing; the
// pure-Go driver keeps the binary free of cgo.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS learning_sessions (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	is_active   INTEGER NOT NULL DEFAULT 1,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON learning_sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS learning_stats (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	data  TEXT NOT NULL
);
`

// NewSQLiteBackend opens (and if needed creates) the database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent updates.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) writeSession(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	active := 0
	if s.IsActive {
		active = 1
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO learning_sessions (id, started_at, is_active, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at,
			is_active = excluded.is_active, data = excluded.data`,
		s.ID, s.StartedAt.UnixMilli(), active, string(data))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) readSession(ctx context.Context, id string) (*Session, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM learning_sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

func (b *SQLiteBackend) readStats(ctx context.Context) (*Stats, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM learning_stats WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &Stats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	var st Stats
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	return &st, nil
}

func (b *SQLiteBackend) writeStats(ctx context.Context, st *Stats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO learning_stats (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	if err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *SQLiteBackend) Create(ctx context.Context, id, topic, learningContext string) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	if _, err := b.readSession(ctx, id); err == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	s := &Session{
		ID:        id,
		Topic:     topic,
		Context:   learningContext,
		StartedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := b.writeSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.readSession(ctx, id)
}

func (b *SQLiteBackend) Update(ctx context.Context, id string, upd Update) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.readSession(ctx, id)
	if err != nil {
		return nil, err
	}
	applyUpdate(s, upd)
	if err := b.writeSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM learning_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (b *SQLiteBackend) ListAll(ctx context.Context) ([]*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.listSessions(ctx, false)
}

// listSessions reads sessions newest first, optionally only completed ones.
func (b *SQLiteBackend) listSessions(ctx context.Context, completedOnly bool) ([]*Session, error) {
	query := `SELECT data FROM learning_sessions ORDER BY started_at DESC`
	if completedOnly {
		query = `SELECT data FROM learning_sessions WHERE is_active = 0 ORDER BY started_at DESC`
	}
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("parse session: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (b *SQLiteBackend) GetStats(ctx context.Context) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.readStats(ctx)
}

func (b *SQLiteBackend) UpdateStatsOnEnd(ctx context.Context, ended *Session) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.readStats(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := b.listSessions(ctx, true)
	if err != nil {
		return nil, err
	}
	foldStats(st, ended, completed, time.Now().UTC())
	if err := b.writeStats(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (b *SQLiteBackend) DecayStreak(ctx context.Context, now time.Time) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.readStats(ctx)
	if err != nil {
		return err
	}
	decayStreak(st, now)
	return b.writeStats(ctx, st)
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
