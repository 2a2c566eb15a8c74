package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Store using Redis, for deployments where session
// state must outlive the process or be shared across instances.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all keys (default: "socratic:").
	Prefix string
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a Redis store and verifies connectivity.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "socratic:"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{client: client, prefix: prefix, ttl: cfg.SessionTTL}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "socratic:"
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (b *RedisBackend) sessionKey(id string) string { return b.prefix + "session:" + id }
func (b *RedisBackend) indexKey() string            { return b.prefix + "sessions-by-start" }
func (b *RedisBackend) statsKey() string            { return b.prefix + "stats" }

func (b *RedisBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *RedisBackend) saveSession(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := b.client.Set(ctx, b.sessionKey(s.ID), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	score := float64(s.StartedAt.UnixMilli())
	if err := b.client.ZAdd(ctx, b.indexKey(), redis.Z{Score: score, Member: s.ID}).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (b *RedisBackend) loadSession(ctx context.Context, id string) (*Session, error) {
	data, err := b.client.Get(ctx, b.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &s, nil
}

func (b *RedisBackend) loadStats(ctx context.Context) (*Stats, error) {
	data, err := b.client.Get(ctx, b.statsKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return &Stats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	return &st, nil
}

func (b *RedisBackend) saveStats(ctx context.Context, st *Stats) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := b.client.Set(ctx, b.statsKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func (b *RedisBackend) Create(ctx context.Context, id, topic, learningContext string) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	exists, err := b.client.Exists(ctx, b.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if exists > 0 {
		return nil, ErrSessionExists
	}
	s := &Session{
		ID:        id,
		Topic:     topic,
		Context:   learningContext,
		StartedAt: time.Now().UTC(),
		IsActive:  true,
	}
	if err := b.saveSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.loadSession(ctx, id)
}

func (b *RedisBackend) Update(ctx context.Context, id string, upd Update) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	applyUpdate(s, upd)
	if err := b.saveSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	removed, err := b.client.Del(ctx, b.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if removed == 0 {
		return ErrSessionNotFound
	}
	if err := b.client.ZRem(ctx, b.indexKey(), id).Err(); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	return nil
}

func (b *RedisBackend) ListAll(ctx context.Context) ([]*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.listSessions(ctx)
}

// listSessions walks the start-time index newest first.
func (b *RedisBackend) listSessions(ctx context.Context) ([]*Session, error) {
	ids, err := b.client.ZRevRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := b.loadSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// expired session still in index
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *RedisBackend) GetStats(ctx context.Context) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.loadStats(ctx)
}

func (b *RedisBackend) UpdateStatsOnEnd(ctx context.Context, ended *Session) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.loadStats(ctx)
	if err != nil {
		return nil, err
	}
	all, err := b.listSessions(ctx)
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
	if err := b.saveStats(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (b *RedisBackend) DecayStreak(ctx context.Context, now time.Time) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.loadStats(ctx)
	if err != nil {
		return err
	}
	decayStreak(st, now)
	return b.saveStats(ctx, st)
}

func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
