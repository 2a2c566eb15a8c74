package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend implements Store on Google Cloud Firestore, for hosted
// deployments that want managed persistence without running a database.
//
// Layout: one collection of session documents keyed by session ID, plus a
// single stats document. Listing orders on the started_at field, which needs
// no composite index.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.Mutex
	closed     bool
}

// FirestoreOption configures a FirestoreBackend.
type FirestoreOption func(*firestoreConfig)

type firestoreConfig struct {
	projectID       string
	credentialsFile string
	collection      string
}

// WithProjectID sets the GCP project ID (required).
func WithProjectID(projectID string) FirestoreOption {
	return func(c *firestoreConfig) { c.projectID = projectID }
}

// WithCredentialsFile uses service account credentials instead of
// Application Default Credentials.
func WithCredentialsFile(path string) FirestoreOption {
	return func(c *firestoreConfig) { c.credentialsFile = path }
}

// WithCollection overrides the default "learning_sessions" collection name.
func WithCollection(name string) FirestoreOption {
	return func(c *firestoreConfig) { c.collection = name }
}

// NewFirestoreBackend creates a Firestore-backed store.
func NewFirestoreBackend(ctx context.Context, opts ...FirestoreOption) (*FirestoreBackend, error) {
	cfg := &firestoreConfig{collection: "learning_sessions"}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.projectID == "" {
		return nil, errors.New("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreBackend{client: client, collection: cfg.collection}, nil
}

// firestoreDoc wraps a session with the start time broken out for ordering.
type firestoreDoc struct {
	StartedAt time.Time `firestore:"started_at"`
	IsActive  bool      `firestore:"is_active"`
	Data      []byte    `firestore:"data"`
}

func marshalSession(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func decodeSessionDoc(fields map[string]any) (*Session, error) {
	raw, ok := fields["data"].([]byte)
	if !ok {
		return nil, errors.New("session document has no data field")
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

func (b *FirestoreBackend) sessions() *firestore.CollectionRef {
	return b.client.Collection(b.collection)
}

func (b *FirestoreBackend) statsDoc() *firestore.DocumentRef {
	return b.client.Collection(b.collection + "_meta").Doc("stats")
}

func (b *FirestoreBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *FirestoreBackend) writeSession(ctx context.Context, s *Session) error {
	data, err := marshalSession(s)
	if err != nil {
		return err
	}
	_, err = b.sessions().Doc(s.ID).Set(ctx, firestoreDoc{
		StartedAt: s.StartedAt,
		IsActive:  s.IsActive,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (b *FirestoreBackend) readSession(ctx context.Context, id string) (*Session, error) {
	snap, err := b.sessions().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return decodeSessionDoc(snap.Data())
}

func (b *FirestoreBackend) Create(ctx context.Context, id, topic, learningContext string) (*Session, error) {
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

func (b *FirestoreBackend) Get(ctx context.Context, id string) (*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.readSession(ctx, id)
}

func (b *FirestoreBackend) Update(ctx context.Context, id string, upd Update) (*Session, error) {
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

func (b *FirestoreBackend) Delete(ctx context.Context, id string) error {
	if b.isClosed() {
		return ErrStorageClosed
	}
	if _, err := b.readSession(ctx, id); err != nil {
		return err
	}
	if _, err := b.sessions().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (b *FirestoreBackend) ListAll(ctx context.Context) ([]*Session, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.listSessions(ctx, b.sessions().OrderBy("started_at", firestore.Desc).Documents(ctx))
}

func (b *FirestoreBackend) listSessions(ctx context.Context, iter *firestore.DocumentIterator) ([]*Session, error) {
	defer iter.Stop()
	var out []*Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate sessions: %w", err)
		}
		s, err := decodeSessionDoc(snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *FirestoreBackend) GetStats(ctx context.Context) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	return b.readStats(ctx)
}

func (b *FirestoreBackend) readStats(ctx context.Context) (*Stats, error) {
	snap, err := b.statsDoc().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return &Stats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	var st Stats
	if err := snap.DataTo(&st); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	return &st, nil
}

func (b *FirestoreBackend) UpdateStatsOnEnd(ctx context.Context, ended *Session) (*Stats, error) {
	if b.isClosed() {
		return nil, ErrStorageClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.readStats(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := b.listSessions(ctx, b.sessions().Where("is_active", "==", false).Documents(ctx))
	if err != nil {
		return nil, err
	}
	foldStats(st, ended, completed, time.Now().UTC())
	if _, err := b.statsDoc().Set(ctx, st); err != nil {
		return nil, fmt.Errorf("write stats: %w", err)
	}
	return st, nil
}

func (b *FirestoreBackend) DecayStreak(ctx context.Context, now time.Time) error {
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
	if _, err := b.statsDoc().Set(ctx, st); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
