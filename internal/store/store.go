package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pablosanz/examgen/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxIDAttempts bounds share-id regeneration on unique-index collisions.
const maxIDAttempts = 5

// ErrNotFound is returned by FindByID when no document matches. A lookup
// miss is not a fault.
var ErrNotFound = errors.New("result not found")

// MissingFieldError reports a required save-result field that was absent
// or null.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// collection is the slice of collection behavior the store needs. The
// real implementation wraps a mongo collection; tests supply a fake.
type collection interface {
	insertOne(ctx context.Context, doc model.ExamResult) error
	// findByUniqueID returns (nil, nil) when no document matches.
	findByUniqueID(ctx context.Context, id string) (*model.ExamResult, error)
}

// Store owns the exam-results collection. The Mongo connection is
// established lazily, once per process, and reused on every call.
type Store struct {
	uri      string
	dbName   string
	collName string

	mu     sync.Mutex
	client *mongo.Client
	coll   collection
}

// New creates a store. No connection is made until the first operation.
func New(uri, dbName, collName string) *Store {
	return &Store{uri: uri, dbName: dbName, collName: collName}
}

// EnsureConnected establishes the Mongo client if it is not up yet. It is
// safe to call repeatedly; once connected it is a no-op. A failed attempt
// leaves the store unconnected so a later call can retry.
func (s *Store) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coll != nil {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping database: %w", err)
	}

	coll := client.Database(s.dbName).Collection(s.collName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uniqueId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ensure unique index: %w", err)
	}

	s.client = client
	s.coll = &mongoCollection{coll: coll}
	slog.Info("connected to results collection", "db", s.dbName, "collection", s.collName)
	return nil
}

// Close disconnects the client if a connection was ever made.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	return err
}

// Create validates the payload, stamps it with a fresh share id and
// creation time, and inserts it. On a unique-index collision the id is
// regenerated, up to maxIDAttempts times. Returns the committed id.
func (s *Store) Create(ctx context.Context, payload model.ResultPayload) (string, error) {
	if err := validatePayload(payload); err != nil {
		return "", err
	}
	if err := s.EnsureConnected(ctx); err != nil {
		return "", err
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := NewShareID()
		if err != nil {
			return "", err
		}
		doc := model.ExamResult{
			UniqueID:       id,
			CreatedAt:      time.Now().UTC(),
			Score:          *payload.Score,
			Answers:        payload.Answers,
			TotalQuestions: *payload.TotalQuestions,
			Exam:           payload.Exam,
		}
		err = s.coll.insertOne(ctx, doc)
		if err == nil {
			return id, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("insert result: %w", err)
		}
		slog.Warn("share id collision, regenerating", "id", id, "attempt", attempt)
	}
	return "", fmt.Errorf("could not generate a unique share id in %d attempts", maxIDAttempts)
}

// FindByID returns the stored result for an exact, case-sensitive id
// match, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*model.ExamResult, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	res, err := s.coll.findByUniqueID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find result %s: %w", id, err)
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res, nil
}

func validatePayload(p model.ResultPayload) error {
	switch {
	case p.Score == nil:
		return &MissingFieldError{Field: "score"}
	case p.Answers == nil:
		return &MissingFieldError{Field: "answers"}
	case p.TotalQuestions == nil:
		return &MissingFieldError{Field: "totalQuestions"}
	case p.Exam == nil:
		return &MissingFieldError{Field: "exam"}
	}
	return nil
}

// mongoCollection adapts a mongo collection to the collection interface.
type mongoCollection struct {
	coll *mongo.Collection
}

func (m *mongoCollection) insertOne(ctx context.Context, doc model.ExamResult) error {
	_, err := m.coll.InsertOne(ctx, doc)
	return err
}

func (m *mongoCollection) findByUniqueID(ctx context.Context, id string) (*model.ExamResult, error) {
	var res model.ExamResult
	err := m.coll.FindOne(ctx, bson.M{"uniqueId": id}).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
