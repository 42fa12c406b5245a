// Package eventlog keeps the append-only log of successful mutations and the
// transactional outbox that relays them to external indexers.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"freelancedao/fault"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// ErrNoTransaction signals a Record call made outside a transaction.
var ErrNoTransaction = errors.New("eventlog: record requires a transaction")

// ErrInvalidCursor signals a negative list cursor.
var ErrInvalidCursor = fault.New(fault.Invalid, "eventlog: invalid cursor")

// Recorder appends an event in the caller's transaction, so the entry
// commits or rolls back with the mutation it describes.
type Recorder interface {
	Record(ctx context.Context, tx pgx.Tx, topic, actor string, payload map[string]any) (Event, error)
}

type Service struct {
	repo  Repository
	newID func() uuid.UUID
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, newID: uuid.New}
}

// Record implements Recorder.
func (s *Service) Record(ctx context.Context, tx pgx.Tx, topic, actor string, payload map[string]any) (Event, error) {
	if tx == nil {
		return Event{}, ErrNoTransaction
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal %s payload: %w", topic, err)
	}
	return s.repo.Append(ctx, tx, Event{Topic: topic, Actor: actor, Payload: body}, s.newID())
}

// List pages through the log in sequence order for indexers.
func (s *Service) List(ctx context.Context, afterSeq int64, limit int) ([]Event, error) {
	if afterSeq < 0 {
		return nil, ErrInvalidCursor
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, afterSeq, limit)
}
