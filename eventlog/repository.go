package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository persists events and their outbox rows.
type Repository interface {
	Append(ctx context.Context, tx pgx.Tx, ev Event, outboxID uuid.UUID) (Event, error)
	List(ctx context.Context, afterSeq int64, limit int) ([]Event, error)
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, reason string, dead bool) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Append inserts the event and its outbox message inside tx.
func (r *PGRepository) Append(ctx context.Context, tx pgx.Tx, ev Event, outboxID uuid.UUID) (Event, error) {
	const insertEvent = `
INSERT INTO events (topic, actor, payload)
VALUES ($1, $2, $3)
RETURNING seq, created_at;
`
	var actor any
	if ev.Actor != "" {
		actor = ev.Actor
	}
	if err := tx.QueryRow(ctx, insertEvent, ev.Topic, actor, []byte(ev.Payload)).Scan(&ev.Seq, &ev.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("eventlog: insert event: %w", err)
	}

	const insertOutbox = `
INSERT INTO outbox (id, event_seq, topic, payload)
VALUES ($1, $2, $3, $4);
`
	if _, err := tx.Exec(ctx, insertOutbox, outboxID, ev.Seq, ev.Topic, []byte(ev.Payload)); err != nil {
		return Event{}, fmt.Errorf("eventlog: insert outbox message: %w", err)
	}
	return ev, nil
}

// List returns up to limit events with seq greater than afterSeq.
func (r *PGRepository) List(ctx context.Context, afterSeq int64, limit int) ([]Event, error) {
	const query = `
		SELECT seq, topic, actor, payload, created_at
		FROM events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev    Event
			actor sql.NullString
		)
		if err := rows.Scan(&ev.Seq, &ev.Topic, &actor, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		ev.Actor = actor.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate events: %w", err)
	}
	return events, nil
}

// ClaimPending locks up to limit pending messages. Concurrent relays skip
// rows another relay already holds.
func (r *PGRepository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const query = `
		SELECT id, event_seq, topic, payload, status, attempts, COALESCE(last_error, ''), last_attempt, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY event_seq ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: claim pending: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.EventSeq, &msg.Topic, &msg.Payload, &msg.Status, &msg.Attempts, &msg.LastError, &msg.LastAttempt, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate messages: %w", err)
	}
	return msgs, nil
}

func (r *PGRepository) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	const updateSQL = `
UPDATE outbox
SET status = 'processed', attempts = attempts + 1, last_attempt = $2, last_error = NULL
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, updateSQL, id, at); err != nil {
		return fmt.Errorf("eventlog: mark processed: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, reason string, dead bool) error {
	status := MessagePending
	if dead {
		status = MessageDead
	}
	const updateSQL = `
UPDATE outbox
SET status = $2, attempts = attempts + 1, last_attempt = $3, last_error = $4
WHERE id = $1;
`
	if _, err := tx.Exec(ctx, updateSQL, id, string(status), at, reason); err != nil {
		return fmt.Errorf("eventlog: mark failed: %w", err)
	}
	return nil
}
