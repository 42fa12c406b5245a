package memdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"freelancedao/eventlog"
)

// EventRepo implements eventlog.Repository.
type EventRepo struct{ db *DB }

var _ eventlog.Repository = EventRepo{}

func (d *DB) Events() EventRepo { return EventRepo{db: d} }

func (r EventRepo) Append(ctx context.Context, tx pgx.Tx, ev eventlog.Event, outboxID uuid.UUID) (eventlog.Event, error) {
	err := r.db.within(tx, func(s *state) error {
		ev.Seq = r.db.nextID(&r.db.nextEventSeq)
		ev.CreatedAt = r.db.stamp()
		s.events = append(s.events, ev)
		s.outbox = append(s.outbox, eventlog.Message{
			ID:        outboxID,
			EventSeq:  ev.Seq,
			Topic:     ev.Topic,
			Payload:   ev.Payload,
			Status:    eventlog.MessagePending,
			CreatedAt: ev.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return eventlog.Event{}, err
	}
	return ev, nil
}

func (r EventRepo) List(ctx context.Context, afterSeq int64, limit int) ([]eventlog.Event, error) {
	var out []eventlog.Event
	err := r.db.access(ctx, func(s *state) error {
		i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > afterSeq })
		for ; i < len(s.events) && len(out) < limit; i++ {
			out = append(out, s.events[i])
		}
		return nil
	})
	return out, err
}

func (r EventRepo) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]eventlog.Message, error) {
	var out []eventlog.Message
	err := r.db.within(tx, func(s *state) error {
		for _, msg := range s.outbox {
			if len(out) == limit {
				break
			}
			if msg.Status == eventlog.MessagePending {
				out = append(out, msg)
			}
		}
		return nil
	})
	return out, err
}

func (r EventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	return r.mark(tx, id, func(msg *eventlog.Message) {
		msg.Status = eventlog.MessageProcessed
		msg.Attempts++
		msg.LastAttempt = &at
		msg.LastError = ""
	})
}

func (r EventRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time, reason string, dead bool) error {
	return r.mark(tx, id, func(msg *eventlog.Message) {
		if dead {
			msg.Status = eventlog.MessageDead
		}
		msg.Attempts++
		msg.LastAttempt = &at
		msg.LastError = reason
	})
}

func (r EventRepo) mark(tx pgx.Tx, id uuid.UUID, apply func(*eventlog.Message)) error {
	return r.db.within(tx, func(s *state) error {
		for i := range s.outbox {
			if s.outbox[i].ID == id {
				apply(&s.outbox[i])
				return nil
			}
		}
		return fmt.Errorf("memdb: outbox message %s not found", id)
	})
}

// Outbox returns a copy of every outbox message in event order.
func (d *DB) Outbox() []eventlog.Message {
	return d.snapshot().outbox
}
