package eventlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of the append-only log. Seq is assigned by the store
// and strictly increases.
type Event struct {
	Seq       int64           `json:"seq"`
	Topic     string          `json:"topic"`
	Actor     string          `json:"actor,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// MessageStatus tracks delivery of an outbox row.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageProcessed MessageStatus = "processed"
	MessageDead      MessageStatus = "dead"
)

// Message is the outbox copy of an event, written in the same transaction
// and drained by the Relay.
type Message struct {
	ID          uuid.UUID
	EventSeq    int64
	Topic       string
	Payload     json.RawMessage
	Status      MessageStatus
	Attempts    int
	LastError   string
	LastAttempt *time.Time
	CreatedAt   time.Time
}
