package eventlog

import (
	"context"
	"fmt"
	"time"

	"freelancedao/db"
	"freelancedao/logging"
)

// Publisher delivers one outbox message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher writes each message to the structured log. It is the default
// sink when no broker is configured.
type LogPublisher struct {
	Log *logging.Logger
}

func (p LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.Log.Info("event published",
		"topic", msg.Topic,
		"event_seq", msg.EventSeq,
		"message_id", msg.ID.String(),
		"payload", string(msg.Payload),
	)
	return nil
}

// RelayConfig tunes the outbox drain loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Relay drains pending outbox rows to a Publisher.
type Relay struct {
	pool   db.TxBeginner
	repo   Repository
	pub    Publisher
	cfg    RelayConfig
	logger *logging.Logger
	now    func() time.Time
}

func NewRelay(pool db.TxBeginner, repo Repository, pub Publisher, cfg RelayConfig, logger *logging.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Relay{
		pool:   pool,
		repo:   repo,
		pub:    pub,
		cfg:    cfg,
		logger: logger.WithComponent("outbox"),
		now:    time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox drain failed", "error", err)
			}
		}
	}
}

// Drain delivers one batch and returns how many messages were published.
// A message that keeps failing is parked as dead after MaxAttempts.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventlog: begin drain: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.repo.ClaimPending(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range msgs {
		now := r.now().UTC()
		if err := r.pub.Publish(ctx, msg); err != nil {
			dead := msg.Attempts+1 >= r.cfg.MaxAttempts
			r.logger.Warn("publish failed",
				"message_id", msg.ID.String(),
				"topic", msg.Topic,
				"attempt", msg.Attempts+1,
				"dead", dead,
				"error", err,
			)
			if err := r.repo.MarkFailed(ctx, tx, msg.ID, now, err.Error(), dead); err != nil {
				return published, err
			}
			continue
		}
		if err := r.repo.MarkProcessed(ctx, tx, msg.ID, now); err != nil {
			return published, err
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("eventlog: commit drain: %w", err)
	}
	return published, nil
}
