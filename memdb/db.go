// Package memdb is an in-memory store that implements every repository and
// db.TxBeginner. Transactions are serialized by a single lock and roll back
// by restoring a snapshot, which matches the observable behaviour of the
// Postgres store closely enough for tests and the memory dev mode.
package memdb

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freelancedao/db"
	"freelancedao/dispute"
	"freelancedao/escrow"
	"freelancedao/eventlog"
	"freelancedao/identity"
	"freelancedao/job"
	"freelancedao/wallet"
)

var (
	errUnsupported = errors.New("memdb: raw SQL is not supported")
	errForeignTx   = errors.New("memdb: transaction does not belong to this store")
)

type state struct {
	accounts  map[string]identity.Account
	tokens    map[string]int64
	wallets   map[string]wallet.Balance
	jobs      map[int64]job.Job
	escrow    map[int64]escrow.Entry
	members   map[string]time.Time
	proposals map[int64]dispute.Proposal
	votes     map[int64]map[string]dispute.Vote
	events    []eventlog.Event
	outbox    []eventlog.Message
}

func newState() *state {
	return &state{
		accounts:  make(map[string]identity.Account),
		tokens:    make(map[string]int64),
		wallets:   make(map[string]wallet.Balance),
		jobs:      make(map[int64]job.Job),
		escrow:    make(map[int64]escrow.Entry),
		members:   make(map[string]time.Time),
		proposals: make(map[int64]dispute.Proposal),
		votes:     make(map[int64]map[string]dispute.Vote),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.escrow {
		c.escrow[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.proposals {
		c.proposals[k] = v
	}
	for id, ballots := range s.votes {
		inner := make(map[string]dispute.Vote, len(ballots))
		for voter, v := range ballots {
			inner[voter] = v
		}
		c.votes[id] = inner
	}
	c.events = append([]eventlog.Event(nil), s.events...)
	c.outbox = append([]eventlog.Message(nil), s.outbox...)
	return c
}

// DB is the in-memory store. The zero value is not usable; call New.
type DB struct {
	// mu is held for the whole life of an outermost transaction.
	mu    sync.Mutex
	state *state

	// Sequences survive rollback, like BIGSERIAL.
	seqMu          sync.Mutex
	nextJobID      int64
	nextProposalID int64
	nextEventSeq   int64

	now func() time.Time
}

func New() *DB {
	return &DB{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source for created/updated columns.
func (d *DB) WithClock(now func() time.Time) *DB {
	d.now = now
	return d
}

var _ db.TxBeginner = (*DB)(nil)

// Begin opens an outermost transaction, blocking until no other is open.
func (d *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	return &memTx{db: d, snapshot: d.state.clone()}, nil
}

// Ping always succeeds.
func (d *DB) Ping(ctx context.Context) error {
	return nil
}

func (d *DB) stamp() time.Time {
	return d.now().UTC()
}

func (d *DB) nextID(counter *int64) int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	*counter++
	return *counter
}

// access runs fn against the live state. Inside a transaction carried by ctx
// the lock is already held; otherwise fn runs under the lock.
func (d *DB) access(ctx context.Context, fn func(*state) error) error {
	if tx, ok := db.TxFromContext(ctx); ok {
		if mt, ok := tx.(*memTx); ok && mt.db == d {
			if mt.closed {
				return pgx.ErrTxClosed
			}
			return fn(d.state)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.state)
}

// within runs fn against the live state on behalf of tx.
func (d *DB) within(tx pgx.Tx, fn func(*state) error) error {
	mt, ok := tx.(*memTx)
	if !ok || mt.db != d {
		return errForeignTx
	}
	if mt.closed {
		return pgx.ErrTxClosed
	}
	return fn(d.state)
}

// snapshot copies the committed state for read-only inspection.
func (d *DB) snapshot() *state {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.clone()
}

// EscrowEntries lists every escrow entry ordered by job id.
func (d *DB) EscrowEntries() []escrow.Entry {
	s := d.snapshot()
	out := make([]escrow.Entry, 0, len(s.escrow))
	for _, e := range s.escrow {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// memTx is a transaction or, when parent is set, a savepoint.
type memTx struct {
	db       *DB
	parent   *memTx
	snapshot *state
	closed   bool
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) {
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	return &memTx{db: t.db, parent: t, snapshot: t.db.state.clone()}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.snapshot = nil
	if t.parent == nil {
		t.db.mu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.state = t.snapshot
	t.snapshot = nil
	if t.parent == nil {
		t.db.mu.Unlock()
	}
	return nil
}

func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}

func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	return errBatch{}
}

func (t *memTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}

func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (t *memTx) Conn() *pgx.Conn {
	return nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return errUnsupported }

type errBatch struct{}

func (errBatch) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, errUnsupported }
func (errBatch) Query() (pgx.Rows, error)         { return nil, errUnsupported }
func (errBatch) QueryRow() pgx.Row                { return errRow{} }
func (errBatch) Close() error                     { return nil }
