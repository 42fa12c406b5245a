// Package escrow holds deposited value per job until it is released to the
// worker or refunded to the client. Only the coordinator account may move
// value in or out.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"freelancedao/db"
	"freelancedao/eventlog"
	"freelancedao/fault"
	"freelancedao/identity"
	"freelancedao/logging"
)

var (
	ErrUnauthorized     = fault.New(fault.Authorization, "escrow: caller is not authorized")
	ErrZeroAmount       = fault.New(fault.Resource, "escrow: amount must be positive")
	ErrAlreadyFunded    = fault.New(fault.Resource, "escrow: job already funded")
	ErrAlreadyDisbursed = fault.New(fault.Precondition, "escrow: already released or refunded")
	ErrNotFunded        = fault.New(fault.Resource, "escrow: nothing to disburse")
	ErrReentrant        = fault.New(fault.Precondition, "escrow: re-entrant disbursement")
	ErrEntryNotFound    = fault.New(fault.NotFound, "escrow: entry not found")
	ErrInvalidPayee     = fault.New(fault.Invalid, "escrow: payee required")
)

// Transferer moves disbursed value to its recipient. It runs inside the
// disbursement's transaction; an error rolls the disbursement back.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount int64) error
}

// Authorities are the accounts the ledger trusts.
type Authorities struct {
	Owner       string
	Coordinator string
}

type disbursingKey struct{}

// Ledger is the escrow custody service.
type Ledger struct {
	pool   db.TxBeginner
	repo   Repository
	rail   Transferer
	events eventlog.Recorder
	logger *logging.Logger

	mu          sync.RWMutex
	owner       string
	coordinator string

	// disburse admits one release or refund at a time.
	disburse sync.Mutex
}

func NewLedger(pool db.TxBeginner, repo Repository, rail Transferer, events eventlog.Recorder, auth Authorities, logger *logging.Logger) *Ledger {
	return &Ledger{
		pool:        pool,
		repo:        repo,
		rail:        rail,
		events:      events,
		logger:      logger.WithComponent("escrow"),
		owner:       auth.Owner,
		coordinator: auth.Coordinator,
	}
}

func (l *Ledger) Owner() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *Ledger) Coordinator() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.coordinator
}

// Deposit records amount from client against jobID.
func (l *Ledger) Deposit(ctx context.Context, caller string, jobID int64, client string, amount int64) (Entry, error) {
	if caller != l.Coordinator() {
		return Entry{}, ErrUnauthorized
	}
	if amount <= 0 {
		return Entry{}, ErrZeroAmount
	}

	ctx, tx, err := db.Begin(ctx, l.pool)
	if err != nil {
		return Entry{}, fmt.Errorf("escrow: deposit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := l.repo.GetForUpdate(ctx, tx, jobID)
	switch {
	case err == nil && existing.Disbursed():
		return Entry{}, ErrAlreadyDisbursed
	case err == nil:
		return Entry{}, ErrAlreadyFunded
	case !errors.Is(err, ErrEntryNotFound):
		return Entry{}, err
	}

	entry, err := l.repo.Insert(ctx, tx, Entry{JobID: jobID, Client: client, Amount: amount})
	if err != nil {
		return Entry{}, err
	}
	if _, err := l.events.Record(ctx, tx, TopicDeposited, client, map[string]any{
		"job_id": jobID,
		"client": client,
		"amount": amount,
	}); err != nil {
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("escrow: deposit: commit tx: %w", err)
	}
	l.logger.Info("deposited", "job_id", jobID, "client", client, "amount", amount)
	return entry, nil
}

// Release pays the full stored amount to payee.
func (l *Ledger) Release(ctx context.Context, caller string, jobID int64, payee string) (Entry, error) {
	if payee == "" {
		return Entry{}, ErrInvalidPayee
	}
	return l.settle(ctx, caller, jobID, payee, true)
}

// Refund returns the full stored amount to the depositing client.
func (l *Ledger) Refund(ctx context.Context, caller string, jobID int64) (Entry, error) {
	return l.settle(ctx, caller, jobID, "", false)
}

// settle applies the disbursement effects, persists them, and only then
// hands the value to the rail. A rail failure rolls everything back.
func (l *Ledger) settle(ctx context.Context, caller string, jobID int64, payee string, release bool) (Entry, error) {
	if ctx.Value(disbursingKey{}) != nil {
		return Entry{}, ErrReentrant
	}
	if caller != l.Coordinator() {
		return Entry{}, ErrUnauthorized
	}

	op := "refund"
	if release {
		op = "release"
	}

	ctx, tx, err := db.Begin(ctx, l.pool)
	if err != nil {
		return Entry{}, fmt.Errorf("escrow: %s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	// Taken while the caller's tx already holds its job row lock. This relies on
	// each transaction disbursing at most once; a second settle in the same tx
	// could wait here behind a tx that is waiting on our rows.
	l.disburse.Lock()
	defer l.disburse.Unlock()

	entry, err := l.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return Entry{}, ErrNotFunded
		}
		return Entry{}, err
	}
	if entry.Disbursed() {
		return Entry{}, ErrAlreadyDisbursed
	}
	if entry.Amount <= 0 {
		return Entry{}, ErrNotFunded
	}

	amount := entry.Amount
	topic := TopicRefunded
	if release {
		entry.Released = true
		topic = TopicReleased
	} else {
		entry.Refunded = true
		payee = entry.Client
	}
	entry.Amount = 0
	entry.DisbursedTotal += amount

	saved, err := l.repo.Update(ctx, tx, entry)
	if err != nil {
		return Entry{}, err
	}
	if _, err := l.events.Record(ctx, tx, topic, caller, map[string]any{
		"job_id": jobID,
		"to":     payee,
		"amount": amount,
	}); err != nil {
		return Entry{}, err
	}

	if err := l.rail.Transfer(context.WithValue(ctx, disbursingKey{}, jobID), payee, amount); err != nil {
		l.logger.Warn("transfer failed", "op", op, "job_id", jobID, "to", payee, "error", err)
		return Entry{}, fmt.Errorf("escrow: %s to %s: %w", op, payee, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("escrow: %s: commit tx: %w", op, err)
	}
	l.logger.Info("disbursed", "op", op, "job_id", jobID, "to", payee, "amount", amount)
	return saved, nil
}

// Balance returns the live stored amount for jobID. A job that never
// received a deposit holds zero.
func (l *Ledger) Balance(ctx context.Context, jobID int64) (int64, error) {
	entry, err := l.repo.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Amount, nil
}

// Entry returns the full record for jobID.
func (l *Ledger) Entry(ctx context.Context, jobID int64) (Entry, error) {
	return l.repo.Get(ctx, jobID)
}

// SetCoordinator hands the coordinator role to next. Owner only.
func (l *Ledger) SetCoordinator(ctx context.Context, caller, next string) error {
	return l.changeAuthority(ctx, caller, next, TopicCoordinatorChanged, func(acct string) {
		l.coordinator = acct
	})
}

// TransferOwnership hands the owner role to next. Owner only.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, next string) error {
	return l.changeAuthority(ctx, caller, next, TopicOwnershipTransferred, func(acct string) {
		l.owner = acct
	})
}

func (l *Ledger) changeAuthority(ctx context.Context, caller, next, topic string, apply func(string)) error {
	acct, err := identity.ParseAccount(next)
	if err != nil {
		return err
	}

	if caller != l.Owner() {
		return ErrUnauthorized
	}

	ctx, tx, err := db.Begin(ctx, l.pool)
	if err != nil {
		return fmt.Errorf("escrow: %s: begin tx: %w", topic, err)
	}
	defer tx.Rollback(ctx)

	if _, err := l.events.Record(ctx, tx, topic, caller, map[string]any{"account": acct}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: %s: commit tx: %w", topic, err)
	}
	l.mu.Lock()
	apply(acct)
	l.mu.Unlock()
	l.logger.Info("authority changed", "topic", topic, "account", acct)
	return nil
}
