package memdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freelancedao/escrow"
)

// EscrowRepo implements escrow.Repository.
type EscrowRepo struct{ db *DB }

var _ escrow.Repository = EscrowRepo{}

func (d *DB) Escrow() EscrowRepo { return EscrowRepo{db: d} }

func (r EscrowRepo) Get(ctx context.Context, jobID int64) (escrow.Entry, error) {
	var out escrow.Entry
	err := r.db.access(ctx, func(s *state) error {
		e, ok := s.escrow[jobID]
		if !ok {
			return escrow.ErrEntryNotFound
		}
		out = e
		return nil
	})
	return out, err
}

func (r EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (escrow.Entry, error) {
	var out escrow.Entry
	err := r.db.within(tx, func(s *state) error {
		e, ok := s.escrow[jobID]
		if !ok {
			return escrow.ErrEntryNotFound
		}
		out = e
		return nil
	})
	return out, err
}

func (r EscrowRepo) Insert(ctx context.Context, tx pgx.Tx, entry escrow.Entry) (escrow.Entry, error) {
	err := r.db.within(tx, func(s *state) error {
		if _, ok := s.escrow[entry.JobID]; ok {
			return escrow.ErrAlreadyFunded
		}
		if _, ok := s.jobs[entry.JobID]; !ok {
			return fmt.Errorf("memdb: escrow entry for unknown job %d", entry.JobID)
		}
		if entry.Amount < 0 {
			return fmt.Errorf("memdb: escrow entry %d: negative amount", entry.JobID)
		}
		now := r.db.stamp()
		entry.Released, entry.Refunded = false, false
		entry.DepositedTotal = entry.Amount
		entry.DisbursedTotal = 0
		entry.CreatedAt, entry.UpdatedAt = now, now
		s.escrow[entry.JobID] = entry
		return nil
	})
	if err != nil {
		return escrow.Entry{}, err
	}
	return entry, nil
}

// Update enforces the constraints and freeze trigger of escrow_entries.
func (r EscrowRepo) Update(ctx context.Context, tx pgx.Tx, entry escrow.Entry) (escrow.Entry, error) {
	err := r.db.within(tx, func(s *state) error {
		old, ok := s.escrow[entry.JobID]
		if !ok {
			return escrow.ErrEntryNotFound
		}
		if old.Disbursed() {
			return fmt.Errorf("memdb: escrow entry %d already disbursed", entry.JobID)
		}
		if entry.Released && entry.Refunded {
			return fmt.Errorf("memdb: escrow entry %d: released and refunded", entry.JobID)
		}
		if entry.DepositedTotal-entry.DisbursedTotal != entry.Amount {
			return fmt.Errorf("memdb: escrow entry %d: conservation violated", entry.JobID)
		}
		entry.Client = old.Client
		entry.CreatedAt = old.CreatedAt
		entry.UpdatedAt = r.db.stamp()
		s.escrow[entry.JobID] = entry
		return nil
	})
	if err != nil {
		return escrow.Entry{}, err
	}
	return entry, nil
}
