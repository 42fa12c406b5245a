// Package wallet is the value rail behind escrow: it debits employers on
// deposit and credits payees on release or refund.
package wallet

import (
	"context"
	"fmt"
	"math"

	"freelancedao/db"
	"freelancedao/fault"
	"freelancedao/logging"
)

var (
	ErrInvalidAmount     = fault.New(fault.Invalid, "wallet: amount must be positive")
	ErrInsufficientFunds = fault.New(fault.Resource, "wallet: insufficient funds")
	ErrBalanceOverflow   = fault.New(fault.Invalid, "wallet: credit would overflow balance")
	// ErrTransferRejected is returned when the recipient refuses incoming value.
	ErrTransferRejected = fault.New(fault.Transfer, "wallet: recipient rejected transfer")
)

type Service struct {
	pool   db.TxBeginner
	repo   Repository
	logger *logging.Logger
}

func NewService(pool db.TxBeginner, repo Repository, logger *logging.Logger) *Service {
	return &Service{pool: pool, repo: repo, logger: logger.WithComponent("wallet")}
}

// Balance returns the current balance of account.
func (s *Service) Balance(ctx context.Context, account string) (Balance, error) {
	return s.repo.Get(ctx, account)
}

// Fund credits account from outside the system. It ignores the
// accepts-transfers flag, which only governs disbursements.
func (s *Service) Fund(ctx context.Context, account string, amount int64) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	out, err := s.update(ctx, "fund", account, func(b Balance) (Balance, error) {
		return credit(b, amount)
	})
	if err != nil {
		return Balance{}, err
	}
	s.logger.Info("wallet funded", "account", account, "amount", amount, "balance", out.Amount)
	return out, nil
}

// Withdraw debits account. It joins the transaction carried by ctx.
func (s *Service) Withdraw(ctx context.Context, account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.update(ctx, "withdraw", account, func(b Balance) (Balance, error) {
		if b.Amount < amount {
			return Balance{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, b.Amount, amount)
		}
		b.Amount -= amount
		return b, nil
	})
	return err
}

// Transfer credits account with a disbursement. It joins the transaction
// carried by ctx, so a rejection rolls back the caller too.
func (s *Service) Transfer(ctx context.Context, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.update(ctx, "transfer", to, func(b Balance) (Balance, error) {
		if !b.AcceptsTransfers {
			return Balance{}, ErrTransferRejected
		}
		return credit(b, amount)
	})
	return err
}

// SetAcceptsTransfers toggles whether account takes disbursements.
func (s *Service) SetAcceptsTransfers(ctx context.Context, account string, accepts bool) (Balance, error) {
	return s.update(ctx, "set accepts transfers", account, func(b Balance) (Balance, error) {
		b.AcceptsTransfers = accepts
		return b, nil
	})
}

func credit(b Balance, amount int64) (Balance, error) {
	if amount > math.MaxInt64-b.Amount {
		return Balance{}, fmt.Errorf("%w: have %d, adding %d", ErrBalanceOverflow, b.Amount, amount)
	}
	b.Amount += amount
	return b, nil
}

// update locks the balance row, applies fn and saves the result in one tx.
func (s *Service) update(ctx context.Context, op, account string, fn func(Balance) (Balance, error)) (Balance, error) {
	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Balance{}, fmt.Errorf("wallet: %s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, account)
	if err != nil {
		return Balance{}, err
	}
	next, err := fn(current)
	if err != nil {
		return Balance{}, err
	}
	saved, err := s.repo.Save(ctx, tx, next)
	if err != nil {
		return Balance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Balance{}, fmt.Errorf("wallet: %s: commit tx: %w", op, err)
	}
	return saved, nil
}
