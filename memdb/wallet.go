package memdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freelancedao/wallet"
)

// WalletRepo implements wallet.Repository.
type WalletRepo struct{ db *DB }

var _ wallet.Repository = WalletRepo{}

func (d *DB) Wallets() WalletRepo { return WalletRepo{db: d} }

func (r WalletRepo) Get(ctx context.Context, account string) (wallet.Balance, error) {
	var out wallet.Balance
	err := r.db.access(ctx, func(s *state) error {
		out = s.balance(account)
		return nil
	})
	return out, err
}

func (r WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, account string) (wallet.Balance, error) {
	var out wallet.Balance
	err := r.db.within(tx, func(s *state) error {
		out = s.balance(account)
		return nil
	})
	return out, err
}

func (r WalletRepo) Save(ctx context.Context, tx pgx.Tx, b wallet.Balance) (wallet.Balance, error) {
	err := r.db.within(tx, func(s *state) error {
		if b.Amount < 0 {
			return fmt.Errorf("memdb: wallet %s: negative balance %d", b.Account, b.Amount)
		}
		b.UpdatedAt = r.db.stamp()
		s.wallets[b.Account] = b
		return nil
	})
	if err != nil {
		return wallet.Balance{}, err
	}
	return b, nil
}

func (s *state) balance(account string) wallet.Balance {
	if b, ok := s.wallets[account]; ok {
		return b
	}
	return wallet.Balance{Account: account, AcceptsTransfers: true}
}
