package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository handles data access for balances.
type Repository interface {
	Get(ctx context.Context, account string) (Balance, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, account string) (Balance, error)
	Save(ctx context.Context, tx pgx.Tx, b Balance) (Balance, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const balanceColumns = `account, balance, accepts_transfers, updated_at`

func (r *PGRepository) Get(ctx context.Context, account string) (Balance, error) {
	const query = `SELECT ` + balanceColumns + ` FROM wallet_balances WHERE account = $1`

	b, err := scanBalance(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query, account))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Account: account, AcceptsTransfers: true}, nil
		}
		return Balance{}, fmt.Errorf("wallet: get: %w", err)
	}
	return b, nil
}

// GetForUpdate makes sure the row exists and locks it for the rest of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, account string) (Balance, error) {
	const ensureSQL = `INSERT INTO wallet_balances (account) VALUES ($1) ON CONFLICT (account) DO NOTHING`
	if _, err := tx.Exec(ctx, ensureSQL, account); err != nil {
		return Balance{}, fmt.Errorf("wallet: ensure row: %w", err)
	}

	const lockSQL = `SELECT ` + balanceColumns + ` FROM wallet_balances WHERE account = $1 FOR UPDATE`
	b, err := scanBalance(tx.QueryRow(ctx, lockSQL, account))
	if err != nil {
		return Balance{}, fmt.Errorf("wallet: lock: %w", err)
	}
	return b, nil
}

func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, b Balance) (Balance, error) {
	const updateSQL = `
UPDATE wallet_balances
SET balance = $2, accepts_transfers = $3, updated_at = now()
WHERE account = $1
RETURNING ` + balanceColumns

	saved, err := scanBalance(tx.QueryRow(ctx, updateSQL, b.Account, b.Amount, b.AcceptsTransfers))
	if err != nil {
		return Balance{}, fmt.Errorf("wallet: save: %w", err)
	}
	return saved, nil
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.Account, &b.Amount, &b.AcceptsTransfers, &b.UpdatedAt)
	return b, err
}
