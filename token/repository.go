package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository provides read access to voting token balances. The token issuer
// owns the table; nothing here writes to it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BalanceOf returns the balance held by account. Unknown accounts hold zero.
func (r *Repository) BalanceOf(ctx context.Context, account string) (int64, error) {
	const query = `SELECT COALESCE((SELECT balance FROM token_balances WHERE account = $1), 0)`

	var balance int64
	if err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query, account).Scan(&balance); err != nil {
		return 0, fmt.Errorf("token: balance of: %w", err)
	}
	return balance, nil
}

// TotalSupply sums every balance.
func (r *Repository) TotalSupply(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(SUM(balance), 0)::BIGINT FROM token_balances`

	var supply int64
	if err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query).Scan(&supply); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22003" {
			return 0, ErrSupplyOverflow
		}
		return 0, fmt.Errorf("token: total supply: %w", err)
	}
	return supply, nil
}
