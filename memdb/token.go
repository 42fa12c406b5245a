package memdb

import (
	"context"
	"math"

	"freelancedao/token"
)

// TokenRepo implements token.BalanceReader.
type TokenRepo struct{ db *DB }

var _ token.BalanceReader = TokenRepo{}

func (d *DB) Tokens() TokenRepo { return TokenRepo{db: d} }

func (r TokenRepo) BalanceOf(ctx context.Context, account string) (int64, error) {
	var out int64
	err := r.db.access(ctx, func(s *state) error {
		out = s.tokens[account]
		return nil
	})
	return out, err
}

func (r TokenRepo) TotalSupply(ctx context.Context) (int64, error) {
	var out int64
	err := r.db.access(ctx, func(s *state) error {
		for _, b := range s.tokens {
			if b > math.MaxInt64-out {
				return token.ErrSupplyOverflow
			}
			out += b
		}
		return nil
	})
	return out, err
}

// SetTokenBalance stands in for the token issuer.
func (d *DB) SetTokenBalance(account string, balance int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if balance <= 0 {
		delete(d.state.tokens, account)
		return
	}
	d.state.tokens[account] = balance
}
