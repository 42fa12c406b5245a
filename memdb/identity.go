package memdb

import (
	"context"

	"freelancedao/identity"
)

// AccountRepo implements identity.Repository.
type AccountRepo struct{ db *DB }

var _ identity.Repository = AccountRepo{}

func (d *DB) Accounts() AccountRepo { return AccountRepo{db: d} }

func (r AccountRepo) CreateAccount(ctx context.Context, params identity.CreateAccountParams) (identity.Account, error) {
	var out identity.Account
	err := r.db.access(ctx, func(s *state) error {
		if _, ok := s.accounts[params.Address]; ok {
			return identity.ErrDuplicateAccount
		}
		now := r.db.stamp()
		out = identity.Account{
			Address:      params.Address,
			PasswordHash: params.PasswordHash,
			Role:         params.Role,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.accounts[out.Address] = out
		return nil
	})
	return out, err
}

func (r AccountRepo) GetAccount(ctx context.Context, address string) (identity.Account, error) {
	var out identity.Account
	err := r.db.access(ctx, func(s *state) error {
		acct, ok := s.accounts[address]
		if !ok {
			return identity.ErrAccountNotFound
		}
		out = acct
		return nil
	})
	return out, err
}

func (r AccountRepo) SetVerified(ctx context.Context, address string, verified bool) (identity.Account, error) {
	var out identity.Account
	err := r.db.access(ctx, func(s *state) error {
		acct, ok := s.accounts[address]
		if !ok {
			return identity.ErrAccountNotFound
		}
		acct.Verified = verified
		acct.UpdatedAt = r.db.stamp()
		s.accounts[address] = acct
		out = acct
		return nil
	})
	return out, err
}

// PutAccount stores a verified account with the given role, replacing any
// existing record. It stands in for the credential issuer.
func (d *DB) PutAccount(address string, role identity.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.stamp()
	d.state.accounts[address] = identity.Account{
		Address:   address,
		Role:      role,
		Verified:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
