// Package token exposes the read-only voting token queries consumed by
// dispute governance.
package token

import (
	"context"

	"freelancedao/fault"
)

var ErrSupplyOverflow = fault.New(fault.Resource, "token: total supply overflows")

// BalanceReader abstracts repository operations for the service.
type BalanceReader interface {
	BalanceOf(ctx context.Context, account string) (int64, error)
	TotalSupply(ctx context.Context) (int64, error)
}

// Service answers balance and supply queries.
type Service struct {
	repo BalanceReader
}

// NewService builds a Service using the provided repository.
func NewService(repo BalanceReader) *Service {
	return &Service{repo: repo}
}

// BalanceOf returns the current balance of account.
func (s *Service) BalanceOf(ctx context.Context, account string) (int64, error) {
	return s.repo.BalanceOf(ctx, account)
}

// TotalSupply returns the current total supply.
func (s *Service) TotalSupply(ctx context.Context) (int64, error) {
	return s.repo.TotalSupply(ctx)
}
