package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
	"freelancedao/fault"
)

var (
	// ErrAccountNotFound signals that the account is not registered.
	ErrAccountNotFound = fault.New(fault.NotFound, "identity: account not found")
	// ErrDuplicateAccount signals that the address is already registered.
	ErrDuplicateAccount = fault.New(fault.Precondition, "identity: account already exists")
)

// Repository handles data access for the registry.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccount(ctx context.Context, address string) (Account, error)
	SetVerified(ctx context.Context, address string, verified bool) (Account, error)
}

// CreateAccountParams contains write parameters for creating accounts.
type CreateAccountParams struct {
	Address      string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL. Lookups join the
// transaction carried by ctx when there is one.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed registry repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `address, password_hash, role, verified, created_at, updated_at`

// CreateAccount inserts a new, unverified account.
func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (address, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING ` + accountColumns

	acct, err := scanAccount(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, insertSQL, params.Address, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, fmt.Errorf("identity: create account: %w", err)
	}
	return acct, nil
}

// GetAccount retrieves an account by address.
func (r *PGRepository) GetAccount(ctx context.Context, address string) (Account, error) {
	const selectSQL = `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`

	acct, err := scanAccount(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, selectSQL, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: get account: %w", err)
	}
	return acct, nil
}

// SetVerified records the credential issuer's verdict for an account.
func (r *PGRepository) SetVerified(ctx context.Context, address string, verified bool) (Account, error) {
	const updateSQL = `
		UPDATE accounts
		SET verified = $2, updated_at = now()
		WHERE address = $1
		RETURNING ` + accountColumns

	acct, err := scanAccount(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, updateSQL, address, verified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("identity: set verified: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(
		&acct.Address,
		&acct.PasswordHash,
		&acct.Role,
		&acct.Verified,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	return acct, err
}
