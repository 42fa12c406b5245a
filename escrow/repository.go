package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository handles data access for escrow entries.
type Repository interface {
	Get(ctx context.Context, jobID int64) (Entry, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (Entry, error)
	Insert(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error)
	Update(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const entryColumns = `job_id, client, amount, released, refunded, deposited_total, disbursed_total, created_at, updated_at`

func (r *PGRepository) Get(ctx context.Context, jobID int64) (Entry, error) {
	const query = `SELECT ` + entryColumns + ` FROM escrow_entries WHERE job_id = $1`

	entry, err := scanEntry(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("escrow: get entry: %w", err)
	}
	return entry, nil
}

// GetForUpdate locks the entry row for the rest of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (Entry, error) {
	const query = `SELECT ` + entryColumns + ` FROM escrow_entries WHERE job_id = $1 FOR UPDATE`

	entry, err := scanEntry(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("escrow: lock entry: %w", err)
	}
	return entry, nil
}

// Insert creates the entry for a job. A second insert for the same job hits
// the primary key and reports ErrAlreadyFunded.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	const insertSQL = `
INSERT INTO escrow_entries (job_id, client, amount, deposited_total)
VALUES ($1, $2, $3, $3)
RETURNING ` + entryColumns

	saved, err := scanEntry(tx.QueryRow(ctx, insertSQL, entry.JobID, entry.Client, entry.Amount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrAlreadyFunded
		}
		return Entry{}, fmt.Errorf("escrow: insert entry: %w", err)
	}
	return saved, nil
}

// Update persists the disbursement flags and counters. The database refuses
// any update to an entry that is already released or refunded.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, entry Entry) (Entry, error) {
	const updateSQL = `
UPDATE escrow_entries
SET amount = $2,
    released = $3,
    refunded = $4,
    deposited_total = $5,
    disbursed_total = $6,
    updated_at = now()
WHERE job_id = $1
RETURNING ` + entryColumns

	saved, err := scanEntry(tx.QueryRow(ctx, updateSQL,
		entry.JobID,
		entry.Amount,
		entry.Released,
		entry.Refunded,
		entry.DepositedTotal,
		entry.DisbursedTotal,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("escrow: update entry: %w", err)
	}
	return saved, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(
		&e.JobID,
		&e.Client,
		&e.Amount,
		&e.Released,
		&e.Refunded,
		&e.DepositedTotal,
		&e.DisbursedTotal,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}
