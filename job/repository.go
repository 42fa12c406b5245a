package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository handles data access for jobs.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Job, error)
	Get(ctx context.Context, id int64) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error)
	Update(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	ListByEmployer(ctx context.Context, employer string, limit int) ([]Job, error)
	ListByWorker(ctx context.Context, worker string, limit int) ([]Job, error)
}

// CreateParams contains write parameters for new jobs.
type CreateParams struct {
	Employer    string
	Description string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const jobColumns = `id, employer, worker, description, status, payment, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Job, error) {
	const insertSQL = `
INSERT INTO jobs (employer, description)
VALUES ($1, $2)
RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, insertSQL, params.Employer, params.Description))
	if err != nil {
		return Job{}, fmt.Errorf("job: insert: %w", err)
	}
	return j, nil
}

// Get reads a job, joining the transaction carried by ctx if any.
func (r *PGRepository) Get(ctx context.Context, id int64) (Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("job: lock: %w", err)
	}
	return j, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	const updateSQL = `
UPDATE jobs
SET worker = $2,
    status = $3,
    payment = $4,
    updated_at = now()
WHERE id = $1
RETURNING ` + jobColumns

	var worker any
	if j.Worker != "" {
		worker = j.Worker
	}
	saved, err := scanJob(tx.QueryRow(ctx, updateSQL, j.ID, worker, int16(j.Status), j.Payment))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("job: update: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) ListByEmployer(ctx context.Context, employer string, limit int) ([]Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE employer = $1 ORDER BY id ASC LIMIT $2`
	return r.list(ctx, query, employer, limit)
}

func (r *PGRepository) ListByWorker(ctx context.Context, worker string, limit int) ([]Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE worker = $1 ORDER BY id ASC LIMIT $2`
	return r.list(ctx, query, worker, limit)
}

func (r *PGRepository) list(ctx context.Context, query, account string, limit int) ([]Job, error) {
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0, 8)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("job: scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		j      Job
		worker sql.NullString
		status int16
	)
	err := row.Scan(
		&j.ID,
		&j.Employer,
		&worker,
		&j.Description,
		&status,
		&j.Payment,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	j.Worker = worker.String
	j.Status = Status(status)
	return j, err
}
