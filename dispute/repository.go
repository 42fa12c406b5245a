package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/db"
)

// Repository handles data access for members, proposals and votes.
type Repository interface {
	AddMember(ctx context.Context, tx pgx.Tx, account string, at time.Time) error
	IsMember(ctx context.Context, account string) (bool, error)
	CreateProposal(ctx context.Context, tx pgx.Tx, params CreateProposalParams) (Proposal, error)
	GetProposal(ctx context.Context, id int64) (Proposal, error)
	GetProposalForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error)
	UpdateProposal(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error)
	InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error
	HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error)
}

// CreateProposalParams contains write parameters for new proposals.
type CreateProposalParams struct {
	JobID       int64
	Proposer    string
	Description string
	FavorWorker bool
	VotingStart time.Time
	VotingEnd   time.Time
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const proposalColumns = `id, job_id, proposer, description, favor_worker, voting_start, voting_end,
	upvotes, downvotes, executed, status, created_at, executed_at`

func (r *PGRepository) AddMember(ctx context.Context, tx pgx.Tx, account string, at time.Time) error {
	if _, err := tx.Exec(ctx, `INSERT INTO dao_members (account, joined_at) VALUES ($1, $2)`, account, at); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyMember
		}
		return fmt.Errorf("dispute: add member: %w", err)
	}
	return nil
}

func (r *PGRepository) IsMember(ctx context.Context, account string) (bool, error) {
	var ok bool
	err := db.QuerierFrom(ctx, r.pool).
		QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dao_members WHERE account = $1)`, account).
		Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("dispute: is member: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) CreateProposal(ctx context.Context, tx pgx.Tx, params CreateProposalParams) (Proposal, error) {
	const insertSQL = `
INSERT INTO proposals (job_id, proposer, description, favor_worker, voting_start, voting_end)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + proposalColumns

	p, err := scanProposal(tx.QueryRow(ctx, insertSQL,
		params.JobID,
		params.Proposer,
		params.Description,
		params.FavorWorker,
		params.VotingStart,
		params.VotingEnd,
	))
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: create proposal: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetProposal(ctx context.Context, id int64) (Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`

	p, err := scanProposal(db.QuerierFrom(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, fmt.Errorf("dispute: get proposal: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetProposalForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Proposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1 FOR UPDATE`

	p, err := scanProposal(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, fmt.Errorf("dispute: lock proposal: %w", err)
	}
	return p, nil
}

func (r *PGRepository) UpdateProposal(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error) {
	const updateSQL = `
UPDATE proposals
SET upvotes = $2,
    downvotes = $3,
    executed = $4,
    status = $5,
    executed_at = $6
WHERE id = $1
RETURNING ` + proposalColumns

	saved, err := scanProposal(tx.QueryRow(ctx, updateSQL,
		p.ID,
		p.Upvotes,
		p.Downvotes,
		p.Executed,
		string(p.Status),
		p.ExecutedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrProposalNotFound
		}
		return Proposal{}, fmt.Errorf("dispute: update proposal: %w", err)
	}
	return saved, nil
}

// InsertVote records the ballot. The (proposal, voter) key makes a second
// ballot from the same account fail with ErrAlreadyVoted.
func (r *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, v Vote) error {
	const insertSQL = `
INSERT INTO proposal_votes (proposal_id, voter, support, weight, cast_at)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := tx.Exec(ctx, insertSQL, v.ProposalID, v.Voter, v.Support, v.Weight, v.CastAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("dispute: insert vote: %w", err)
	}
	return nil
}

func (r *PGRepository) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	var ok bool
	err := db.QuerierFrom(ctx, r.pool).
		QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposal_votes WHERE proposal_id = $1 AND voter = $2)`, proposalID, voter).
		Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("dispute: has voted: %w", err)
	}
	return ok, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.Proposer,
		&p.Description,
		&p.FavorWorker,
		&p.VotingStart,
		&p.VotingEnd,
		&p.Upvotes,
		&p.Downvotes,
		&p.Executed,
		&p.Status,
		&p.CreatedAt,
		&p.ExecutedAt,
	)
	return p, err
}
