package memdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"freelancedao/dispute"
)

// GovernanceRepo implements dispute.Repository.
type GovernanceRepo struct{ db *DB }

var _ dispute.Repository = GovernanceRepo{}

func (d *DB) Governance() GovernanceRepo { return GovernanceRepo{db: d} }

func (r GovernanceRepo) AddMember(ctx context.Context, tx pgx.Tx, account string, at time.Time) error {
	return r.db.within(tx, func(s *state) error {
		if _, ok := s.members[account]; ok {
			return dispute.ErrAlreadyMember
		}
		s.members[account] = at
		return nil
	})
}

func (r GovernanceRepo) IsMember(ctx context.Context, account string) (bool, error) {
	var ok bool
	err := r.db.access(ctx, func(s *state) error {
		_, ok = s.members[account]
		return nil
	})
	return ok, err
}

func (r GovernanceRepo) CreateProposal(ctx context.Context, tx pgx.Tx, params dispute.CreateProposalParams) (dispute.Proposal, error) {
	var out dispute.Proposal
	err := r.db.within(tx, func(s *state) error {
		if _, ok := s.jobs[params.JobID]; !ok {
			return fmt.Errorf("memdb: proposal for unknown job %d", params.JobID)
		}
		if !params.VotingEnd.After(params.VotingStart) {
			return fmt.Errorf("memdb: proposal window must be positive")
		}
		out = dispute.Proposal{
			ID:          r.db.nextID(&r.db.nextProposalID),
			JobID:       params.JobID,
			Proposer:    params.Proposer,
			Description: params.Description,
			FavorWorker: params.FavorWorker,
			VotingStart: params.VotingStart,
			VotingEnd:   params.VotingEnd,
			Status:      dispute.StatusActive,
			CreatedAt:   r.db.stamp(),
		}
		s.proposals[out.ID] = out
		return nil
	})
	return out, err
}

func (r GovernanceRepo) GetProposal(ctx context.Context, id int64) (dispute.Proposal, error) {
	var out dispute.Proposal
	err := r.db.access(ctx, func(s *state) error {
		p, ok := s.proposals[id]
		if !ok {
			return dispute.ErrProposalNotFound
		}
		out = p
		return nil
	})
	return out, err
}

func (r GovernanceRepo) GetProposalForUpdate(ctx context.Context, tx pgx.Tx, id int64) (dispute.Proposal, error) {
	var out dispute.Proposal
	err := r.db.within(tx, func(s *state) error {
		p, ok := s.proposals[id]
		if !ok {
			return dispute.ErrProposalNotFound
		}
		out = p
		return nil
	})
	return out, err
}

// UpdateProposal enforces the settle-once trigger of the proposals table.
func (r GovernanceRepo) UpdateProposal(ctx context.Context, tx pgx.Tx, p dispute.Proposal) (dispute.Proposal, error) {
	var out dispute.Proposal
	err := r.db.within(tx, func(s *state) error {
		old, ok := s.proposals[p.ID]
		if !ok {
			return dispute.ErrProposalNotFound
		}
		if old.Status != dispute.StatusActive {
			return fmt.Errorf("memdb: proposal %d already settled", p.ID)
		}
		old.Upvotes = p.Upvotes
		old.Downvotes = p.Downvotes
		old.Executed = p.Executed
		old.Status = p.Status
		old.ExecutedAt = p.ExecutedAt
		s.proposals[p.ID] = old
		out = old
		return nil
	})
	return out, err
}

func (r GovernanceRepo) InsertVote(ctx context.Context, tx pgx.Tx, v dispute.Vote) error {
	return r.db.within(tx, func(s *state) error {
		if _, ok := s.proposals[v.ProposalID]; !ok {
			return dispute.ErrProposalNotFound
		}
		if v.Weight <= 0 {
			return fmt.Errorf("memdb: vote weight must be positive")
		}
		ballots := s.votes[v.ProposalID]
		if ballots == nil {
			ballots = make(map[string]dispute.Vote)
			s.votes[v.ProposalID] = ballots
		}
		if _, ok := ballots[v.Voter]; ok {
			return dispute.ErrAlreadyVoted
		}
		ballots[v.Voter] = v
		return nil
	})
}

func (r GovernanceRepo) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	var ok bool
	err := r.db.access(ctx, func(s *state) error {
		_, ok = s.votes[proposalID][voter]
		return nil
	})
	return ok, err
}

// VoteTally sums recorded ballots for a proposal by side.
func (d *DB) VoteTally(proposalID int64) (up, down int64) {
	for _, v := range d.snapshot().votes[proposalID] {
		if v.Support {
			up += v.Weight
		} else {
			down += v.Weight
		}
	}
	return up, down
}
