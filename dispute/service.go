// Package dispute implements the arbitration collective: token holders join,
// open proposals on disputed jobs, cast balance-weighted votes, and execute
// the outcome back into the job lifecycle once the window has closed.
package dispute

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"freelancedao/db"
	"freelancedao/eventlog"
	"freelancedao/fault"
	"freelancedao/job"
	"freelancedao/logging"
)

var (
	ErrProposalNotFound = fault.New(fault.NotFound, "dispute: proposal not found")
	ErrInvalidProposal  = fault.New(fault.Invalid, "dispute: description required")

	ErrNotMember = fault.New(fault.Authorization, "dispute: caller is not a member")

	ErrAlreadyMember   = fault.New(fault.Precondition, "dispute: already a member")
	ErrJobNotDisputed  = fault.New(fault.Precondition, "dispute: job is not disputed")
	ErrVotingClosed    = fault.New(fault.Precondition, "dispute: voting window is closed")
	ErrVotingOpen      = fault.New(fault.Precondition, "dispute: voting window is still open")
	ErrAlreadyVoted    = fault.New(fault.Precondition, "dispute: already voted")
	ErrAlreadyExecuted = fault.New(fault.Precondition, "dispute: proposal already executed")

	ErrNoVotingWeight = fault.New(fault.Resource, "dispute: no voting weight")
	ErrVoteOverflow   = fault.New(fault.Resource, "dispute: vote total overflows")
	ErrQuorumNotMet   = fault.New(fault.Resource, "dispute: quorum not met")
)

// VotingToken is the read-only balance source for membership and weights.
type VotingToken interface {
	BalanceOf(ctx context.Context, account string) (int64, error)
	TotalSupply(ctx context.Context) (int64, error)
}

// Jobs is the slice of the job lifecycle governance may touch.
type Jobs interface {
	GetJob(ctx context.Context, jobID int64) (job.Job, error)
	ResolveDispute(ctx context.Context, caller string, jobID int64, favorWorker bool) (job.Job, error)
}

// Config fixes governance parameters at construction. Self is the account
// the job lifecycle recognises as the governance authority.
type Config struct {
	Self          string
	QuorumPercent int64
	VotingPeriod  time.Duration
}

type Service struct {
	pool   db.TxBeginner
	repo   Repository
	token  VotingToken
	jobs   Jobs
	events eventlog.Recorder
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, token VotingToken, jobs Jobs, events eventlog.Recorder, cfg Config, logger *logging.Logger) *Service {
	if cfg.QuorumPercent <= 0 {
		cfg.QuorumPercent = 50
	}
	if cfg.VotingPeriod <= 0 {
		cfg.VotingPeriod = 72 * time.Hour
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		token:  token,
		jobs:   jobs,
		events: events,
		cfg:    cfg,
		logger: logger.WithComponent("dispute"),
		now:    time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Join admits caller as a voting member while they hold a positive balance.
func (s *Service) Join(ctx context.Context, caller string) error {
	balance, err := s.token.BalanceOf(ctx, caller)
	if err != nil {
		return fmt.Errorf("dispute: join: balance: %w", err)
	}
	if balance <= 0 {
		return ErrNoVotingWeight
	}

	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return fmt.Errorf("dispute: join: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	member, err := s.repo.IsMember(ctx, caller)
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadyMember
	}
	if err := s.repo.AddMember(ctx, tx, caller, s.now().UTC()); err != nil {
		return err
	}
	if _, err := s.events.Record(ctx, tx, TopicMemberJoined, caller, map[string]any{"account": caller}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: join: commit tx: %w", err)
	}
	s.logger.Info("member joined", "account", caller, "balance", balance)
	return nil
}

// CreateProposal opens a voting window on a disputed job.
func (s *Service) CreateProposal(ctx context.Context, caller string, jobID int64, description string, favorWorker bool) (Proposal, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Proposal{}, ErrInvalidProposal
	}

	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: create proposal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.requireMember(ctx, caller); err != nil {
		return Proposal{}, err
	}
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Proposal{}, err
	}
	if j.Status != job.StatusDisputed {
		return Proposal{}, ErrJobNotDisputed
	}

	start := s.now().UTC()
	p, err := s.repo.CreateProposal(ctx, tx, CreateProposalParams{
		JobID:       jobID,
		Proposer:    caller,
		Description: description,
		FavorWorker: favorWorker,
		VotingStart: start,
		VotingEnd:   start.Add(s.cfg.VotingPeriod),
	})
	if err != nil {
		return Proposal{}, err
	}
	if _, err := s.events.Record(ctx, tx, TopicProposalCreated, caller, map[string]any{
		"proposal_id":  p.ID,
		"job_id":       jobID,
		"favor_worker": favorWorker,
		"voting_end":   p.VotingEnd,
	}); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("dispute: create proposal: commit tx: %w", err)
	}
	s.logger.Info("proposal created", "proposal_id", p.ID, "job_id", jobID, "proposer", caller)
	return p, nil
}

// Vote adds caller's current balance to the chosen side. The weight is fixed
// at cast time.
func (s *Service) Vote(ctx context.Context, caller string, proposalID int64, support bool) (Proposal, error) {
	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: vote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.requireMember(ctx, caller); err != nil {
		return Proposal{}, err
	}
	p, err := s.repo.GetProposalForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	now := s.now().UTC()
	if !p.Open(now) {
		return Proposal{}, ErrVotingClosed
	}
	voted, err := s.repo.HasVoted(ctx, proposalID, caller)
	if err != nil {
		return Proposal{}, err
	}
	if voted {
		return Proposal{}, ErrAlreadyVoted
	}
	weight, err := s.token.BalanceOf(ctx, caller)
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: vote: balance: %w", err)
	}
	if weight <= 0 {
		return Proposal{}, ErrNoVotingWeight
	}

	if err := s.repo.InsertVote(ctx, tx, Vote{ProposalID: proposalID, Voter: caller, Support: support, Weight: weight, CastAt: now}); err != nil {
		return Proposal{}, err
	}
	if weight > math.MaxInt64-p.TotalVotes() {
		return Proposal{}, fmt.Errorf("%w: %d cast, adding %d", ErrVoteOverflow, p.TotalVotes(), weight)
	}
	if support {
		p.Upvotes += weight
	} else {
		p.Downvotes += weight
	}
	saved, err := s.repo.UpdateProposal(ctx, tx, p)
	if err != nil {
		return Proposal{}, err
	}
	if _, err := s.events.Record(ctx, tx, TopicVoteCast, caller, map[string]any{
		"proposal_id": proposalID,
		"support":     support,
		"weight":      weight,
	}); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("dispute: vote: commit tx: %w", err)
	}
	s.logger.Info("vote cast", "proposal_id", proposalID, "voter", caller, "support", support, "weight", weight)
	return saved, nil
}

// Execute settles a proposal after its window closes. Without quorum it fails
// and leaves the proposal untouched. With quorum the proposal passes when
// upvotes strictly exceed downvotes and the job is resolved in the same
// transaction; otherwise it is rejected.
func (s *Service) Execute(ctx context.Context, caller string, proposalID int64) (Proposal, error) {
	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: execute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetProposalForUpdate(ctx, tx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if p.Executed || p.Status != StatusActive {
		return Proposal{}, ErrAlreadyExecuted
	}
	now := s.now().UTC()
	if now.Before(p.VotingEnd) {
		return Proposal{}, ErrVotingOpen
	}

	supply, err := s.token.TotalSupply(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("dispute: execute: total supply: %w", err)
	}
	if !QuorumReached(p.TotalVotes(), supply, s.cfg.QuorumPercent) {
		return Proposal{}, fmt.Errorf("%w: %d of %d cast, need %d%%", ErrQuorumNotMet, p.TotalVotes(), supply, s.cfg.QuorumPercent)
	}

	topic := TopicProposalRejected
	payload := map[string]any{
		"proposal_id": p.ID,
		"job_id":      p.JobID,
		"upvotes":     p.Upvotes,
		"downvotes":   p.Downvotes,
		"supply":      supply,
	}
	p.Status = StatusRejected
	if p.Upvotes > p.Downvotes {
		j, err := s.jobs.GetJob(ctx, p.JobID)
		if err != nil {
			return Proposal{}, err
		}
		if j.Status == job.StatusDisputed {
			if _, err := s.jobs.ResolveDispute(ctx, s.cfg.Self, p.JobID, p.FavorWorker); err != nil {
				return Proposal{}, fmt.Errorf("dispute: execute: %w", err)
			}
			p.Status = StatusExecuted
			topic = TopicProposalExecuted
			payload["favor_worker"] = p.FavorWorker
		} else {
			payload["reason"] = "job no longer disputed"
		}
	}
	p.Executed = true
	p.ExecutedAt = &now

	saved, err := s.repo.UpdateProposal(ctx, tx, p)
	if err != nil {
		return Proposal{}, err
	}
	if _, err := s.events.Record(ctx, tx, topic, caller, payload); err != nil {
		return Proposal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("dispute: execute: commit tx: %w", err)
	}
	s.logger.Info("proposal settled", "proposal_id", p.ID, "job_id", p.JobID, "status", string(saved.Status))
	return saved, nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID int64) (Proposal, error) {
	return s.repo.GetProposal(ctx, proposalID)
}

func (s *Service) IsMember(ctx context.Context, account string) (bool, error) {
	return s.repo.IsMember(ctx, account)
}

func (s *Service) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	return s.repo.HasVoted(ctx, proposalID, voter)
}

func (s *Service) requireMember(ctx context.Context, caller string) error {
	member, err := s.repo.IsMember(ctx, caller)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

