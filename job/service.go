// Package job owns job records and the lifecycle state machine. It is the
// only caller the escrow ledger accepts, and dispute governance reaches
// escrow only through ResolveDispute.
package job

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"freelancedao/db"
	"freelancedao/escrow"
	"freelancedao/eventlog"
	"freelancedao/fault"
	"freelancedao/identity"
	"freelancedao/logging"
)

var (
	ErrJobNotFound        = fault.New(fault.NotFound, "job: not found")
	ErrInvalidDescription = fault.New(fault.Invalid, "job: description required")

	ErrNotEmployer    = fault.New(fault.Authorization, "job: caller is not a verified employer")
	ErrNotFreelancer  = fault.New(fault.Authorization, "job: worker is not a verified freelancer")
	ErrNotOwner       = fault.New(fault.Authorization, "job: caller is not the job owner")
	ErrNotWorker      = fault.New(fault.Authorization, "job: caller is not the assigned worker")
	ErrNotParticipant = fault.New(fault.Authorization, "job: caller is neither owner nor worker")
	ErrNotGovernance  = fault.New(fault.Authorization, "job: caller is not the governance authority")
	ErrUnauthorized   = fault.New(fault.Authorization, "job: caller is not the owner authority")

	ErrNotOpen       = fault.New(fault.Precondition, "job: not open")
	ErrNotTaken      = fault.New(fault.Precondition, "job: not taken")
	ErrNotCompleted  = fault.New(fault.Precondition, "job: not completed")
	ErrNotDisputable = fault.New(fault.Precondition, "job: only taken or completed jobs can be disputed")
	ErrNotDisputed   = fault.New(fault.Precondition, "job: not disputed")
	ErrBadTransition = fault.New(fault.Precondition, "job: invalid status transition")

	ErrZeroPayment   = fault.New(fault.Resource, "job: payment must be positive")
	ErrAlreadyFunded = fault.New(fault.Resource, "job: already funded")
	ErrNotFunded     = fault.New(fault.Resource, "job: payment not deposited")
)

const defaultListLimit = 100

// Registry resolves accounts to verified roles.
type Registry interface {
	Resolve(ctx context.Context, account string) (identity.Identity, error)
}

// Funds debits the employer when a deposit is forwarded into escrow.
type Funds interface {
	Withdraw(ctx context.Context, account string, amount int64) error
}

// Escrow is the custody ledger as seen by its coordinator.
type Escrow interface {
	Deposit(ctx context.Context, caller string, jobID int64, client string, amount int64) (escrow.Entry, error)
	Release(ctx context.Context, caller string, jobID int64, payee string) (escrow.Entry, error)
	Refund(ctx context.Context, caller string, jobID int64) (escrow.Entry, error)
}

// Authorities configure the service's own account, the owner allowed to
// rotate authorities, and the governance account allowed to resolve disputes.
type Authorities struct {
	Self       string
	Owner      string
	Governance string
}

type Option func(*Service)

func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger.WithComponent("job") }
}

type Service struct {
	pool     db.TxBeginner
	repo     Repository
	registry Registry
	funds    Funds
	escrow   Escrow
	events   eventlog.Recorder
	logger   *logging.Logger

	mu         sync.RWMutex
	self       string
	owner      string
	governance string
}

func NewService(pool db.TxBeginner, repo Repository, registry Registry, funds Funds, ledger Escrow, events eventlog.Recorder, auth Authorities, opts ...Option) *Service {
	s := &Service{
		pool:       pool,
		repo:       repo,
		registry:   registry,
		funds:      funds,
		escrow:     ledger,
		events:     events,
		logger:     logging.NopLogger(),
		self:       auth.Self,
		owner:      auth.Owner,
		governance: auth.Governance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Service) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

func (s *Service) Governance() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.governance
}

// CreateJob opens a new job owned by caller, who must be a verified employer.
func (s *Service) CreateJob(ctx context.Context, caller, description string) (Job, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Job{}, ErrInvalidDescription
	}
	id, err := s.registry.Resolve(ctx, caller)
	if err != nil {
		return Job{}, fmt.Errorf("job: create: resolve caller: %w", err)
	}
	if !id.Holds(identity.RoleEmployer) {
		return Job{}, ErrNotEmployer
	}

	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Job{}, fmt.Errorf("job: create: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.Create(ctx, tx, CreateParams{Employer: caller, Description: description})
	if err != nil {
		return Job{}, err
	}
	if _, err := s.events.Record(ctx, tx, TopicCreated, caller, map[string]any{
		"job_id":   j.ID,
		"employer": caller,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: create: commit tx: %w", err)
	}
	s.logger.Info("job created", "job_id", j.ID, "employer", caller)
	return j, nil
}

// DepositFunds debits the owner and forwards amount into escrow for the job.
func (s *Service) DepositFunds(ctx context.Context, caller string, jobID, amount int64) (Job, error) {
	return s.transition(ctx, "deposit", caller, jobID, TopicFunded, func(ctx context.Context, j *Job) (map[string]any, error) {
		if caller != j.Employer {
			return nil, ErrNotOwner
		}
		if j.Status != StatusOpen {
			return nil, ErrNotOpen
		}
		if amount <= 0 {
			return nil, ErrZeroPayment
		}
		if j.Payment != 0 {
			return nil, ErrAlreadyFunded
		}
		if err := s.funds.Withdraw(ctx, caller, amount); err != nil {
			return nil, fmt.Errorf("job: deposit: %w", err)
		}
		if _, err := s.escrow.Deposit(ctx, s.Self(), j.ID, caller, amount); err != nil {
			return nil, fmt.Errorf("job: deposit: %w", err)
		}
		j.Payment = amount
		return map[string]any{"amount": amount}, nil
	})
}

// AssignWorker hands a funded, open job to a verified freelancer.
func (s *Service) AssignWorker(ctx context.Context, caller string, jobID int64, worker string) (Job, error) {
	worker, err := identity.ParseAccount(worker)
	if err != nil {
		return Job{}, err
	}
	return s.transition(ctx, "assign", caller, jobID, TopicAssigned, func(ctx context.Context, j *Job) (map[string]any, error) {
		if caller != j.Employer {
			return nil, ErrNotOwner
		}
		if j.Status != StatusOpen {
			return nil, ErrNotOpen
		}
		if j.Payment <= 0 {
			return nil, ErrNotFunded
		}
		id, err := s.registry.Resolve(ctx, worker)
		if err != nil {
			return nil, fmt.Errorf("job: assign: resolve worker: %w", err)
		}
		if !id.Holds(identity.RoleFreelancer) {
			return nil, ErrNotFreelancer
		}
		j.Worker = worker
		j.Status = StatusTaken
		return map[string]any{"worker": worker}, nil
	})
}

// MarkComplete is called by the assigned worker when the work is delivered.
func (s *Service) MarkComplete(ctx context.Context, caller string, jobID int64) (Job, error) {
	return s.transition(ctx, "complete", caller, jobID, TopicCompleted, func(ctx context.Context, j *Job) (map[string]any, error) {
		if j.Worker == "" || caller != j.Worker {
			return nil, ErrNotWorker
		}
		if j.Status != StatusTaken {
			return nil, ErrNotTaken
		}
		j.Status = StatusCompleted
		return nil, nil
	})
}

// CloseJob accepts completed work and releases the escrow to the worker.
func (s *Service) CloseJob(ctx context.Context, caller string, jobID int64) (Job, error) {
	return s.transition(ctx, "close", caller, jobID, TopicClosed, func(ctx context.Context, j *Job) (map[string]any, error) {
		if caller != j.Employer {
			return nil, ErrNotOwner
		}
		if j.Status != StatusCompleted {
			return nil, ErrNotCompleted
		}
		j.Status = StatusClosed
		entry, err := s.escrow.Release(ctx, s.Self(), j.ID, j.Worker)
		if err != nil {
			return nil, fmt.Errorf("job: close: %w", err)
		}
		return map[string]any{"paid_to": j.Worker, "amount": entry.DisbursedTotal}, nil
	})
}

// CancelJob withdraws an open job and refunds the employer if it was funded.
func (s *Service) CancelJob(ctx context.Context, caller string, jobID int64) (Job, error) {
	return s.transition(ctx, "cancel", caller, jobID, TopicCancelled, func(ctx context.Context, j *Job) (map[string]any, error) {
		if caller != j.Employer {
			return nil, ErrNotOwner
		}
		if j.Status != StatusOpen {
			return nil, ErrNotOpen
		}
		j.Status = StatusCancelled
		if j.Payment == 0 {
			return map[string]any{"refunded": int64(0)}, nil
		}
		entry, err := s.escrow.Refund(ctx, s.Self(), j.ID)
		if err != nil {
			return nil, fmt.Errorf("job: cancel: %w", err)
		}
		return map[string]any{"refunded": entry.DisbursedTotal}, nil
	})
}

// RaiseDispute moves a taken or completed job into arbitration.
func (s *Service) RaiseDispute(ctx context.Context, caller string, jobID int64) (Job, error) {
	return s.transition(ctx, "dispute", caller, jobID, TopicDisputed, func(ctx context.Context, j *Job) (map[string]any, error) {
		if !j.IsParty(caller) {
			return nil, ErrNotParticipant
		}
		if j.Status != StatusTaken && j.Status != StatusCompleted {
			return nil, ErrNotDisputable
		}
		from := j.Status
		j.Status = StatusDisputed
		return map[string]any{"from": from.String()}, nil
	})
}

// ResolveDispute closes a disputed job as instructed by governance, paying
// the worker when favorWorker is set and refunding the employer otherwise.
func (s *Service) ResolveDispute(ctx context.Context, caller string, jobID int64, favorWorker bool) (Job, error) {
	if caller != s.Governance() {
		return Job{}, ErrNotGovernance
	}
	return s.transition(ctx, "resolve", caller, jobID, TopicResolved, func(ctx context.Context, j *Job) (map[string]any, error) {
		if j.Status != StatusDisputed {
			return nil, ErrNotDisputed
		}
		j.Status = StatusClosed

		var (
			entry escrow.Entry
			err   error
			to    = j.Worker
		)
		if favorWorker {
			entry, err = s.escrow.Release(ctx, s.Self(), j.ID, j.Worker)
		} else {
			to = j.Employer
			entry, err = s.escrow.Refund(ctx, s.Self(), j.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("job: resolve: %w", err)
		}
		return map[string]any{
			"favor_worker": favorWorker,
			"paid_to":      to,
			"amount":       entry.DisbursedTotal,
		}, nil
	})
}

// GetJob returns the job. Inside a transaction carried by ctx it reads
// through that transaction.
func (s *Service) GetJob(ctx context.Context, jobID int64) (Job, error) {
	return s.repo.Get(ctx, jobID)
}

func (s *Service) ListByEmployer(ctx context.Context, employer string) ([]Job, error) {
	return s.repo.ListByEmployer(ctx, employer, defaultListLimit)
}

func (s *Service) ListByWorker(ctx context.Context, worker string) ([]Job, error) {
	return s.repo.ListByWorker(ctx, worker, defaultListLimit)
}

// SetGovernance rotates the dispute-resolution authority. Owner only.
func (s *Service) SetGovernance(ctx context.Context, caller, next string) error {
	return s.changeAuthority(ctx, caller, next, TopicGovernanceChanged, func(acct string) {
		s.governance = acct
	})
}

// TransferOwnership hands the owner role to next. Owner only.
func (s *Service) TransferOwnership(ctx context.Context, caller, next string) error {
	return s.changeAuthority(ctx, caller, next, TopicOwnershipTransferred, func(acct string) {
		s.owner = acct
	})
}

// transition locks the job, lets fn check guards and apply effects, then
// persists the job and its event. Any failure rolls back the whole call,
// including escrow and wallet writes made by fn.
func (s *Service) transition(ctx context.Context, op, caller string, jobID int64, topic string, fn func(context.Context, *Job) (map[string]any, error)) (Job, error) {
	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return Job{}, fmt.Errorf("job: %s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}
	from := j.Status

	payload, err := fn(ctx, &j)
	if err != nil {
		s.logger.Debug("transition rejected", "op", op, "job_id", jobID, "caller", caller, "error", err)
		return Job{}, err
	}
	if j.Status != from && !from.CanTransitionTo(j.Status) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, j.Status)
	}

	saved, err := s.repo.Update(ctx, tx, j)
	if err != nil {
		return Job{}, err
	}
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["job_id"] = j.ID
	payload["status"] = int16(j.Status)
	if _, err := s.events.Record(ctx, tx, topic, caller, payload); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: %s: commit tx: %w", op, err)
	}
	s.logger.Info("job "+op, "job_id", j.ID, "caller", caller, "from", from.String(), "to", saved.Status.String())
	return saved, nil
}

func (s *Service) changeAuthority(ctx context.Context, caller, next, topic string, apply func(string)) error {
	acct, err := identity.ParseAccount(next)
	if err != nil {
		return err
	}
	if caller != s.Owner() {
		return ErrUnauthorized
	}

	ctx, tx, err := db.Begin(ctx, s.pool)
	if err != nil {
		return fmt.Errorf("job: %s: begin tx: %w", topic, err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.events.Record(ctx, tx, topic, caller, map[string]any{"account": acct}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("job: %s: commit tx: %w", topic, err)
	}

	s.mu.Lock()
	apply(acct)
	s.mu.Unlock()
	s.logger.Info("authority changed", "topic", topic, "account", acct)
	return nil
}
