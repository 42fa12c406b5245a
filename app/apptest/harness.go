// Package apptest wires the full service graph over memdb for tests.
package apptest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"freelancedao/app"
	"freelancedao/config"
	"freelancedao/escrow"
	"freelancedao/identity"
	"freelancedao/job"
	"freelancedao/logging"
	"freelancedao/memdb"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Account returns a deterministic checksummed address for n > 0.
func Account(n int) string {
	return identity.MustAccount(fmt.Sprintf("0x%040x", n))
}

// Well-known parties.
var (
	Owner       = Account(1)
	Coordinator = Account(2)
	Governance  = Account(3)
	Employer    = Account(100)
	Worker      = Account(200)
	Stranger    = Account(300)
)

// Harness owns a memdb store and the services wired over it.
type Harness struct {
	DB     *memdb.DB
	App    *app.App
	Config *config.Config
	Clock  *Clock
}

// New builds a harness with verified Employer and Worker accounts and the
// Employer wallet funded with 10 units.
func New(t testing.TB, opts ...app.Option) *Harness {
	t.Helper()

	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Authorities = config.AuthoritiesConfig{
		Owner:       Owner,
		Coordinator: Coordinator,
		Governance:  Governance,
	}
	cfg.Governance.QuorumPercent = 50
	cfg.Governance.VotingPeriod = time.Hour

	clock := NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memdb.New().WithClock(clock.Now)
	opts = append([]app.Option{app.WithClock(clock.Now)}, opts...)

	h := &Harness{
		DB:     store,
		App:    app.New(app.MemoryStore(store), cfg, logging.NopLogger(), opts...),
		Config: cfg,
		Clock:  clock,
	}
	store.PutAccount(Employer, identity.RoleEmployer)
	store.PutAccount(Worker, identity.RoleFreelancer)
	h.Fund(t, Employer, 10*escrow.Unit)
	return h
}

// Fund credits account's wallet.
func (h *Harness) Fund(t testing.TB, account string, amount int64) {
	t.Helper()
	if _, err := h.App.Wallet.Fund(context.Background(), account, amount); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

// WalletBalance returns the wallet amount of account.
func (h *Harness) WalletBalance(t testing.TB, account string) int64 {
	t.Helper()
	b, err := h.App.Wallet.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("wallet balance %s: %v", account, err)
	}
	return b.Amount
}

// EscrowBalance returns the live escrow amount of jobID.
func (h *Harness) EscrowBalance(t testing.TB, jobID int64) int64 {
	t.Helper()
	amount, err := h.App.Escrow.Balance(context.Background(), jobID)
	if err != nil {
		t.Fatalf("escrow balance %d: %v", jobID, err)
	}
	return amount
}

// Job reads the current record of jobID.
func (h *Harness) Job(t testing.TB, jobID int64) job.Job {
	t.Helper()
	j, err := h.App.Jobs.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job %d: %v", jobID, err)
	}
	return j
}

// OpenJob creates a job owned by Employer and deposits amount into it when
// amount is positive.
func (h *Harness) OpenJob(t testing.TB, amount int64) job.Job {
	t.Helper()
	ctx := context.Background()
	j, err := h.App.Jobs.CreateJob(ctx, Employer, "ipfs://job-spec")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if amount > 0 {
		if j, err = h.App.Jobs.DepositFunds(ctx, Employer, j.ID, amount); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return j
}

// TakenJob returns a funded job assigned to Worker.
func (h *Harness) TakenJob(t testing.TB, amount int64) job.Job {
	t.Helper()
	j := h.OpenJob(t, amount)
	j, err := h.App.Jobs.AssignWorker(context.Background(), Employer, j.ID, Worker)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return j
}

// DisputedJob returns a funded, taken job the employer has disputed.
func (h *Harness) DisputedJob(t testing.TB, amount int64) job.Job {
	t.Helper()
	j := h.TakenJob(t, amount)
	j, err := h.App.Jobs.RaiseDispute(context.Background(), Employer, j.ID)
	if err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	return j
}

// Member gives account a token balance and joins it to the collective.
func (h *Harness) Member(t testing.TB, account string, balance int64) {
	t.Helper()
	h.DB.SetTokenBalance(account, balance)
	if err := h.App.Disputes.Join(context.Background(), account); err != nil {
		t.Fatalf("join %s: %v", account, err)
	}
}
