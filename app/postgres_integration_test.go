package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/app"
	"freelancedao/config"
	"freelancedao/db"
	"freelancedao/dispute"
	"freelancedao/escrow"
	"freelancedao/fault"
	"freelancedao/identity"
	"freelancedao/job"
	"freelancedao/logging"
)

// TestMarketplace_Integration runs the job, escrow and governance flows
// against a real PostgreSQL via DATABASE_URL.
func TestMarketplace_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	base := time.Now().UnixNano()
	acct := func(n int64) string { return identity.MustAccount(fmt.Sprintf("0x%040x", base+n)) }
	employer, worker, voter := acct(1), acct(2), acct(3)

	cfg := config.Default()
	cfg.Database.URL = dsn
	cfg.Auth.JWTSecret = "integration"
	cfg.Governance.VotingPeriod = 300 * time.Millisecond
	a := app.New(app.PostgresStore(pool), cfg, logging.NopLogger())

	for addr, role := range map[string]identity.Role{employer: identity.RoleEmployer, worker: identity.RoleFreelancer} {
		if _, err := a.Identity.Register(ctx, identity.RegisterRequest{Account: addr, Password: "integration-pass", Role: role}); err != nil {
			t.Fatalf("register %s: %v", addr, err)
		}
		if _, err := a.Identity.SetVerified(ctx, addr, true); err != nil {
			t.Fatalf("verify %s: %v", addr, err)
		}
	}
	if _, err := a.Wallet.Fund(ctx, employer, 5*escrow.Unit); err != nil {
		t.Fatalf("fund: %v", err)
	}

	takenJob := func() job.Job {
		t.Helper()
		j, err := a.Jobs.CreateJob(ctx, employer, "ipfs://integration")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := a.Jobs.DepositFunds(ctx, employer, j.ID, escrow.Unit); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if j, err = a.Jobs.AssignWorker(ctx, employer, j.ID, worker); err != nil {
			t.Fatalf("assign: %v", err)
		}
		return j
	}

	t.Run("happy path releases to worker", func(t *testing.T) {
		j := takenJob()
		if _, err := a.Jobs.MarkComplete(ctx, worker, j.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if _, err := a.Jobs.CloseJob(ctx, employer, j.ID); err != nil {
			t.Fatalf("close: %v", err)
		}
		entry, err := a.Escrow.Entry(ctx, j.ID)
		if err != nil {
			t.Fatalf("entry: %v", err)
		}
		if !entry.Released || entry.Refunded || entry.Amount != 0 {
			t.Fatalf("unexpected entry %+v", entry)
		}
		if _, err := a.Jobs.CloseJob(ctx, employer, j.ID); !errors.Is(err, job.ErrNotCompleted) {
			t.Fatalf("second close: expected ErrNotCompleted, got %v", err)
		}
	})

	t.Run("rejected transfer rolls back close", func(t *testing.T) {
		j := takenJob()
		if _, err := a.Jobs.MarkComplete(ctx, worker, j.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if _, err := a.Wallet.SetAcceptsTransfers(ctx, worker, false); err != nil {
			t.Fatalf("set accepts: %v", err)
		}
		defer a.Wallet.SetAcceptsTransfers(ctx, worker, true)

		if _, err := a.Jobs.CloseJob(ctx, employer, j.ID); !errors.Is(err, fault.ErrTransfer) {
			t.Fatalf("expected transfer failure, got %v", err)
		}
		got, err := a.Jobs.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != job.StatusCompleted {
			t.Fatalf("status %s, want completed", got.Status)
		}
		if bal, _ := a.Escrow.Balance(ctx, j.ID); bal != escrow.Unit {
			t.Fatalf("escrow balance %d, want %d", bal, escrow.Unit)
		}
	})

	t.Run("governance refunds employer", func(t *testing.T) {
		j := takenJob()
		if _, err := a.Jobs.RaiseDispute(ctx, worker, j.ID); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		// Supply spans every holder in the shared database, so the voter
		// needs a balance that dominates it.
		if _, err := pool.Exec(ctx, `INSERT INTO token_balances (account, balance) VALUES ($1, $2)`, voter, int64(1)<<40); err != nil {
			t.Fatalf("seed tokens: %v", err)
		}
		if err := a.Disputes.Join(ctx, voter); err != nil {
			t.Fatalf("join: %v", err)
		}
		p, err := a.Disputes.CreateProposal(ctx, voter, j.ID, "refund the employer", false)
		if err != nil {
			t.Fatalf("create proposal: %v", err)
		}
		if _, err := a.Disputes.Vote(ctx, voter, p.ID, true); err != nil {
			t.Fatalf("vote: %v", err)
		}
		if _, err := a.Disputes.Vote(ctx, voter, p.ID, true); !errors.Is(err, dispute.ErrAlreadyVoted) {
			t.Fatalf("second vote: expected ErrAlreadyVoted, got %v", err)
		}

		time.Sleep(time.Until(p.VotingEnd) + 50*time.Millisecond)
		settled, err := a.Disputes.Execute(ctx, voter, p.ID)
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if settled.Status != dispute.StatusExecuted {
			t.Fatalf("status %s, want executed", settled.Status)
		}
		entry, err := a.Escrow.Entry(ctx, j.ID)
		if err != nil {
			t.Fatalf("entry: %v", err)
		}
		if !entry.Refunded || entry.Released {
			t.Fatalf("unexpected entry %+v", entry)
		}
	})

	t.Run("schema refuses double disbursement", func(t *testing.T) {
		j := takenJob()
		_, err := pool.Exec(ctx, `UPDATE escrow_entries SET released = TRUE, refunded = TRUE WHERE job_id = $1`, j.ID)
		if err == nil {
			t.Fatalf("expected constraint violation")
		}
	})
}
