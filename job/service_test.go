package job_test

import (
	"context"
	"errors"
	"testing"

	"freelancedao/app/apptest"
	"freelancedao/escrow"
	"freelancedao/fault"
	"freelancedao/identity"
	"freelancedao/job"
)

func TestHappyPathPaysWorkerExactlyOnce(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	jobs := h.App.Jobs

	created, err := jobs.CreateJob(ctx, apptest.Employer, "ipfs://logo-design")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != job.StatusOpen || created.Payment != 0 || created.Worker != "" {
		t.Fatalf("unexpected new job %+v", created)
	}

	if _, err := jobs.DepositFunds(ctx, apptest.Employer, created.ID, escrow.Unit); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := jobs.AssignWorker(ctx, apptest.Employer, created.ID, apptest.Worker); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := jobs.MarkComplete(ctx, apptest.Worker, created.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	workerBefore := h.WalletBalance(t, apptest.Worker)
	closed, err := jobs.CloseJob(ctx, apptest.Employer, created.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	if closed.Status != job.StatusClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
	if got := h.WalletBalance(t, apptest.Worker) - workerBefore; got != escrow.Unit {
		t.Fatalf("worker gained %d, want %d", got, escrow.Unit)
	}
	if got := h.EscrowBalance(t, created.ID); got != 0 {
		t.Fatalf("escrow balance %d, want 0", got)
	}
	if got := h.WalletBalance(t, apptest.Employer); got != 9*escrow.Unit {
		t.Fatalf("employer balance %d, want %d", got, 9*escrow.Unit)
	}
}

func TestCancelOpenJobRefundsEmployer(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	half := escrow.Unit / 2

	j := h.OpenJob(t, half)
	if got := h.WalletBalance(t, apptest.Employer); got != 10*escrow.Unit-half {
		t.Fatalf("employer balance after deposit %d", got)
	}

	cancelled, err := h.App.Jobs.CancelJob(ctx, apptest.Employer, j.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := h.WalletBalance(t, apptest.Employer); got != 10*escrow.Unit {
		t.Fatalf("employer balance %d, want full refund", got)
	}
	if got := h.EscrowBalance(t, j.ID); got != 0 {
		t.Fatalf("escrow balance %d, want 0", got)
	}
	entry, err := h.App.Escrow.Entry(ctx, j.ID)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if !entry.Refunded || entry.Released {
		t.Fatalf("unexpected flags %+v", entry)
	}
}

func TestCancelUnfundedJob(t *testing.T) {
	h := apptest.New(t)
	j := h.OpenJob(t, 0)

	cancelled, err := h.App.Jobs.CancelJob(context.Background(), apptest.Employer, j.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := h.App.Escrow.Entry(context.Background(), j.ID); !errors.Is(err, escrow.ErrEntryNotFound) {
		t.Fatalf("expected no escrow entry, got %v", err)
	}
}

func TestCloseTwiceFailsSecondTime(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	j := h.TakenJob(t, escrow.Unit)
	if _, err := h.App.Jobs.MarkComplete(ctx, apptest.Worker, j.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID); err != nil {
		t.Fatalf("first close: %v", err)
	}
	_, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID)
	if !errors.Is(err, job.ErrNotCompleted) || !errors.Is(err, fault.ErrPrecondition) {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	if got := h.WalletBalance(t, apptest.Worker); got != escrow.Unit {
		t.Fatalf("worker paid %d, want exactly one unit", got)
	}
}

func TestSecondDepositFailsWithoutChangingAmount(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	j := h.OpenJob(t, escrow.Unit)

	_, err := h.App.Jobs.DepositFunds(ctx, apptest.Employer, j.ID, 2*escrow.Unit)
	if !errors.Is(err, job.ErrAlreadyFunded) || !errors.Is(err, fault.ErrResource) {
		t.Fatalf("expected resource failure, got %v", err)
	}
	if got := h.EscrowBalance(t, j.ID); got != escrow.Unit {
		t.Fatalf("escrow balance %d, want unchanged %d", got, escrow.Unit)
	}
	if got := h.WalletBalance(t, apptest.Employer); got != 9*escrow.Unit {
		t.Fatalf("employer debited twice: %d", got)
	}
	if got := h.Job(t, j.ID).Payment; got != escrow.Unit {
		t.Fatalf("payment %d, want %d", got, escrow.Unit)
	}
}

func TestDepositRollsBackWhenWalletShort(t *testing.T) {
	h := apptest.New(t)
	j := h.OpenJob(t, 0)

	_, err := h.App.Jobs.DepositFunds(context.Background(), apptest.Employer, j.ID, 11*escrow.Unit)
	if !errors.Is(err, fault.ErrResource) {
		t.Fatalf("expected resource failure, got %v", err)
	}
	if got := h.Job(t, j.ID).Payment; got != 0 {
		t.Fatalf("payment %d, want 0", got)
	}
	if _, err := h.App.Escrow.Entry(context.Background(), j.ID); !errors.Is(err, escrow.ErrEntryNotFound) {
		t.Fatalf("expected no escrow entry, got %v", err)
	}
}

func TestGuards(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(t *testing.T, h *apptest.Harness) error
		want error
	}{
		{
			name: "create requires verified employer",
			run: func(t *testing.T, h *apptest.Harness) error {
				_, err := h.App.Jobs.CreateJob(ctx, apptest.Worker, "ipfs://x")
				return err
			},
			want: job.ErrNotEmployer,
		},
		{
			name: "create rejects unregistered caller",
			run: func(t *testing.T, h *apptest.Harness) error {
				_, err := h.App.Jobs.CreateJob(ctx, apptest.Stranger, "ipfs://x")
				return err
			},
			want: job.ErrNotEmployer,
		},
		{
			name: "create rejects unverified employer",
			run: func(t *testing.T, h *apptest.Harness) error {
				if _, err := h.App.Identity.SetVerified(ctx, apptest.Employer, false); err != nil {
					return err
				}
				_, err := h.App.Jobs.CreateJob(ctx, apptest.Employer, "ipfs://x")
				return err
			},
			want: job.ErrNotEmployer,
		},
		{
			name: "deposit by non owner",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, 0)
				_, err := h.App.Jobs.DepositFunds(ctx, apptest.Stranger, j.ID, escrow.Unit)
				return err
			},
			want: job.ErrNotOwner,
		},
		{
			name: "deposit zero",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, 0)
				_, err := h.App.Jobs.DepositFunds(ctx, apptest.Employer, j.ID, 0)
				return err
			},
			want: job.ErrZeroPayment,
		},
		{
			name: "deposit after assignment",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.DepositFunds(ctx, apptest.Employer, j.ID, escrow.Unit)
				return err
			},
			want: job.ErrNotOpen,
		},
		{
			name: "assign before funding",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, 0)
				_, err := h.App.Jobs.AssignWorker(ctx, apptest.Employer, j.ID, apptest.Worker)
				return err
			},
			want: job.ErrNotFunded,
		},
		{
			name: "assign non freelancer",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, escrow.Unit)
				_, err := h.App.Jobs.AssignWorker(ctx, apptest.Employer, j.ID, apptest.Employer)
				return err
			},
			want: job.ErrNotFreelancer,
		},
		{
			name: "assign malformed worker",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, escrow.Unit)
				_, err := h.App.Jobs.AssignWorker(ctx, apptest.Employer, j.ID, "bob")
				return err
			},
			want: identity.ErrInvalidAccount,
		},
		{
			name: "complete by employer",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.MarkComplete(ctx, apptest.Employer, j.ID)
				return err
			},
			want: job.ErrNotWorker,
		},
		{
			name: "complete open job",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, escrow.Unit)
				_, err := h.App.Jobs.MarkComplete(ctx, apptest.Worker, j.ID)
				return err
			},
			want: job.ErrNotWorker,
		},
		{
			name: "close taken job",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID)
				return err
			},
			want: job.ErrNotCompleted,
		},
		{
			name: "cancel taken job",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.CancelJob(ctx, apptest.Employer, j.ID)
				return err
			},
			want: job.ErrNotOpen,
		},
		{
			name: "dispute by stranger",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.RaiseDispute(ctx, apptest.Stranger, j.ID)
				return err
			},
			want: job.ErrNotParticipant,
		},
		{
			name: "dispute open job",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.OpenJob(t, escrow.Unit)
				_, err := h.App.Jobs.RaiseDispute(ctx, apptest.Employer, j.ID)
				return err
			},
			want: job.ErrNotDisputable,
		},
		{
			name: "resolve by non governance",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.DisputedJob(t, escrow.Unit)
				_, err := h.App.Jobs.ResolveDispute(ctx, apptest.Employer, j.ID, true)
				return err
			},
			want: job.ErrNotGovernance,
		},
		{
			name: "resolve undisputed job",
			run: func(t *testing.T, h *apptest.Harness) error {
				j := h.TakenJob(t, escrow.Unit)
				_, err := h.App.Jobs.ResolveDispute(ctx, apptest.Governance, j.ID, true)
				return err
			},
			want: job.ErrNotDisputed,
		},
		{
			name: "unknown job",
			run: func(t *testing.T, h *apptest.Harness) error {
				_, err := h.App.Jobs.CancelJob(ctx, apptest.Employer, 999)
				return err
			},
			want: job.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := apptest.New(t)
			err := tt.run(t, h)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if fault.KindOf(err) != fault.KindOf(tt.want) {
				t.Fatalf("kind = %v, want %v", fault.KindOf(err), fault.KindOf(tt.want))
			}
		})
	}
}

func TestDisputeResolutionPaysChosenParty(t *testing.T) {
	for _, favorWorker := range []bool{true, false} {
		h := apptest.New(t)
		ctx := context.Background()
		j := h.DisputedJob(t, escrow.Unit)

		resolved, err := h.App.Jobs.ResolveDispute(ctx, apptest.Governance, j.ID, favorWorker)
		if err != nil {
			t.Fatalf("resolve(favorWorker=%v): %v", favorWorker, err)
		}
		if resolved.Status != job.StatusClosed {
			t.Fatalf("expected closed, got %s", resolved.Status)
		}
		worker, employer := h.WalletBalance(t, apptest.Worker), h.WalletBalance(t, apptest.Employer)
		if favorWorker && (worker != escrow.Unit || employer != 9*escrow.Unit) {
			t.Fatalf("favor worker: worker=%d employer=%d", worker, employer)
		}
		if !favorWorker && (worker != 0 || employer != 10*escrow.Unit) {
			t.Fatalf("favor employer: worker=%d employer=%d", worker, employer)
		}
		if _, err := h.App.Jobs.ResolveDispute(ctx, apptest.Governance, j.ID, favorWorker); !errors.Is(err, job.ErrNotDisputed) {
			t.Fatalf("second resolve: expected ErrNotDisputed, got %v", err)
		}
	}
}

func TestWorkerMayDisputeCompletedJob(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	j := h.TakenJob(t, escrow.Unit)
	if _, err := h.App.Jobs.MarkComplete(ctx, apptest.Worker, j.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	disputed, err := h.App.Jobs.RaiseDispute(ctx, apptest.Worker, j.ID)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if disputed.Status != job.StatusDisputed {
		t.Fatalf("expected disputed, got %s", disputed.Status)
	}
	if _, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID); !errors.Is(err, job.ErrNotCompleted) {
		t.Fatalf("close of disputed job: expected ErrNotCompleted, got %v", err)
	}
}

func TestListsByParty(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	first := h.TakenJob(t, escrow.Unit)
	second := h.OpenJob(t, 0)

	employed, err := h.App.Jobs.ListByEmployer(ctx, apptest.Employer)
	if err != nil {
		t.Fatalf("list by employer: %v", err)
	}
	if len(employed) != 2 || employed[0].ID != first.ID || employed[1].ID != second.ID {
		t.Fatalf("unexpected employer list %+v", employed)
	}
	worked, err := h.App.Jobs.ListByWorker(ctx, apptest.Worker)
	if err != nil {
		t.Fatalf("list by worker: %v", err)
	}
	if len(worked) != 1 || worked[0].ID != first.ID {
		t.Fatalf("unexpected worker list %+v", worked)
	}
}

func TestEveryTransitionEmitsOneEvent(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	before := len(h.DB.Outbox())

	j := h.TakenJob(t, escrow.Unit)
	if _, err := h.App.Jobs.MarkComplete(ctx, apptest.Worker, j.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A rejected call adds nothing.
	if _, err := h.App.Jobs.CloseJob(ctx, apptest.Employer, j.ID); err == nil {
		t.Fatal("expected second close to fail")
	}

	var topics []string
	for _, msg := range h.DB.Outbox()[before:] {
		topics = append(topics, msg.Topic)
	}
	want := []string{
		job.TopicCreated,
		escrow.TopicDeposited, job.TopicFunded,
		job.TopicAssigned,
		job.TopicCompleted,
		escrow.TopicReleased, job.TopicClosed,
	}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}

func TestAuthorityRotation(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	next := apptest.Account(4)

	if err := h.App.Jobs.SetGovernance(ctx, apptest.Stranger, next); !errors.Is(err, job.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.App.Jobs.SetGovernance(ctx, apptest.Owner, next); err != nil {
		t.Fatalf("set governance: %v", err)
	}
	if h.App.Jobs.Governance() != next {
		t.Fatalf("governance = %s, want %s", h.App.Jobs.Governance(), next)
	}

	j := h.DisputedJob(t, escrow.Unit)
	if _, err := h.App.Jobs.ResolveDispute(ctx, apptest.Governance, j.ID, true); !errors.Is(err, job.ErrNotGovernance) {
		t.Fatalf("old governance must be rejected, got %v", err)
	}
	if _, err := h.App.Jobs.ResolveDispute(ctx, next, j.ID, true); err != nil {
		t.Fatalf("new governance resolve: %v", err)
	}

	if err := h.App.Jobs.TransferOwnership(ctx, apptest.Owner, next); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := h.App.Jobs.SetGovernance(ctx, apptest.Owner, apptest.Governance); !errors.Is(err, job.ErrUnauthorized) {
		t.Fatalf("previous owner must be rejected, got %v", err)
	}
}
