package wallet_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"freelancedao/app/apptest"
	"freelancedao/fault"
	"freelancedao/wallet"
)

func TestFundAndWithdraw(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	svc := h.App.Wallet

	if _, err := svc.Fund(ctx, apptest.Stranger, 0); !errors.Is(err, wallet.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	b, err := svc.Fund(ctx, apptest.Stranger, 700)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if b.Amount != 700 || !b.AcceptsTransfers {
		t.Fatalf("unexpected balance %+v", b)
	}

	if err := svc.Withdraw(ctx, apptest.Stranger, 701); !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := svc.Withdraw(ctx, apptest.Stranger, 200); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := h.WalletBalance(t, apptest.Stranger); got != 500 {
		t.Fatalf("balance %d, want 500", got)
	}
}

func TestUnknownAccountHasEmptyBalance(t *testing.T) {
	h := apptest.New(t)
	b, err := h.App.Wallet.Balance(context.Background(), apptest.Account(77))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Amount != 0 || !b.AcceptsTransfers {
		t.Fatalf("unexpected default balance %+v", b)
	}
}

func TestTransferRespectsAcceptFlag(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	svc := h.App.Wallet

	if _, err := svc.SetAcceptsTransfers(ctx, apptest.Worker, false); err != nil {
		t.Fatalf("set accepts: %v", err)
	}
	err := svc.Transfer(ctx, apptest.Worker, 10)
	if !errors.Is(err, wallet.ErrTransferRejected) || fault.KindOf(err) != fault.Transfer {
		t.Fatalf("expected rejected transfer, got %v", err)
	}
	if got := h.WalletBalance(t, apptest.Worker); got != 0 {
		t.Fatalf("balance %d, want 0", got)
	}

	// Funding from outside is not a disbursement and still lands.
	h.Fund(t, apptest.Worker, 5)

	if _, err := svc.SetAcceptsTransfers(ctx, apptest.Worker, true); err != nil {
		t.Fatalf("set accepts: %v", err)
	}
	if err := svc.Transfer(ctx, apptest.Worker, 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := h.WalletBalance(t, apptest.Worker); got != 15 {
		t.Fatalf("balance %d, want 15", got)
	}
}

func TestCreditCannotOverflow(t *testing.T) {
	h := apptest.New(t)
	ctx := context.Background()
	svc := h.App.Wallet

	if _, err := svc.Fund(ctx, apptest.Stranger, math.MaxInt64-10); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := svc.Fund(ctx, apptest.Stranger, 11); !errors.Is(err, wallet.ErrBalanceOverflow) {
		t.Fatalf("fund: expected ErrBalanceOverflow, got %v", err)
	}
	if err := svc.Transfer(ctx, apptest.Stranger, 11); !errors.Is(err, wallet.ErrBalanceOverflow) {
		t.Fatalf("transfer: expected ErrBalanceOverflow, got %v", err)
	}
	if got := h.WalletBalance(t, apptest.Stranger); got != math.MaxInt64-10 {
		t.Fatalf("balance %d, want %d", got, int64(math.MaxInt64-10))
	}
	if err := svc.Transfer(ctx, apptest.Stranger, 10); err != nil {
		t.Fatalf("transfer to the limit: %v", err)
	}
}
