package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestBeginOpensTopLevelTx(t *testing.T) {
	pool := &fakePool{}

	ctx, tx, err := Begin(context.Background(), pool)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if pool.begun != 1 {
		t.Fatalf("expected pool.Begin once, got %d", pool.begun)
	}
	carried, ok := TxFromContext(ctx)
	if !ok || carried != tx {
		t.Fatalf("expected context to carry the new tx")
	}
}

func TestBeginNestsInsideCarriedTx(t *testing.T) {
	pool := &fakePool{}

	ctx, outer, err := Begin(context.Background(), pool)
	if err != nil {
		t.Fatalf("Begin outer: %v", err)
	}
	innerCtx, inner, err := Begin(ctx, pool)
	if err != nil {
		t.Fatalf("Begin inner: %v", err)
	}

	if pool.begun != 1 {
		t.Fatalf("nested Begin must not hit the pool, got %d pool begins", pool.begun)
	}
	if outer.(*fakeTx).nested != 1 {
		t.Fatalf("expected savepoint on outer tx")
	}
	if got, _ := TxFromContext(innerCtx); got != inner {
		t.Fatalf("expected inner context to carry inner tx")
	}
	if got, _ := TxFromContext(ctx); got != outer {
		t.Fatalf("outer context must still carry outer tx")
	}
}

func TestBeginPropagatesError(t *testing.T) {
	pool := &fakePool{err: errors.New("no connection")}
	if _, _, err := Begin(context.Background(), pool); err == nil {
		t.Fatalf("expected error")
	}
}

func TestQuerierFromFallsBack(t *testing.T) {
	fallback := &fakeTx{}
	if QuerierFrom(context.Background(), fallback) != fallback {
		t.Fatalf("expected fallback querier without carried tx")
	}
	ctx, tx, _ := Begin(context.Background(), &fakePool{})
	if QuerierFrom(ctx, fallback) != tx {
		t.Fatalf("expected carried tx")
	}
}

type fakePool struct {
	begun int
	err   error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.begun++
	return &fakeTx{}, nil
}

type fakeTx struct {
	nested    int
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	f.nested++
	return &fakeTx{}, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
