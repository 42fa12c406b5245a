package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"freelancedao/app"
	"freelancedao/config"
	"freelancedao/escrow"
	"freelancedao/identity"
	"freelancedao/logging"
	"freelancedao/test/actors"
	"freelancedao/test/chaos"
	"freelancedao/test/infra"
	"freelancedao/test/oracles"
)

const appName = "freelancedao-stress"

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of actors per role")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestMarketplaceConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pg, err := infra.Start(ctx, *flDSN)
	if errors.Is(err, infra.ErrNoPostgres) {
		t.Skip("no docker or local postgres available")
	}
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pg.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, pg.DSN, appName, pg.Shared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	cfg := config.Default()
	cfg.Database.URL = pg.DSN
	cfg.Auth.JWTSecret = "stress"
	cfg.Governance.VotingPeriod = 300 * time.Millisecond
	cfg.Outbox.BatchSize = 25
	world := &actors.World{
		App:  app.New(app.PostgresStore(pool), cfg, logging.NopLogger()),
		Pool: pool,
	}
	mustSeed(t, ctx, pool, world, *flConcurrency)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, employer := range world.Employers {
		employer := employer
		g.Go(func() error { return actors.Employer(ctx2, world, employer, stop) })
	}
	for _, worker := range world.Workers {
		worker := worker
		g.Go(func() error { return actors.Worker(ctx2, world, worker, stop) })
	}
	for _, voter := range world.Voters {
		voter := voter
		g.Go(func() error { return actors.Arbiter(ctx2, world, voter, stop) })
	}
	g.Go(func() error { return actors.Closer(ctx2, world, stop) })
	g.Go(func() error { return actors.RawDisburser(ctx2, world, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, world, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, appName, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	if name, row, err := oracles.Run(context.Background(), pool); err != nil || name != "" {
		t.Fatalf("final oracle %s failed: %s %v (seed=%d)", name, row, err, seed)
	}
	assertValueConserved(t, pool, world)
}

// mustSeed registers verified parties, funds employers, and hands voters
// token balances.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, w *actors.World, n int) {
	t.Helper()
	seedAccount := func(prefix, role string, i int) string {
		addr := identity.MustAccount(fmt.Sprintf("0x%s%036x", prefix, i+1))
		if role != "" {
			if _, err := pool.Exec(ctx, `INSERT INTO accounts (address, password_hash, role, verified) VALUES ($1, 'x', $2, TRUE)`, addr, role); err != nil {
				t.Fatalf("seed account %s: %v", addr, err)
			}
		}
		return addr
	}
	for i := 0; i < n; i++ {
		employer := seedAccount("e0e0", "employer", i)
		if _, err := w.App.Wallet.Fund(ctx, employer, 1000*escrow.Unit); err != nil {
			t.Fatalf("fund %s: %v", employer, err)
		}
		w.Employers = append(w.Employers, employer)
		w.Workers = append(w.Workers, seedAccount("f0f0", "freelancer", i))

		voter := seedAccount("d0d0", "", i)
		if _, err := pool.Exec(ctx, `INSERT INTO token_balances (account, balance) VALUES ($1, $2)`, voter, int64(10+rand.Intn(90))); err != nil {
			t.Fatalf("seed tokens %s: %v", voter, err)
		}
		w.Voters = append(w.Voters, voter)
	}
}

// assertValueConserved checks that every base unit funded into employer
// wallets is either still in a wallet or held by escrow.
func assertValueConserved(t *testing.T, pool *pgxpool.Pool, w *actors.World) {
	t.Helper()
	var wallets, held int64
	ctx := context.Background()
	if err := pool.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM wallet_balances`).Scan(&wallets); err != nil {
		t.Fatalf("sum wallets: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM escrow_entries`).Scan(&held); err != nil {
		t.Fatalf("sum escrow: %v", err)
	}
	funded := int64(len(w.Employers)) * 1000 * escrow.Unit
	if wallets+held != funded {
		t.Fatalf("value not conserved: wallets %d + escrow %d != funded %d", wallets, held, funded)
	}
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, employer, worker, status, payment, updated_at FROM jobs ORDER BY id DESC LIMIT 50`},
		{"escrow_entries", `SELECT job_id, amount, released, refunded, deposited_total, disbursed_total FROM escrow_entries ORDER BY job_id DESC LIMIT 50`},
		{"proposals", `SELECT id, job_id, upvotes, downvotes, status, executed FROM proposals ORDER BY id DESC LIMIT 50`},
		{"events", `SELECT seq, topic, actor, created_at FROM events ORDER BY seq DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
