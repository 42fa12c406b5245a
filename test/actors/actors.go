package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freelancedao/app"
	"freelancedao/escrow"
	"freelancedao/job"
)

// IDs is a shared pool of ids the actors fight over.
type IDs struct {
	mu  sync.Mutex
	ids []int64
}

func (s *IDs) Add(id int64) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

// Pick returns a random id, biased towards recent ones so actors collide.
func (s *IDs) Pick() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return 0, false
	}
	window := len(s.ids)
	if window > 16 {
		window = 16
	}
	return s.ids[len(s.ids)-1-rand.Intn(window)], true
}

// World is what every actor shares.
type World struct {
	App       *app.App
	Pool      *pgxpool.Pool
	Employers []string
	Workers   []string
	Voters    []string
	Jobs      IDs
	Proposals IDs
}

func pick(accounts []string) string {
	return accounts[rand.Intn(len(accounts))]
}

func pause(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

func done(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Employer posts and funds jobs, assigns workers, and now and then cancels.
func Employer(ctx context.Context, w *World, employer string, stop <-chan struct{}) error {
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		switch rand.Intn(4) {
		case 0, 1:
			j, err := w.App.Jobs.CreateJob(ctx, employer, fmt.Sprintf("ipfs://stress/%d", rand.Int63()))
			if err == nil {
				w.Jobs.Add(j.ID)
				_, _ = w.App.Jobs.DepositFunds(ctx, employer, j.ID, int64(1+rand.Intn(5))*escrow.Unit/10)
			}
		case 2:
			if id, ok := w.Jobs.Pick(); ok {
				_, _ = w.App.Jobs.AssignWorker(ctx, employer, id, pick(w.Workers))
			}
		case 3:
			if id, ok := w.Jobs.Pick(); ok {
				_, _ = w.App.Jobs.CancelJob(ctx, employer, id)
			}
		}
		pause(10, 20)
	}
}

// Worker completes and disputes whatever jobs it can reach.
func Worker(ctx context.Context, w *World, worker string, stop <-chan struct{}) error {
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		if id, ok := w.Jobs.Pick(); ok {
			if rand.Intn(3) == 0 {
				_, _ = w.App.Jobs.RaiseDispute(ctx, worker, id)
			} else {
				_, _ = w.App.Jobs.MarkComplete(ctx, worker, id)
			}
		}
		pause(10, 30)
	}
}

// Closer settles or disputes jobs on behalf of each job's employer.
func Closer(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		if id, ok := w.Jobs.Pick(); ok {
			if j, err := w.App.Jobs.GetJob(ctx, id); err == nil {
				switch j.Status {
				case job.StatusCompleted:
					if rand.Intn(4) == 0 {
						_, _ = w.App.Jobs.RaiseDispute(ctx, j.Employer, id)
					} else {
						_, _ = w.App.Jobs.CloseJob(ctx, j.Employer, id)
					}
				default:
					_, _ = w.App.Jobs.CancelJob(ctx, j.Employer, id)
				}
			}
		}
		pause(15, 30)
	}
}

// Arbiter opens proposals on disputed jobs, votes, and executes.
func Arbiter(ctx context.Context, w *World, voter string, stop <-chan struct{}) error {
	_ = w.App.Disputes.Join(ctx, voter)
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		switch rand.Intn(3) {
		case 0:
			if id, ok := w.Jobs.Pick(); ok {
				if p, err := w.App.Disputes.CreateProposal(ctx, voter, id, "stress arbitration", rand.Intn(2) == 0); err == nil {
					w.Proposals.Add(p.ID)
				}
			}
		case 1:
			if id, ok := w.Proposals.Pick(); ok {
				_, _ = w.App.Disputes.Vote(ctx, voter, id, rand.Intn(3) != 0)
			}
		case 2:
			if id, ok := w.Proposals.Pick(); ok {
				_, _ = w.App.Disputes.Execute(ctx, voter, id)
			}
		}
		pause(20, 40)
	}
}

// RawDisburser bypasses the services and tries to corrupt escrow and job
// rows directly. Every attempt must be refused by the schema guards.
func RawDisburser(ctx context.Context, w *World, stop <-chan struct{}) error {
	attacks := []string{
		`UPDATE escrow_entries SET released = TRUE, refunded = TRUE WHERE job_id = $1`,
		`UPDATE escrow_entries SET amount = amount + 1 WHERE job_id = $1`,
		`UPDATE jobs SET status = 0 WHERE id = $1 AND status IN (3, 4)`,
		`DELETE FROM escrow_entries WHERE job_id = $1`,
	}
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		id, ok := w.Jobs.Pick()
		if !ok {
			pause(50, 50)
			continue
		}
		sql := attacks[rand.Intn(len(attacks))]
		tag, err := w.Pool.Exec(ctx, sql, id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case "23514", "P0001", "57P01": // check violation, guard trigger, chaos kill
				default:
					return fmt.Errorf("raw disburser %q: %w", sql, err)
				}
			}
		} else if tag.RowsAffected() > 0 {
			return fmt.Errorf("raw disburser: %q modified job %d", sql, id)
		}
		pause(50, 100)
	}
}

// OutboxWorker drains the outbox through the relay.
func OutboxWorker(ctx context.Context, w *World, stop <-chan struct{}) error {
	for {
		if over, err := done(ctx, stop); over {
			return err
		}
		_, _ = w.App.Relay.Drain(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
