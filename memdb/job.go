package memdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"freelancedao/job"
)

// JobRepo implements job.Repository.
type JobRepo struct{ db *DB }

var _ job.Repository = JobRepo{}

func (d *DB) Jobs() JobRepo { return JobRepo{db: d} }

func (r JobRepo) Create(ctx context.Context, tx pgx.Tx, params job.CreateParams) (job.Job, error) {
	var out job.Job
	err := r.db.within(tx, func(s *state) error {
		now := r.db.stamp()
		out = job.Job{
			ID:          r.db.nextID(&r.db.nextJobID),
			Employer:    params.Employer,
			Description: params.Description,
			Status:      job.StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.jobs[out.ID] = out
		return nil
	})
	return out, err
}

func (r JobRepo) Get(ctx context.Context, id int64) (job.Job, error) {
	var out job.Job
	err := r.db.access(ctx, func(s *state) error {
		j, ok := s.jobs[id]
		if !ok {
			return job.ErrJobNotFound
		}
		out = j
		return nil
	})
	return out, err
}

func (r JobRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (job.Job, error) {
	var out job.Job
	err := r.db.within(tx, func(s *state) error {
		j, ok := s.jobs[id]
		if !ok {
			return job.ErrJobNotFound
		}
		out = j
		return nil
	})
	return out, err
}

// Update applies the same transition guard the jobs table trigger enforces.
func (r JobRepo) Update(ctx context.Context, tx pgx.Tx, j job.Job) (job.Job, error) {
	err := r.db.within(tx, func(s *state) error {
		old, ok := s.jobs[j.ID]
		if !ok {
			return job.ErrJobNotFound
		}
		if old.Status.Terminal() {
			return fmt.Errorf("memdb: job %d is terminal", j.ID)
		}
		if old.Status != j.Status && !old.Status.CanTransitionTo(j.Status) {
			return fmt.Errorf("memdb: job %d: invalid transition %s -> %s", j.ID, old.Status, j.Status)
		}
		if j.Payment < 0 {
			return fmt.Errorf("memdb: job %d: negative payment", j.ID)
		}
		old.Worker = j.Worker
		old.Status = j.Status
		old.Payment = j.Payment
		old.UpdatedAt = r.db.stamp()
		s.jobs[j.ID] = old
		j = old
		return nil
	})
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (r JobRepo) ListByEmployer(ctx context.Context, employer string, limit int) ([]job.Job, error) {
	return r.list(ctx, limit, func(j job.Job) bool { return j.Employer == employer })
}

func (r JobRepo) ListByWorker(ctx context.Context, worker string, limit int) ([]job.Job, error) {
	return r.list(ctx, limit, func(j job.Job) bool { return j.Worker != "" && j.Worker == worker })
}

func (r JobRepo) list(ctx context.Context, limit int, match func(job.Job) bool) ([]job.Job, error) {
	out := make([]job.Job, 0, 8)
	err := r.db.access(ctx, func(s *state) error {
		for _, j := range s.jobs {
			if match(j) {
				out = append(out, j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
