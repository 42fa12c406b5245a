package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_disbursement",
			SQL:  `SELECT job_id FROM escrow_entries WHERE released AND refunded`,
		},
		{
			Name: "O2_escrow_conservation",
			SQL: `SELECT job_id, deposited_total, disbursed_total, amount FROM escrow_entries
                  WHERE deposited_total - disbursed_total <> amount
                     OR ((released OR refunded) AND amount <> 0)`,
		},
		{
			Name: "O3_terminal_job_holds_value",
			SQL: `SELECT j.id, j.status, e.amount FROM jobs j
                  JOIN escrow_entries e ON e.job_id = j.id
                  WHERE j.status IN (3, 4) AND e.amount > 0`,
		},
		{
			Name: "O4_worker_missing",
			SQL:  `SELECT id, status FROM jobs WHERE status IN (1, 2, 5) AND worker IS NULL`,
		},
		{
			Name: "O5_tally_matches_votes",
			SQL: `SELECT p.id, p.upvotes, p.downvotes, v.up, v.down FROM proposals p
                  LEFT JOIN (
                      SELECT proposal_id,
                             COALESCE(SUM(weight) FILTER (WHERE support), 0) AS up,
                             COALESCE(SUM(weight) FILTER (WHERE NOT support), 0) AS down
                      FROM proposal_votes GROUP BY proposal_id) v ON v.proposal_id = p.id
                  WHERE p.upvotes <> COALESCE(v.up, 0) OR p.downvotes <> COALESCE(v.down, 0)`,
		},
		{
			Name: "O6_settled_once",
			SQL: `SELECT id, status, executed FROM proposals
                  WHERE (status <> 'active') <> executed
                     OR (executed AND executed_at IS NULL)`,
		},
		{
			Name: "O7_executed_job_resolved",
			SQL: `SELECT p.id, j.status FROM proposals p
                  JOIN jobs j ON j.id = p.job_id
                  WHERE p.status = 'executed' AND j.status <> 3`,
		},
		{
			Name: "O8_event_without_outbox",
			SQL: `SELECT e.seq, e.topic FROM events e
                  LEFT JOIN outbox o ON o.event_seq = e.seq
                  WHERE o.id IS NULL`,
		},
		{
			Name: "O9_outbox_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O10_guard_triggers",
			SQL: `SELECT t.name AS missing FROM (VALUES ('escrow_freeze'), ('proposal_freeze'),
                         ('job_transition'), ('no_delete_escrow_entries')) AS t(name)
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = t.name)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
