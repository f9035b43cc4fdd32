package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_terminal_exclusive",
			SQL: `SELECT communication_id FROM audit_events
                  WHERE type IN ('RUN_COMPLETED','RUN_ABORTED') AND communication_id IS NOT NULL
                  GROUP BY communication_id HAVING COUNT(DISTINCT type) > 1`,
		},
		{
			Name: "O2_dispatch_requires_mint",
			SQL: `SELECT d.communication_id FROM audit_events d
                  WHERE d.type = 'MESSAGE_DISPATCHED'
                    AND NOT EXISTS (
                        SELECT 1 FROM audit_events m
                        WHERE m.communication_id = d.communication_id
                          AND m.type = 'COMMUNICATION_ID_MINTED'
                          AND m.created_at <= d.created_at)`,
		},
		{
			Name: "O3_strike_ladder",
			SQL: `SELECT communication_id FROM orbt_errors
                  WHERE communication_id IS NOT NULL
                  GROUP BY communication_id
                  HAVING COUNT(*) FILTER (WHERE strike = 1) <> 1
                      OR COUNT(*) FILTER (WHERE strike = 2) <> LEAST(GREATEST(COUNT(*) - 1, 0), 1)
                      OR COUNT(*) FILTER (WHERE strike = 3) <> GREATEST(COUNT(*) - 2, 0)`,
		},
		{
			Name: "O4_completed_run_was_dispatched",
			SQL: `SELECT c.communication_id FROM audit_events c
                  WHERE c.type = 'RUN_COMPLETED'
                    AND NOT EXISTS (
                        SELECT 1 FROM audit_events d
                        WHERE d.communication_id = c.communication_id
                          AND d.type = 'MESSAGE_DISPATCHED')`,
		},
		{
			Name: "O5_queue_terminal_was_claimed",
			SQL: `SELECT id FROM signal_queue
                  WHERE status IN ('done','dropped') AND claimed_at IS NULL`,
		},
		{
			Name: "O6_minted_id_shape",
			SQL: `SELECT DISTINCT communication_id FROM audit_events
                  WHERE communication_id IS NOT NULL
                    AND communication_id !~ '^LCS-(OUT|SAL|CLI)-[0-9]{8}-[A-Za-z0-9]{10,}$'`,
		},
		{
			Name: "O7_run_id_shape",
			SQL: `SELECT DISTINCT message_run_id FROM audit_events
                  WHERE message_run_id IS NOT NULL
                    AND message_run_id !~ '^RUN-LCS-(OUT|SAL|CLI)-[0-9]{8}-[A-Za-z0-9]{10,}-[A-Z]{2}-[0-9]{3}$'`,
		},
		{
			Name: "O8_audit_step_range",
			SQL:  `SELECT id FROM audit_events WHERE step < 0 OR step > 9`,
		},
		{
			Name: "O9_audit_delete_guard",
			SQL: `SELECT 'missing_no_rewrite_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_rewrite_audit_events')`,
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
	}
	return "", "", nil
}
