package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool constructs the dispatcher's pgx connection pool. Connections
// identify themselves as outreachflow so operators can tell dispatch
// traffic apart in pg_stat_activity.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "outreachflow"

	return pgxpool.NewWithConfig(ctx, cfg)
}
