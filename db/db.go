package db

import (
	"context"
	"fmt"

	"nollettan-menu/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Pool *pgxpool.Pool

func Init(ctx context.Context, cfg config.DBConfig) error {
	var err error
	Pool, err = pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	if err := Pool.Ping(ctx); err != nil {
		Pool.Close()
		Pool = nil
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
