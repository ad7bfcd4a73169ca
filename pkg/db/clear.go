package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearInvocations truncates the audit log. The schema is kept.
func ClearInvocations(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing invocation audit log", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE invocations RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Invocation audit log cleared", clearLogPrefix))
	return nil
}
