package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for the invocation audit log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertInvocation records one completed invocation and sets its ID and Created.
func (r *Repository) InsertInvocation(ctx context.Context, inv *Invocation) error {
	slog.Debug(fmt.Sprintf("%s - InsertInvocation kind=%s name=%s corrid=%s", repoLogPrefix, inv.Kind, inv.Name, inv.CorrelationID))

	results := inv.Results
	if len(results) == 0 {
		results = []byte("[]")
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO invocations (invocation_id, correlation_id, automation, version, kind, name, team_id,
		                          status, code, message, handler_count, results, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created`,
		inv.InvocationID, inv.CorrelationID, inv.Automation, inv.Version, inv.Kind, inv.Name, inv.TeamID,
		inv.Status, inv.Code, inv.Message, inv.HandlerCount, results, inv.StartedAt.UTC(), inv.DurationMs,
	).Scan(&inv.ID, &inv.Created)
	if err != nil {
		return fmt.Errorf("%s - insert invocation failed: %w", repoLogPrefix, err)
	}
	return nil
}

// ListRecentInvocations returns the newest invocations of an automation, newest first.
func (r *Repository) ListRecentInvocations(ctx context.Context, automation string, limit int) ([]*Invocation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, invocation_id, correlation_id, automation, version, kind, name, team_id,
		        status, code, message, handler_count, results, started_at, duration_ms, created
		 FROM invocations
		 WHERE automation = $1
		 ORDER BY created DESC, id DESC
		 LIMIT $2`, automation, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list invocations failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list invocations rows: %w", repoLogPrefix, err)
	}
	return out, nil
}

// GetInvocationsByCorrelation returns every invocation recorded for a correlation id, oldest first.
func (r *Repository) GetInvocationsByCorrelation(ctx context.Context, correlationID string) ([]*Invocation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invocation_id, correlation_id, automation, version, kind, name, team_id,
		        status, code, message, handler_count, results, started_at, duration_ms, created
		 FROM invocations
		 WHERE correlation_id = $1
		 ORDER BY id`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("%s - get invocations by correlation failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvocation(row pgx.Row) (*Invocation, error) {
	var inv Invocation
	var results []byte
	err := row.Scan(
		&inv.ID, &inv.InvocationID, &inv.CorrelationID, &inv.Automation, &inv.Version, &inv.Kind, &inv.Name,
		&inv.TeamID, &inv.Status, &inv.Code, &inv.Message, &inv.HandlerCount, &results, &inv.StartedAt,
		&inv.DurationMs, &inv.Created,
	)
	if err != nil {
		return nil, fmt.Errorf("%s - scan invocation failed: %w", repoLogPrefix, err)
	}
	inv.Results = results
	return &inv, nil
}
