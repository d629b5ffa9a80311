// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberlog/streakd/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers every statement the scheduler and the
// instant path use. Prepared statements eliminate parse overhead on every run.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Scheduler: candidate load (active goals joined with owner push fields)
		"load_eligible_goals": `
			SELECT g.id, g.user_id, g.title, g.streak_interval,
			       g.last_posted_at, g.notification_time,
			       u.username, u.push_token, u.push_notifications_enabled
			FROM goals g
			JOIN users u ON u.id = g.user_id
			WHERE g.completed = false
			  AND g.last_posted_at IS NOT NULL
			  AND g.streak_interval IS NOT NULL`,

		// Scheduler: optimistic concurrency on the per-goal notification state.
		// IS NOT DISTINCT FROM lets a null expected value match a null column.
		"cas_notification_time": `
			UPDATE goals
			SET notification_time = $3
			WHERE id = $1 AND notification_time IS NOT DISTINCT FROM $2`,

		// Audit trail
		"insert_notification": `
			INSERT INTO notifications (
				id, user_id, goal_id, type, title, body, data, read, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,

		// Instant path: single-user push lookup
		"get_push_user": `
			SELECT username, push_token, push_notifications_enabled
			FROM users WHERE id = $1`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
