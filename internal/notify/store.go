package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx-backed implementation of GoalStore, RecordStore, and
// UserStore. Statements are registered as prepared statements in internal/db.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the shared connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// LoadEligibleGoals returns active, previously-posted goals joined with the
// owner's push token and notification preference.
func (s *Store) LoadEligibleGoals(ctx context.Context) ([]GoalWithOwner, error) {
	rows, err := s.pool.Query(ctx, "load_eligible_goals")
	if err != nil {
		return nil, fmt.Errorf("load eligible goals: %w", err)
	}
	defer rows.Close()

	var goals []GoalWithOwner
	for rows.Next() {
		var g GoalWithOwner
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.Title, &g.StreakIntervalDays,
			&g.LastPostedAt, &g.LastNotificationAt,
			&g.Username, &g.PushToken, &g.PushEnabled,
		); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// AppendNotification inserts an immutable audit row.
func (s *Store) AppendNotification(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	// Instant notifications carry no goal reference.
	var goalID any
	if rec.GoalID != "" {
		goalID = rec.GoalID
	}
	_, err = s.pool.Exec(ctx, "insert_notification",
		rec.ID, rec.UserID, goalID, rec.Type,
		rec.Title, rec.Body, data, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CompareAndSwapNotificationTime conditionally advances notification_time.
// The IS NOT DISTINCT FROM predicate makes a null expected value match a
// null column, so never-notified goals CAS cleanly too.
func (s *Store) CompareAndSwapNotificationTime(ctx context.Context, goalID string, expected *time.Time, value time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, "cas_notification_time", goalID, expected, value)
	if err != nil {
		return false, fmt.Errorf("cas notification time: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// GetPushUser returns a user's push delivery fields.
func (s *Store) GetPushUser(ctx context.Context, userID string) (PushUser, error) {
	var u PushUser
	err := s.pool.QueryRow(ctx, "get_push_user", userID).
		Scan(&u.Username, &u.PushToken, &u.PushEnabled)
	if err != nil {
		return PushUser{}, fmt.Errorf("get push user %s: %w", userID, err)
	}
	return u, nil
}
