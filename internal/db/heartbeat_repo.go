package db

import (
	"context"
	"time"

	"capacityd/internal/types"
)

// HeartbeatRepo stores activity heartbeats written by client sessions and
// answers the aggregate "how many distinct users were active recently"
// query. One row per user; the timestamp is advanced on each heartbeat so
// the table stays bounded by the user population.
type HeartbeatRepo struct {
	db DBTX
}

// NewHeartbeatRepo creates a HeartbeatRepo backed by the given connection.
func NewHeartbeatRepo(db DBTX) *HeartbeatRepo {
	return &HeartbeatRepo{db: db}
}

// Record upserts a heartbeat for the given user at the given instant.
func (r *HeartbeatRepo) Record(ctx context.Context, userID string, at time.Time) error {
	const query = `
		INSERT INTO capacity_heartbeats (user_id, seen_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET seen_at = EXCLUDED.seen_at`

	if _, err := r.db.Exec(ctx, query, userID, at); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalDB, "failed to record heartbeat", err)
	}
	return nil
}

// CountActiveSince returns the number of distinct users with a heartbeat at
// or after the cutoff instant.
func (r *HeartbeatRepo) CountActiveSince(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT user_id)
		FROM capacity_heartbeats
		WHERE seen_at >= $1`

	var count int
	if err := r.db.QueryRow(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, types.NewAppError(
			types.ErrCodeInternalDB, "failed to count active users", err)
	}
	return count, nil
}
