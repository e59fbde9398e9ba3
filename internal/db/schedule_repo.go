package db

import (
	"context"

	"capacityd/internal/types"
)

// ScheduleRepo reads the weekly schedule window rows owned by the
// administration surface. Validation beyond column types happens upstream;
// the reconciler tolerates and skips malformed rows.
type ScheduleRepo struct {
	db DBTX
}

// NewScheduleRepo creates a ScheduleRepo backed by the given connection.
func NewScheduleRepo(db DBTX) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// List returns all configured schedule windows ordered by day and start time.
func (r *ScheduleRepo) List(ctx context.Context) ([]types.ScheduleWindow, error) {
	const query = `
		SELECT day_of_week, start_hour, start_minute, end_hour, end_minute
		FROM capacity_schedule_windows
		ORDER BY day_of_week, start_hour, start_minute`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalDB, "failed to query schedule windows", err)
	}
	defer rows.Close()

	var windows []types.ScheduleWindow
	for rows.Next() {
		var w types.ScheduleWindow
		if err := rows.Scan(&w.DayOfWeek, &w.StartHour, &w.StartMinute, &w.EndHour, &w.EndMinute); err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalDB, "failed to scan schedule window row", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalDB, "error iterating schedule window rows", err)
	}

	return windows, nil
}
