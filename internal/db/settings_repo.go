package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"capacityd/internal/types"
)

// SettingsRepo reads the capacity_settings row owned by the administration
// surface: the capacity descriptor fields plus the auto-managed and
// scheduled flags. The controller never writes this table.
type SettingsRepo struct {
	db DBTX
}

// NewSettingsRepo creates a SettingsRepo backed by the given connection.
func NewSettingsRepo(db DBTX) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns the current capacity settings. A missing row is not an error:
// it yields zero-valued settings, which the controller treats as an
// incomplete descriptor (every operation short-circuits to Unavailable).
func (r *SettingsRepo) Get(ctx context.Context) (types.CapacitySettings, error) {
	const query = `
		SELECT capacity_name, capacity_kind, resource_group, subscription_id,
		       auto_managed, scheduled_enabled
		FROM capacity_settings
		LIMIT 1`

	var s types.CapacitySettings
	var kind string
	err := r.db.QueryRow(ctx, query).Scan(
		&s.Descriptor.Name,
		&kind,
		&s.Descriptor.ResourceGroup,
		&s.Descriptor.SubscriptionID,
		&s.AutoManaged,
		&s.ScheduledEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.CapacitySettings{}, nil
	}
	if err != nil {
		return types.CapacitySettings{}, types.NewAppError(
			types.ErrCodeInternalDB, "failed to query capacity settings", err)
	}
	s.Descriptor.Kind = types.CapacityKind(kind)

	return s, nil
}
