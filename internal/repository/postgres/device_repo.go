package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/device"
)

var _ device.Repo = (*DeviceRepoImpl)(nil)

type DeviceRepoImpl struct{ db *DB }

func NewDeviceRepo(db *DB) *DeviceRepoImpl { return &DeviceRepoImpl{db: db} }

const (
	qDeviceListActive = `
SELECT id, user_id, token, platform, sandbox, active, last_used_at, created_at
FROM device_endpoints
WHERE user_id = $1 AND active = TRUE
ORDER BY id;
`

	// Re-registering an existing (user, token) refreshes platform/sandbox
	// and marks the endpoint live again: a fresh registration is the only
	// way back from deactivation.
	qDeviceRegister = `
INSERT INTO device_endpoints (user_id, token, platform, sandbox, active, last_used_at)
VALUES ($1, $2, $3, $4, TRUE, NOW())
ON CONFLICT (user_id, token) DO UPDATE
SET platform = EXCLUDED.platform,
    sandbox = EXCLUDED.sandbox,
    active = TRUE,
    last_used_at = NOW()
RETURNING id, created_at;
`

	qDeviceDeactivate = `
UPDATE device_endpoints
SET active = FALSE
WHERE id = $1;
`

	qDeviceTouch = `
UPDATE device_endpoints
SET last_used_at = NOW()
WHERE id = ANY($1);
`

	qDevicePurge = `
DELETE FROM device_endpoints
WHERE active = FALSE AND last_used_at < $1;
`
)

func (r *DeviceRepoImpl) ListActiveByUser(ctx context.Context, userID int64) ([]*device.Endpoint, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qDeviceListActive, userID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []*device.Endpoint
	for rows.Next() {
		var e device.Endpoint
		if err := rows.Scan(&e.ID, &e.UserID, &e.Token, &e.Platform, &e.Sandbox, &e.Active, &e.LastUsedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *DeviceRepoImpl) Register(ctx context.Context, e *device.Endpoint) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qDeviceRegister,
		e.UserID, e.Token, e.Platform, e.Sandbox,
	).Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	e.Active = true
	return nil
}

func (r *DeviceRepoImpl) Deactivate(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qDeviceDeactivate, id); err != nil {
		return fmt.Errorf("deactivate device: %w", err)
	}
	return nil
}

func (r *DeviceRepoImpl) TouchLastUsed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qDeviceTouch, ids); err != nil {
		return fmt.Errorf("touch devices: %w", err)
	}
	return nil
}

func (r *DeviceRepoImpl) PurgeInactive(ctx context.Context, unusedSince time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qDevicePurge, unusedSince)
	if err != nil {
		return 0, fmt.Errorf("purge devices: %w", err)
	}
	return cmd.RowsAffected(), nil
}
