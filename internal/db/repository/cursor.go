package repository

import (
	"context"
	"database/sql"
	"time"

	"airlift-demo/internal/domain"
)

// Compile-time check.
var _ domain.CursorRepository = (*CursorRepo)(nil)

// CursorRepo implements CursorRepository using SQLite.
type CursorRepo struct {
	db *sql.DB
}

// NewCursorRepo creates a new CursorRepo.
func NewCursorRepo(db *sql.DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// GetCursor returns the stored cursor, or a NotFoundError when the sensor
// never stored one.
func (r *CursorRepo) GetCursor(ctx context.Context, sensorName string) (*domain.SensorCursor, error) {
	var c domain.SensorCursor
	var updatedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT sensor_name, value, updated_at FROM sensor_cursors WHERE sensor_name = ?`, sensorName).
		Scan(&c.SensorName, &c.Value, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound("cursor for sensor %q not found", sensorName)
		}
		return nil, mapDBError(err)
	}
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// SetCursor inserts or replaces the cursor.
func (r *CursorRepo) SetCursor(ctx context.Context, sensorName, value string) error {
	if sensorName == "" {
		return domain.ErrValidation("sensor name is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sensor_cursors (sensor_name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (sensor_name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sensorName, value, formatTime(time.Now()))
	return mapDBError(err)
}
