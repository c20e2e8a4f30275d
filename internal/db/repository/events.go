package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"airlift-demo/internal/domain"
)

// Compile-time check.
var _ domain.EventRepository = (*EventRepo)(nil)

// EventRepo implements EventRepository using SQLite. Events are ordered by
// an insertion sequence so "latest" is well defined within one timestamp.
type EventRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewEventRepo creates a new EventRepo. read may be the same pool as write.
func NewEventRepo(write, read *sql.DB) *EventRepo {
	if read == nil {
		read = write
	}
	return &EventRepo{write: write, read: read}
}

const materializationColumns = `id, asset_key, run_id, partition_key, source, metadata, created_at`

// RecordMaterialization inserts a materialization event.
func (r *EventRepo) RecordMaterialization(ctx context.Context, ev *domain.MaterializationEvent) (*domain.MaterializationEvent, error) {
	if ev.AssetKey == "" {
		return nil, domain.ErrValidation("asset key is required")
	}
	if ev.ID == "" {
		ev.ID = domain.NewID()
	}
	md, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt := formatTime(ev.CreatedAt)

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO materialization_events (`+materializationColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM materialization_events))`,
		ev.ID, ev.AssetKey, ev.RunID, nullStringPtr(ev.PartitionKey), ev.Source, md, createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}

	out := *ev
	out.CreatedAt = parseTime(createdAt)
	return &out, nil
}

// LatestMaterialization returns the newest event for assetKey, or nil when
// the asset was never materialized.
func (r *EventRepo) LatestMaterialization(ctx context.Context, assetKey string) (*domain.MaterializationEvent, error) {
	row := r.read.QueryRowContext(ctx, `
		SELECT `+materializationColumns+` FROM materialization_events
		WHERE asset_key = ? ORDER BY seq DESC LIMIT 1`, assetKey)
	ev, err := scanMaterialization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	return ev, nil
}

// LatestMaterializations returns the newest event per key. Keys never
// materialized are absent from the map.
func (r *EventRepo) LatestMaterializations(ctx context.Context, assetKeys []string) (map[string]*domain.MaterializationEvent, error) {
	out := make(map[string]*domain.MaterializationEvent, len(assetKeys))
	if len(assetKeys) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(assetKeys)), ",")
	args := make([]any, len(assetKeys))
	for i, k := range assetKeys {
		args[i] = k
	}

	rows, err := r.read.QueryContext(ctx, `
		SELECT `+materializationColumns+` FROM materialization_events e
		WHERE asset_key IN (`+placeholders+`)
		  AND seq = (SELECT MAX(seq) FROM materialization_events WHERE asset_key = e.asset_key)`, args...)
	if err != nil {
		return nil, fmt.Errorf("latest materializations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		ev, err := scanMaterialization(rows)
		if err != nil {
			return nil, err
		}
		out[ev.AssetKey] = ev
	}
	return out, rows.Err()
}

// ListMaterializations returns events for assetKey, newest first. A
// non-positive limit returns every event.
func (r *EventRepo) ListMaterializations(ctx context.Context, assetKey string, limit int) ([]domain.MaterializationEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.read.QueryContext(ctx, `
		SELECT `+materializationColumns+` FROM materialization_events
		WHERE asset_key = ? ORDER BY seq DESC LIMIT ?`, assetKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list materializations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.MaterializationEvent
	for rows.Next() {
		ev, err := scanMaterialization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

const checkColumns = `id, asset_key, check_name, run_id, outcome, severity, description, metadata, created_at`

// RecordCheckEvaluation inserts a check evaluation.
func (r *EventRepo) RecordCheckEvaluation(ctx context.Context, ev *domain.CheckEvaluation) (*domain.CheckEvaluation, error) {
	if ev.AssetKey == "" || ev.CheckName == "" {
		return nil, domain.ErrValidation("asset key and check name are required")
	}
	if ev.ID == "" {
		ev.ID = domain.NewID()
	}
	severity := ev.Severity
	if severity == "" {
		severity = domain.CheckSeverityError
	}
	md, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return nil, err
	}
	createdAt := formatTime(ev.CreatedAt)

	_, err = r.write.ExecContext(ctx, `
		INSERT INTO check_evaluations (`+checkColumns+`, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM check_evaluations))`,
		ev.ID, ev.AssetKey, ev.CheckName, ev.RunID, string(ev.Outcome), string(severity), ev.Description, md, createdAt)
	if err != nil {
		return nil, mapDBError(err)
	}

	out := *ev
	out.Severity = severity
	out.CreatedAt = parseTime(createdAt)
	return &out, nil
}

// LatestCheckEvaluation returns the newest evaluation of the named check on
// assetKey, or nil when it never ran.
func (r *EventRepo) LatestCheckEvaluation(ctx context.Context, assetKey, checkName string) (*domain.CheckEvaluation, error) {
	var (
		ev                         domain.CheckEvaluation
		outcome, severity, md, cAt string
	)
	err := r.read.QueryRowContext(ctx, `
		SELECT `+checkColumns+` FROM check_evaluations
		WHERE asset_key = ? AND check_name = ? ORDER BY seq DESC LIMIT 1`, assetKey, checkName).
		Scan(&ev.ID, &ev.AssetKey, &ev.CheckName, &ev.RunID, &outcome, &severity, &ev.Description, &md, &cAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	ev.Outcome = domain.CheckOutcome(outcome)
	ev.Severity = domain.CheckSeverity(severity)
	ev.Metadata = unmarshalMetadata(md)
	ev.CreatedAt = parseTime(cAt)
	return &ev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMaterialization(s scanner) (*domain.MaterializationEvent, error) {
	var (
		ev        domain.MaterializationEvent
		partition sql.NullString
		md, cAt   string
	)
	if err := s.Scan(&ev.ID, &ev.AssetKey, &ev.RunID, &partition, &ev.Source, &md, &cAt); err != nil {
		return nil, err
	}
	ev.PartitionKey = ptrFromNull(partition)
	ev.Metadata = unmarshalMetadata(md)
	ev.CreatedAt = parseTime(cAt)
	return &ev, nil
}
