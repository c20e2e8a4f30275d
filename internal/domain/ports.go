package domain

import "context"

// EventRepository persists materialization events and check evaluations.
// Implemented by repository.EventRepo.
type EventRepository interface {
	RecordMaterialization(ctx context.Context, ev *MaterializationEvent) (*MaterializationEvent, error)
	LatestMaterialization(ctx context.Context, assetKey string) (*MaterializationEvent, error)
	LatestMaterializations(ctx context.Context, assetKeys []string) (map[string]*MaterializationEvent, error)
	ListMaterializations(ctx context.Context, assetKey string, limit int) ([]MaterializationEvent, error)
	RecordCheckEvaluation(ctx context.Context, ev *CheckEvaluation) (*CheckEvaluation, error)
	LatestCheckEvaluation(ctx context.Context, assetKey, checkName string) (*CheckEvaluation, error)
}

// CursorRepository persists sensor cursors.
// Implemented by repository.CursorRepo.
type CursorRepository interface {
	GetCursor(ctx context.Context, sensorName string) (*SensorCursor, error)
	SetCursor(ctx context.Context, sensorName, value string) error
}
