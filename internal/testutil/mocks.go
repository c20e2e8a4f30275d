// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"airlift-demo/internal/domain"
)

// === Event Repository Mock ===

// MockEventRepo implements domain.EventRepository in memory. Fn fields,
// when set, replace the default behavior of the matching method. Like the
// SQLite store, it refuses a second peered event for the same asset, run
// and partition.
type MockEventRepo struct {
	RecordMaterializationFn func(ctx context.Context, ev *domain.MaterializationEvent) (*domain.MaterializationEvent, error)
	RecordCheckEvaluationFn func(ctx context.Context, ev *domain.CheckEvaluation) (*domain.CheckEvaluation, error)

	mu               sync.Mutex
	Materializations []domain.MaterializationEvent
	CheckEvaluations []domain.CheckEvaluation
}

// RecordMaterialization implements the interface method for testing.
func (m *MockEventRepo) RecordMaterialization(ctx context.Context, ev *domain.MaterializationEvent) (*domain.MaterializationEvent, error) {
	if m.RecordMaterializationFn != nil {
		return m.RecordMaterializationFn(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Source == domain.MaterializationSourcePeered {
		for _, got := range m.Materializations {
			if got.Source == ev.Source && got.AssetKey == ev.AssetKey && got.RunID == ev.RunID &&
				ptrString(got.PartitionKey) == ptrString(ev.PartitionKey) {
				return nil, domain.ErrConflict("run %s already recorded for %s", ev.RunID, ev.AssetKey)
			}
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.Materializations = append(m.Materializations, *ev)
	return ev, nil
}

func ptrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LatestMaterialization implements the interface method for testing.
func (m *MockEventRepo) LatestMaterialization(_ context.Context, assetKey string) (*domain.MaterializationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Materializations) - 1; i >= 0; i-- {
		if m.Materializations[i].AssetKey == assetKey {
			ev := m.Materializations[i]
			return &ev, nil
		}
	}
	return nil, nil
}

// LatestMaterializations implements the interface method for testing.
func (m *MockEventRepo) LatestMaterializations(ctx context.Context, assetKeys []string) (map[string]*domain.MaterializationEvent, error) {
	out := make(map[string]*domain.MaterializationEvent, len(assetKeys))
	for _, k := range assetKeys {
		if ev, _ := m.LatestMaterialization(ctx, k); ev != nil {
			out[k] = ev
		}
	}
	return out, nil
}

// ListMaterializations implements the interface method for testing.
func (m *MockEventRepo) ListMaterializations(_ context.Context, assetKey string, limit int) ([]domain.MaterializationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MaterializationEvent
	for i := len(m.Materializations) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.Materializations[i].AssetKey == assetKey {
			out = append(out, m.Materializations[i])
		}
	}
	return out, nil
}

// RecordCheckEvaluation implements the interface method for testing.
func (m *MockEventRepo) RecordCheckEvaluation(ctx context.Context, ev *domain.CheckEvaluation) (*domain.CheckEvaluation, error) {
	if m.RecordCheckEvaluationFn != nil {
		return m.RecordCheckEvaluationFn(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckEvaluations = append(m.CheckEvaluations, *ev)
	return ev, nil
}

// LatestCheckEvaluation implements the interface method for testing.
func (m *MockEventRepo) LatestCheckEvaluation(_ context.Context, assetKey, checkName string) (*domain.CheckEvaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.CheckEvaluations) - 1; i >= 0; i-- {
		ev := m.CheckEvaluations[i]
		if ev.AssetKey == assetKey && ev.CheckName == checkName {
			return &ev, nil
		}
	}
	return nil, nil
}

// MaterializedKeys returns the asset keys of every recorded event, in order.
func (m *MockEventRepo) MaterializedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Materializations))
	for i, ev := range m.Materializations {
		out[i] = ev.AssetKey
	}
	return out
}

// === Cursor Repository Mock ===

// MockCursorRepo implements domain.CursorRepository in memory.
type MockCursorRepo struct {
	GetCursorFn func(ctx context.Context, sensorName string) (*domain.SensorCursor, error)

	mu      sync.Mutex
	Cursors map[string]string
}

// GetCursor implements the interface method for testing.
func (m *MockCursorRepo) GetCursor(ctx context.Context, sensorName string) (*domain.SensorCursor, error) {
	if m.GetCursorFn != nil {
		return m.GetCursorFn(ctx, sensorName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Cursors[sensorName]
	if !ok {
		return nil, domain.ErrNotFound("cursor %q not found", sensorName)
	}
	return &domain.SensorCursor{SensorName: sensorName, Value: v}, nil
}

// SetCursor implements the interface method for testing.
func (m *MockCursorRepo) SetCursor(_ context.Context, sensorName, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Cursors == nil {
		m.Cursors = make(map[string]string)
	}
	m.Cursors[sensorName] = value
	return nil
}

// Compile-time checks.
var (
	_ domain.EventRepository  = (*MockEventRepo)(nil)
	_ domain.CursorRepository = (*MockCursorRepo)(nil)
)
