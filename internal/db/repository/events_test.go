package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "airlift-demo/internal/db"
	"airlift-demo/internal/domain"
)

func setupEventRepo(t *testing.T) *EventRepo {
	t.Helper()
	s := internaldb.OpenTestStore(t)
	return NewEventRepo(s.Write, s.Read)
}

func strPtr(s string) *string { return &s }

func TestEventRepo_Materializations(t *testing.T) {
	repo := setupEventRepo(t)
	ctx := context.Background()

	latest, err := repo.LatestMaterialization(ctx, "customers_csv")
	require.NoError(t, err)
	assert.Nil(t, latest)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, run := range []string{"run-1", "run-2", "run-3"} {
		ev, err := repo.RecordMaterialization(ctx, &domain.MaterializationEvent{
			AssetKey:  "customers_csv",
			RunID:     run,
			Source:    domain.MaterializationSourceLocal,
			Metadata:  map[string]any{"rows": i + 1},
			CreatedAt: ts,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, ev.ID)
	}
	_, err = repo.RecordMaterialization(ctx, &domain.MaterializationEvent{
		AssetKey:     "raw_data/raw_customers",
		RunID:        "peer-1",
		PartitionKey: strPtr("2024-01-01"),
		Source:       domain.MaterializationSourcePeered,
		CreatedAt:    ts,
	})
	require.NoError(t, err)

	latest, err = repo.LatestMaterialization(ctx, "customers_csv")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-3", latest.RunID)
	assert.Equal(t, json.Number("3"), latest.Metadata["rows"])
	assert.True(t, ts.Equal(latest.CreatedAt))
	assert.Nil(t, latest.PartitionKey)

	list, err := repo.ListMaterializations(ctx, "customers_csv", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-3", list[0].RunID)
	assert.Equal(t, "run-2", list[1].RunID)

	all, err := repo.ListMaterializations(ctx, "customers_csv", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byKey, err := repo.LatestMaterializations(ctx, []string{"customers_csv", "raw_data/raw_customers", "never"})
	require.NoError(t, err)
	require.Len(t, byKey, 2)
	assert.Equal(t, "run-3", byKey["customers_csv"].RunID)
	require.NotNil(t, byKey["raw_data/raw_customers"].PartitionKey)
	assert.Equal(t, "2024-01-01", *byKey["raw_data/raw_customers"].PartitionKey)
	assert.Equal(t, domain.MaterializationSourcePeered, byKey["raw_data/raw_customers"].Source)
}

func TestEventRepo_RecordMaterialization_Errors(t *testing.T) {
	repo := setupEventRepo(t)
	ctx := context.Background()

	_, err := repo.RecordMaterialization(ctx, &domain.MaterializationEvent{Source: domain.MaterializationSourceLocal})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	ev := &domain.MaterializationEvent{ID: "dup", AssetKey: "a", RunID: "r", Source: domain.MaterializationSourceLocal}
	_, err = repo.RecordMaterialization(ctx, ev)
	require.NoError(t, err)
	_, err = repo.RecordMaterialization(ctx, ev)
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestEventRepo_RecordMaterialization_PeeredRunOnce(t *testing.T) {
	tests := []struct {
		name      string
		first     domain.MaterializationEvent
		second    domain.MaterializationEvent
		wantError bool
	}{
		{
			name:      "same peered run",
			first:     domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1", Source: domain.MaterializationSourcePeered},
			second:    domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1", Source: domain.MaterializationSourcePeered},
			wantError: true,
		},
		{
			name: "same peered run and partition",
			first: domain.MaterializationEvent{AssetKey: "customers", RunID: "scheduled__1",
				PartitionKey: strPtr("2024-01-01"), Source: domain.MaterializationSourcePeered},
			second: domain.MaterializationEvent{AssetKey: "customers", RunID: "scheduled__1",
				PartitionKey: strPtr("2024-01-01"), Source: domain.MaterializationSourcePeered},
			wantError: true,
		},
		{
			name:   "other asset",
			first:  domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1", Source: domain.MaterializationSourcePeered},
			second: domain.MaterializationEvent{AssetKey: "customers_csv", RunID: "manual__1", Source: domain.MaterializationSourcePeered},
		},
		{
			name: "other partition",
			first: domain.MaterializationEvent{AssetKey: "customers", RunID: "scheduled__1",
				PartitionKey: strPtr("2024-01-01"), Source: domain.MaterializationSourcePeered},
			second: domain.MaterializationEvent{AssetKey: "customers", RunID: "scheduled__1",
				PartitionKey: strPtr("2024-01-02"), Source: domain.MaterializationSourcePeered},
		},
		{
			name:   "local retries keep every event",
			first:  domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1", Source: domain.MaterializationSourceLocal},
			second: domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1", Source: domain.MaterializationSourceLocal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := setupEventRepo(t)
			ctx := context.Background()

			_, err := repo.RecordMaterialization(ctx, &tt.first)
			require.NoError(t, err)
			_, err = repo.RecordMaterialization(ctx, &tt.second)
			if tt.wantError {
				var ce *domain.ConflictError
				require.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEventRepo_CheckEvaluations(t *testing.T) {
	repo := setupEventRepo(t)
	ctx := context.Background()

	got, err := repo.LatestCheckEvaluation(ctx, "customers_csv", "validate_exported_csv")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = repo.RecordCheckEvaluation(ctx, &domain.CheckEvaluation{
		AssetKey:  "customers_csv",
		CheckName: "validate_exported_csv",
		RunID:     "run-1",
		Outcome:   domain.CheckOutcomeFail,
	})
	require.NoError(t, err)
	rec, err := repo.RecordCheckEvaluation(ctx, &domain.CheckEvaluation{
		AssetKey:    "customers_csv",
		CheckName:   "validate_exported_csv",
		RunID:       "run-2",
		Outcome:     domain.CheckOutcomePass,
		Severity:    domain.CheckSeverityError,
		Description: "Export CSV exists",
		Metadata:    map[string]any{"rows": 101},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err = repo.LatestCheckEvaluation(ctx, "customers_csv", "validate_exported_csv")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, domain.CheckOutcomePass, got.Outcome)
	assert.Equal(t, "Export CSV exists", got.Description)
	assert.Equal(t, json.Number("101"), got.Metadata["rows"])

	_, err = repo.RecordCheckEvaluation(ctx, &domain.CheckEvaluation{AssetKey: "x"})
	require.Error(t, err)
}
