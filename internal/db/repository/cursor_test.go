package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "airlift-demo/internal/db"
	"airlift-demo/internal/domain"
)

func TestCursorRepo(t *testing.T) {
	s := internaldb.OpenTestStore(t)
	repo := NewCursorRepo(s.Write)
	ctx := context.Background()

	_, err := repo.GetCursor(ctx, "airflow_instance_one__peer")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NoError(t, repo.SetCursor(ctx, "airflow_instance_one__peer", "2024-01-01T00:00:00Z"))
	require.NoError(t, repo.SetCursor(ctx, "airflow_instance_one__peer", "2024-01-02T00:00:00Z"))

	c, err := repo.GetCursor(ctx, "airflow_instance_one__peer")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00Z", c.Value)
	assert.False(t, c.UpdatedAt.IsZero())

	require.Error(t, repo.SetCursor(ctx, "", "x"))
}
