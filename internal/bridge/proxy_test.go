package bridge

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/testutil"
)

func TestProxyExecutor_RunTask(t *testing.T) {
	defs, err := BuildDefs(testInstance, nil, tutorialDefs())
	require.NoError(t, err)

	events := &testutil.MockEventRepo{}
	m := asset.NewMaterializer(events, slog.New(slog.DiscardHandler))
	st := ProxiedState{testDag: {Tasks: []TaskProxiedState{
		{ID: "load_raw_customers", Proxied: true},
		{ID: "export_customers", Proxied: false},
	}}}
	exec := NewProxyExecutor(defs, staticState(st), m, nil)
	ctx := context.Background()

	run, err := exec.RunTask(ctx, testDag, "load_raw_customers", "airflow-run-1")
	require.NoError(t, err)
	assert.Equal(t, "airflow-run-1", run.ID)
	assert.Equal(t, domain.TriggerTypeProxied, run.TriggerType)
	assert.Equal(t, []string{"raw_data/raw_customers"}, events.MaterializedKeys())
	assert.Equal(t, domain.MaterializationSourceLocal, events.Materializations[0].Source)

	_, err = exec.RunTask(ctx, testDag, "export_customers", "")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)

	st[testDag].Tasks = append(st[testDag].Tasks, TaskProxiedState{ID: "unmapped", Proxied: true})
	_, err = exec.RunTask(ctx, testDag, "unmapped", "")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestProxyExecutor_RunDag(t *testing.T) {
	mapped := AssetsWithDagMappings(map[string][]*asset.Definition{
		testDag: {asset.MultiAsset("load_raw_customers", []asset.Spec{{Key: asset.NewKey("raw_data", "raw_customers")}}, noop)},
	})
	defs, err := BuildDefs(testInstance, nil, &asset.Definitions{Assets: mapped})
	require.NoError(t, err)

	events := &testutil.MockEventRepo{}
	st := ProxiedState{}
	exec := NewProxyExecutor(defs, staticState(st), asset.NewMaterializer(events, nil), nil)

	_, err = exec.RunDag(context.Background(), testDag, "")
	require.Error(t, err)

	proxied := true
	st[testDag] = &DagProxiedState{Proxied: &proxied}
	run, err := exec.RunDag(context.Background(), testDag, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"raw_data/raw_customers"}, events.MaterializedKeys())
}
