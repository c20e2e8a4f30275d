package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift-demo/internal/api"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/config"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/service/pipeline"
	"airlift-demo/internal/stages"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		DBTProjectDir:    filepath.Join(root, "dbt"),
		AirflowHome:      filepath.Join(root, "airflow_home"),
		ExampleDir:       filepath.Join(root, "example"),
		MetaDBPath:       filepath.Join(root, "airflow_home", "meta.sqlite"),
		TransformRunner:  config.TransformRunnerDuckDB,
		PeerPollSchedule: "@every 30s",
		Airflow: config.AirflowConfig{
			WebserverURL: "http://localhost:8080",
			InstanceName: "airflow_instance_one",
		},
	}
	manifest, err := os.ReadFile(filepath.Join("..", "service", "transform", "testdata", "manifest.json"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBTManifestPath()), 0o755))
	require.NoError(t, os.WriteFile(cfg.DBTManifestPath(), manifest, 0o600))
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		stage       string
		wantPeered  bool
		wantEntries []string
	}{
		{"peer", stages.StagePeer, true, []string{pipeline.PeerPollEntry}},
		{"migrate", stages.StageMigrate, true, []string{pipeline.PeerPollEntry}},
		{"standalone", stages.StageStandalone, false, []string{stages.ScheduleName}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(context.Background(), Deps{Cfg: testConfig(t)}, tt.stage)
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })

			assert.Equal(t, tt.stage, a.Stage.Name)
			assert.Equal(t, tt.wantPeered, a.Peer != nil)
			assert.Equal(t, tt.wantPeered, a.Proxy != nil)
			assert.Equal(t, tt.wantPeered, a.TaskRunner() != nil)

			require.NoError(t, a.Scheduler.Start(context.Background()))
			t.Cleanup(a.Scheduler.Stop)
			names := make([]string, 0)
			for name := range a.Scheduler.Entries() {
				names = append(names, name)
			}
			assert.ElementsMatch(t, tt.wantEntries, names)
		})
	}
}

func TestNew_UnknownStage(t *testing.T) {
	_, err := New(context.Background(), Deps{Cfg: testConfig(t)}, "nope")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDagLevelProxyThroughAPI(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.AirflowDagsDir(), 0o755))
	csv := "1,Michael,P.\n2,Shawn,M.\n3,Kathleen,P.\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AirflowDagsDir(), "raw_customers.csv"), []byte(csv), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := New(ctx, Deps{Cfg: cfg}, stages.StageMigrateDagLevel)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h := api.NewHandler(a.Stage.Name, a.Stage.Defs, a.Events, a.Materializer, a.TaskRunner(), a.State, nil)
	srv := httptest.NewServer(api.NewRouter(ctx, h, api.RouterConfig{}, nil))
	t.Cleanup(srv.Close)
	runURL := srv.URL + "/api/v1/dags/" + stages.DagID + "/run"

	post := func() *http.Response {
		resp, err := http.Post(runURL, "application/json", nil) //nolint:noctx
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}
	listProxied := func() map[string]*bool {
		resp, err := http.Get(srv.URL + "/api/v1/assets") //nolint:noctx
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck
		var body api.ListAssetsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		out := map[string]*bool{}
		for _, as := range body.Assets {
			out[as.Key] = as.Proxied
		}
		return out
	}

	assert.Equal(t, http.StatusBadRequest, post().StatusCode)
	require.NotNil(t, listProxied()[stages.CustomersCSVKey.String()])
	assert.False(t, *listProxied()[stages.CustomersCSVKey.String()])

	require.NoError(t, bridge.MarkDagProxied(cfg.ProxiedStateDir(), stages.DagID, true))

	resp := post()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run api.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, domain.TriggerTypeProxied, run.TriggerType)
	require.Len(t, run.Units, 3)

	latest, err := a.Events.LatestMaterialization(ctx, stages.CustomersCSVKey.String())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.RunID)
	assert.Equal(t, domain.MaterializationSourceLocal, latest.Source)

	proxied := listProxied()
	for _, key := range []string{stages.RawCustomersKey.String(), stages.CustomersKey.String(), stages.CustomersCSVKey.String()} {
		require.NotNil(t, proxied[key], key)
		assert.True(t, *proxied[key], key)
	}
}

func TestLogMaterializations(t *testing.T) {
	var buf bytes.Buffer
	l := logMaterializations(slog.New(slog.NewTextHandler(&buf, nil)))

	partition := "2024-07-01"
	l.OnMaterialization(context.Background(), domain.MaterializationEvent{
		AssetKey: "customers_csv", RunID: "manual__1", PartitionKey: &partition,
	})
	l.OnMaterialization(context.Background(), domain.MaterializationEvent{AssetKey: "customers", RunID: "manual__1"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "asset=customers_csv")
	assert.Contains(t, string(lines[0]), "partition=2024-07-01")
	assert.NotContains(t, string(lines[1]), "partition=")
}
