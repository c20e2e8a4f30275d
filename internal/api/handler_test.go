package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/middleware"
	"airlift-demo/internal/testutil"
)

var (
	rawKey       = asset.NewKey("raw_data", "raw_customers")
	customersKey = asset.NewKey("customers")
	exportKey    = asset.NewKey("customers_csv")
)

func testDefs(fail bool) *asset.Definitions {
	body := func(context.Context, *asset.ExecContext) error { return nil }
	exportBody := body
	if fail {
		exportBody = func(context.Context, *asset.ExecContext) error { return errors.New("disk full") }
	}
	return &asset.Definitions{
		Assets: []*asset.Definition{
			asset.MultiAsset("load_raw_customers", []asset.Spec{{Key: rawKey}}, body),
			asset.MultiAsset("dbt_project_assets", []asset.Spec{{Key: customersKey, Deps: []asset.Key{rawKey}}}, body),
			asset.MultiAsset("export_customers", []asset.Spec{{Key: exportKey, Deps: []asset.Key{customersKey}}}, exportBody),
		},
		Checks: []*asset.Check{
			asset.NewCheck(exportKey, "validate_exported_csv", func(context.Context) domain.CheckResult {
				return domain.CheckResult{Passed: true, Description: "ok", Metadata: map[string]any{"rows": 4}}
			}),
		},
	}
}

type fakeTasks struct {
	dagID, taskID, runID string
	err                  error
}

func (f *fakeTasks) RunDag(_ context.Context, dagID, runID string) (*domain.Run, error) {
	f.dagID, f.runID = dagID, runID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Run{ID: "r2", Status: domain.RunStatusSuccess, TriggerType: domain.TriggerTypeProxied}, nil
}

func (f *fakeTasks) RunTask(_ context.Context, dagID, taskID, runID string) (*domain.Run, error) {
	f.dagID, f.taskID, f.runID = dagID, taskID, runID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Run{ID: "r1", Status: domain.RunStatusSuccess, TriggerType: domain.TriggerTypeProxied}, nil
}

func setupServer(t *testing.T, defs *asset.Definitions, tasks TaskRunner, state ...bridge.StateLoader) (*httptest.Server, *testutil.MockEventRepo) {
	t.Helper()
	events := &testutil.MockEventRepo{}
	var loader bridge.StateLoader
	if len(state) > 0 {
		loader = state[0]
	}
	h := NewHandler("migrate_with_check", defs, events, asset.NewMaterializer(events, nil), tasks, loader, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewRouter(ctx, h, RouterConfig{CORSAllowedOrigins: []string{"*"}}, nil))
	t.Cleanup(srv.Close)
	return srv, events
}

func doJSON(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil)

	var body map[string]string
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestMaterializeThenQuery(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil)

	var run Run
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/materialize", `{"selection": []}`, &run)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.RunStatusSuccess, run.Status)
	assert.Equal(t, domain.TriggerTypeManual, run.TriggerType)
	require.Len(t, run.Units, 3)
	require.Len(t, run.Units[2].Checks, 1)
	assert.Equal(t, "PASS", run.Units[2].Checks[0].Outcome)

	var assets ListAssetsResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/assets", "", &assets)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, assets.Assets, 3)
	for _, a := range assets.Assets {
		assert.NotNil(t, a.LatestMaterialization, a.Key)
		assert.True(t, a.Executable)
	}

	var mats ListMaterializationsResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/assets/raw_data/raw_customers/materializations", "", &mats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "raw_data/raw_customers", mats.AssetKey)
	require.Len(t, mats.Materializations, 1)
	assert.Equal(t, run.ID, mats.Materializations[0].RunID)

	var check CheckEvaluation
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/checks/customers_csv/validate_exported_csv", "", &check)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PASS", check.Outcome)
	assert.Empty(t, check.Severity)
	assert.InDelta(t, float64(4), check.Metadata["rows"], 0.001)
}

func TestMaterialize_FailedUnitReportsRun(t *testing.T) {
	srv, _ := setupServer(t, testDefs(true), nil)

	var run Run
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/materialize", "", &run)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.Len(t, run.Units, 3)
	require.NotNil(t, run.Units[2].Error)
	assert.Contains(t, *run.Units[2].Error, "disk full")
}

func TestErrors(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown asset", http.MethodGet, "/api/v1/assets/nope/materializations", "", http.StatusNotFound},
		{"unknown sub resource", http.MethodGet, "/api/v1/assets/customers/lineage", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/v1/assets/customers/materializations?limit=0", "", http.StatusBadRequest},
		{"no evaluation yet", http.MethodGet, "/api/v1/checks/customers_csv/validate_exported_csv", "", http.StatusNotFound},
		{"check path without name", http.MethodGet, "/api/v1/checks/customers_csv", "", http.StatusBadRequest},
		{"unknown selection", http.MethodPost, "/api/v1/materialize", `{"selection": ["ghost"]}`, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/v1/materialize", `{"selection": `, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/materialize", `{"assets": []}`, http.StatusBadRequest},
		{"no proxied execution", http.MethodPost, "/api/v1/dags/d/tasks/t/run", "", http.StatusNotFound},
		{"no proxied dag execution", http.MethodPost, "/api/v1/dags/d/run", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body Error
			resp := doJSON(t, tt.method, srv.URL+tt.path, tt.body, &body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.want, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestRunTask(t *testing.T) {
	tasks := &fakeTasks{}
	srv, _ := setupServer(t, testDefs(false), tasks)

	var run Run
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/dags/rebuild_customers_list/tasks/export_customers/run",
		`{"run_id": "scheduled__2024-07-01"}`, &run)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "r1", run.ID)
	assert.Equal(t, "rebuild_customers_list", tasks.dagID)
	assert.Equal(t, "export_customers", tasks.taskID)
	assert.Equal(t, "scheduled__2024-07-01", tasks.runID)
}

func TestRunTask_NotProxied(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), &fakeTasks{err: domain.ErrValidation("task is not proxied")})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/dags/d/tasks/t/run", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunDag(t *testing.T) {
	tasks := &fakeTasks{}
	srv, _ := setupServer(t, testDefs(false), tasks)

	var run Run
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/dags/rebuild_customers_list/run",
		`{"run_id": "manual__2024-07-01"}`, &run)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "r2", run.ID)
	assert.Equal(t, domain.TriggerTypeProxied, run.TriggerType)
	assert.Equal(t, "rebuild_customers_list", tasks.dagID)
	assert.Equal(t, "manual__2024-07-01", tasks.runID)
}

func TestRunDag_NotProxied(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), &fakeTasks{err: domain.ErrValidation("dag is not proxied")})

	var body Error
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/dags/rebuild_customers_list/run", "", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Message, "not proxied")
}

func TestListAssets_ProxiedState(t *testing.T) {
	const dagID = "rebuild_customers_list"
	tasks := []string{"load_raw_customers", "build_dbt_models", "export_customers"}
	base := testDefs(false)
	mapped := map[string][]*asset.Definition{}
	for i, task := range tasks {
		mapped[task] = []*asset.Definition{base.Assets[i]}
	}
	defs, err := bridge.BuildDefs("airflow_instance_one", nil, &asset.Definitions{
		Assets: bridge.AssetsWithTaskMappings(dagID, mapped),
		Checks: base.Checks,
	})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, bridge.InitDagProxiedState(dir, dagID, tasks))
	srv, _ := setupServer(t, defs, nil, func() (bridge.ProxiedState, error) { return bridge.LoadProxiedState(dir) })

	proxiedByKey := func() map[string]*bool {
		var body ListAssetsResponse
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/assets", "", &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := map[string]*bool{}
		for _, a := range body.Assets {
			out[a.Key] = a.Proxied
		}
		return out
	}
	dagKey := bridge.DagAssetKey("airflow_instance_one", dagID).String()

	tests := []struct {
		name        string
		markProxied []string
		want        map[string]bool
	}{
		{"nothing proxied", nil, map[string]bool{
			"raw_data/raw_customers": false, "customers": false, "customers_csv": false,
		}},
		{"load proxied", []string{"load_raw_customers"}, map[string]bool{
			"raw_data/raw_customers": true, "customers": false, "customers_csv": false,
		}},
		{"all proxied", tasks, map[string]bool{
			"raw_data/raw_customers": true, "customers": true, "customers_csv": true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, task := range tt.markProxied {
				require.NoError(t, bridge.MarkTaskProxied(dir, dagID, task, true))
			}
			got := proxiedByKey()
			for key, want := range tt.want {
				require.NotNil(t, got[key], key)
				assert.Equal(t, want, *got[key], key)
			}
			assert.Nil(t, got[dagKey])
		})
	}
}

func TestListAssets_ProxiedStateError(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil, func() (bridge.ProxiedState, error) {
		return nil, domain.ErrValidation("parse proxied state of rebuild_customers_list")
	})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/assets", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAssets_NoProxiedStateOmitsFlag(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil)

	var body ListAssetsResponse
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/assets", "", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, a := range body.Assets {
		assert.Nil(t, a.Proxied, a.Key)
	}
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{domain.ErrConflict("x"), http.StatusConflict},
		{domain.ErrConfig("x"), http.StatusInternalServerError},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err), tt.err)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupServer(t, testDefs(false), nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/materialize", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
