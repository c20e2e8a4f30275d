package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift-demo/internal/domain"
)

func TestLoadProxiedState(t *testing.T) {
	dir := t.TempDir()
	content := "tasks:\n  - id: load_raw_customers\n    proxied: True\n  - id: build_dbt_models\n    proxied: False\n  - id: export_customers\n    proxied: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rebuild_customers_list.yaml"), []byte(content), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	state, err := LoadProxiedState(dir)
	require.NoError(t, err)
	require.Len(t, state, 1)

	assert.True(t, state.TaskProxied("rebuild_customers_list", "load_raw_customers"))
	assert.False(t, state.TaskProxied("rebuild_customers_list", "build_dbt_models"))
	assert.False(t, state.TaskProxied("rebuild_customers_list", "unknown"))
	assert.False(t, state.TaskProxied("other_dag", "load_raw_customers"))
	assert.False(t, state.DagProxied("rebuild_customers_list"))
}

func TestLoadProxiedState_MissingDir(t *testing.T) {
	state, err := LoadProxiedState(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestLoadDagProxiedState_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not_yaml", "tasks: [unclosed"},
		{"missing_id", "tasks:\n  - proxied: true\n"},
		{"duplicate", "tasks:\n  - id: a\n    proxied: true\n  - id: a\n    proxied: false\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "d.yaml"), []byte(tt.content), 0o600))
			_, err := LoadDagProxiedState(dir, "d")
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestMarkTaskProxied_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proxied_state")
	tasks := []string{"load_raw_customers", "build_dbt_models", "export_customers"}

	require.NoError(t, InitDagProxiedState(dir, "rebuild_customers_list", tasks))
	require.NoError(t, MarkTaskProxied(dir, "rebuild_customers_list", "load_raw_customers", true))
	require.NoError(t, MarkTaskProxied(dir, "rebuild_customers_list", "new_task", true))

	st, err := LoadDagProxiedState(dir, "rebuild_customers_list")
	require.NoError(t, err)
	assert.Equal(t, []TaskProxiedState{
		{ID: "build_dbt_models"},
		{ID: "export_customers"},
		{ID: "load_raw_customers", Proxied: true},
		{ID: "new_task", Proxied: true},
	}, st.Tasks)

	// Init leaves an existing file alone.
	require.NoError(t, InitDagProxiedState(dir, "rebuild_customers_list", tasks))
	st, err = LoadDagProxiedState(dir, "rebuild_customers_list")
	require.NoError(t, err)
	assert.True(t, st.TaskProxied("load_raw_customers"))

	require.NoError(t, MarkTaskProxied(dir, "rebuild_customers_list", "load_raw_customers", false))
	st, err = LoadDagProxiedState(dir, "rebuild_customers_list")
	require.NoError(t, err)
	assert.False(t, st.TaskProxied("load_raw_customers"))

	require.Error(t, MarkTaskProxied(dir, "", "x", true))
}

func TestMarkDagProxied(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, MarkDagProxied(dir, "rebuild_customers_list", true))

	state, err := LoadProxiedState(dir)
	require.NoError(t, err)
	assert.True(t, state.DagProxied("rebuild_customers_list"))

	data, err := os.ReadFile(filepath.Join(dir, "rebuild_customers_list.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "proxied: true\n", string(data))
}

func TestWriteDagProxiedState_ReadableByOthers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitDagProxiedState(dir, "rebuild_customers_list", []string{"load_raw_customers"}))

	info, err := os.Stat(filepath.Join(dir, "rebuild_customers_list.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
