package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		input   string
		want    []string
		wantErr bool
	}{
		{input: "customers_csv", want: []string{"customers_csv"}},
		{input: "raw_data/raw_customers", want: []string{"raw_data", "raw_customers"}},
		{input: "/airflow_instance/dag/rebuild_customers_list/", want: []string{"airflow_instance", "dag", "rebuild_customers_list"}},
		{input: "", wantErr: true},
		{input: "a//b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			k, err := ParseKey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.Parts())
		})
	}
}

func TestKey_Comparable(t *testing.T) {
	a := NewKey("raw_data", "raw_customers")
	b := MustParseKey("raw_data/raw_customers")
	assert.Equal(t, a, b)
	assert.Equal(t, "raw_data/raw_customers", a.String())

	m := map[Key]int{a: 1}
	assert.Equal(t, 1, m[b])
	assert.True(t, Key{}.IsZero())
}

func TestKeys(t *testing.T) {
	keys, err := Keys("a", "b/c")
	require.NoError(t, err)
	assert.Equal(t, []Key{NewKey("a"), NewKey("b", "c")}, keys)

	_, err = Keys("a", "")
	require.Error(t, err)
}
