package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchemaIfNotExists(t *testing.T) {
	stmt, err := CreateSchemaIfNotExists("jaffle_shop", "raw_data")
	require.NoError(t, err)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "jaffle_shop"."raw_data"`, stmt)

	_, err = CreateSchemaIfNotExists("jaffle_shop", "")
	require.Error(t, err)
}

func TestCreateTableFromCSV(t *testing.T) {
	t.Run("header_inferred", func(t *testing.T) {
		stmt, err := CreateTableFromCSV(`"t"`, "/data/raw.csv", nil)
		require.NoError(t, err)
		assert.Equal(t, `CREATE OR REPLACE TABLE "t" AS SELECT * FROM read_csv('/data/raw.csv', header = true)`, stmt)
	})

	t.Run("explicit_names", func(t *testing.T) {
		stmt, err := CreateTableFromCSV(`"t"`, "/data/raw.csv", []string{"id", "first_name", "last_name"})
		require.NoError(t, err)
		assert.Equal(t,
			`CREATE OR REPLACE TABLE "t" AS SELECT * FROM read_csv('/data/raw.csv', header = false, names = ['id', 'first_name', 'last_name'])`,
			stmt)
	})

	t.Run("invalid_name", func(t *testing.T) {
		_, err := CreateTableFromCSV(`"t"`, "/data/raw.csv", []string{"id", "first name"})
		require.Error(t, err)
	})

	t.Run("missing_path", func(t *testing.T) {
		_, err := CreateTableFromCSV(`"t"`, "", nil)
		require.Error(t, err)
	})
}

func TestCopyToCSV(t *testing.T) {
	stmt, err := CopyToCSV(`"db"."customers"`, "/out/customers.csv")
	require.NoError(t, err)
	assert.Equal(t, `COPY (SELECT * FROM "db"."customers") TO '/out/customers.csv' (FORMAT csv, HEADER true)`, stmt)

	_, err = CopyToCSV("", "/out/customers.csv")
	require.Error(t, err)
}

func TestCreateModel(t *testing.T) {
	tests := []struct {
		name         string
		materialized string
		query        string
		want         string
		wantErr      bool
	}{
		{name: "default_table", query: "select 1;", want: `CREATE OR REPLACE TABLE "m" AS select 1`},
		{name: "view", materialized: "view", query: "select 1", want: `CREATE OR REPLACE VIEW "m" AS select 1`},
		{name: "unsupported", materialized: "incremental", query: "select 1", wantErr: true},
		{name: "empty_query", query: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateModel(`"m"`, tt.materialized, tt.query)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
