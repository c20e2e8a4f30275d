package check

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airlift-demo/internal/domain"
)

func TestValidateExportedCSV(t *testing.T) {
	tests := []struct {
		name        string
		content     *string
		wantOutcome domain.CheckOutcome
		wantRows    any // nil means no metadata
	}{
		{name: "missing_file", content: nil, wantOutcome: domain.CheckOutcomeFail},
		{name: "empty_file", content: ptr(""), wantOutcome: domain.CheckOutcomeWarn, wantRows: 0},
		{name: "header_only", content: ptr("id,first_name,last_name\n"), wantOutcome: domain.CheckOutcomeWarn, wantRows: 1},
		{name: "header_only_no_newline", content: ptr("id,first_name,last_name"), wantOutcome: domain.CheckOutcomeWarn, wantRows: 1},
		{name: "one_data_row", content: ptr("id,name\n1,Michael\n"), wantOutcome: domain.CheckOutcomePass, wantRows: 2},
		{name: "many_rows", content: ptr("id,name\n1,a\n2,b\n3,c"), wantOutcome: domain.CheckOutcomePass, wantRows: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "customers.csv")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}

			res := ValidateExportedCSV(path)

			assert.Equal(t, tt.wantOutcome, res.Outcome())
			assert.Contains(t, res.Description, path)
			if tt.wantRows == nil {
				assert.Nil(t, res.Metadata)
				return
			}
			require.NotNil(t, res.Metadata)
			assert.Equal(t, tt.wantRows, res.Metadata[RowsMetadataKey])
		})
	}
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, CountLines(nil))
	assert.Equal(t, 1, CountLines([]byte("a")))
	assert.Equal(t, 1, CountLines([]byte("a\n")))
	assert.Equal(t, 2, CountLines([]byte("a\nb")))
	assert.Equal(t, 3, CountLines([]byte("a\n\nb\n")))
}

func ptr(s string) *string { return &s }
