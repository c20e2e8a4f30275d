// Package check holds the asset checks evaluated after materialization.
package check

import (
	"bytes"
	"fmt"
	"os"

	"airlift-demo/internal/domain"
)

// RowsMetadataKey is the metadata key carrying the line count.
const RowsMetadataKey = "rows"

// ValidateExportedCSV classifies the exported file at path:
//   - absent: FAIL, no metadata
//   - fewer than 2 lines (no data row beyond the header): WARN
//   - otherwise: PASS
//
// WARN and PASS report the total line count, header included. Any read
// failure other than absence is a FAIL with the error in the description.
func ValidateExportedCSV(path string) domain.CheckResult {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CheckResult{
				Passed:      false,
				Severity:    domain.CheckSeverityError,
				Description: fmt.Sprintf("Export CSV %s does not exist", path),
			}
		}
		return domain.CheckResult{
			Passed:      false,
			Severity:    domain.CheckSeverityError,
			Description: fmt.Sprintf("Export CSV %s could not be read: %v", path, err),
		}
	}

	rows := CountLines(data)
	if rows < 2 {
		return domain.CheckResult{
			Passed:      false,
			Severity:    domain.CheckSeverityWarn,
			Description: fmt.Sprintf("Export CSV %s is empty", path),
			Metadata:    map[string]any{RowsMetadataKey: rows},
		}
	}

	return domain.CheckResult{
		Passed:      true,
		Description: fmt.Sprintf("Export CSV %s exists", path),
		Metadata:    map[string]any{RowsMetadataKey: rows},
	}
}

// CountLines returns the number of lines in data. A trailing newline ends
// the last line rather than starting an empty one.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte("\n"))
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}
