// Package ddl builds the DuckDB statements used to move tabular data
// between CSV files and the analytical database.
package ddl

import (
	"fmt"
	"strings"
)

// Model materializations understood by CreateModel.
const (
	MaterializeTable = "table"
	MaterializeView  = "view"
)

// CreateSchemaIfNotExists returns: CREATE SCHEMA IF NOT EXISTS [<db>.]"<schema>".
func CreateSchemaIfNotExists(database, schema string) (string, error) {
	if schema == "" {
		return "", fmt.Errorf("schema is required")
	}
	name, err := QualifiedName(database, schema)
	if err != nil {
		return "", err
	}
	return "CREATE SCHEMA IF NOT EXISTS " + name, nil
}

// CreateTableFromCSV returns a CREATE OR REPLACE TABLE ... AS SELECT over
// read_csv. When names is non-empty the file is read as headerless and the
// names are applied positionally; otherwise the first line is the header.
func CreateTableFromCSV(target, csvPath string, names []string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("target table is required")
	}
	if csvPath == "" {
		return "", fmt.Errorf("csv path is required")
	}

	opts := []string{"header = true"}
	if len(names) > 0 {
		quoted := make([]string, 0, len(names))
		for _, n := range names {
			if err := ValidateIdentifier(n); err != nil {
				return "", fmt.Errorf("invalid column name %q: %w", n, err)
			}
			quoted = append(quoted, QuoteLiteral(n))
		}
		opts = []string{"header = false", "names = [" + strings.Join(quoted, ", ") + "]"}
	}

	return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv(%s, %s)",
		target, QuoteLiteral(csvPath), strings.Join(opts, ", ")), nil
}

// CopyToCSV returns a COPY statement writing every row of source, with a
// header row, to csvPath.
func CopyToCSV(source, csvPath string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("source table is required")
	}
	if csvPath == "" {
		return "", fmt.Errorf("csv path is required")
	}
	return fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT csv, HEADER true)",
		source, QuoteLiteral(csvPath)), nil
}

// CreateModel returns CREATE OR REPLACE TABLE|VIEW <target> AS <query>.
func CreateModel(target, materialized, query string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	query = strings.TrimRight(strings.TrimSpace(query), ";")
	if query == "" {
		return "", fmt.Errorf("model query is required")
	}
	kind := "TABLE"
	switch strings.ToLower(materialized) {
	case "", MaterializeTable:
	case MaterializeView:
		kind = "VIEW"
	default:
		return "", fmt.Errorf("unsupported materialization %q", materialized)
	}
	return fmt.Sprintf("CREATE OR REPLACE %s %s AS %s", kind, target, query), nil
}

// CountRows returns SELECT count(*) FROM <target>.
func CountRows(target string) string {
	return "SELECT count(*) FROM " + target
}
