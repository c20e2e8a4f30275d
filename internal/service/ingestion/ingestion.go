// Package ingestion moves tabular data between CSV files and the local
// DuckDB database file.
package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"airlift-demo/internal/ddl"
	"airlift-demo/internal/domain"
)

// LoadCSVArgs describes a CSV-to-table load.
type LoadCSVArgs struct {
	TableName    string
	CSVPath      string
	DuckDBPath   string
	DatabaseName string   // catalog name; defaults to the DuckDB file stem
	Schema       string   // optional; created when absent
	Names        []string // optional; when set the file is read as headerless
}

// ExportCSVArgs describes a table-to-CSV export.
type ExportCSVArgs struct {
	TableName    string
	CSVPath      string
	DuckDBPath   string
	DatabaseName string // catalog name; defaults to the DuckDB file stem
	Schema       string // optional
}

// LoadResult reports the table written by LoadCSV.
type LoadResult struct {
	Table string
	Rows  int64
}

// ExportResult reports the file written by ExportCSV.
type ExportResult struct {
	Path string
	Rows int64
}

// IngestionService runs the load and export operations. Each call opens the
// DuckDB file, runs to completion and closes it; callers serialize access.
//
//nolint:revive // Name chosen for clarity across package boundaries
type IngestionService struct {
	logger *slog.Logger
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IngestionService{logger: logger}
}

// LoadCSV replaces args.TableName with the rows of args.CSVPath, keeping the
// CSV's column order. Missing or malformed input fails the call; nothing is
// retried.
func (s *IngestionService) LoadCSV(ctx context.Context, args LoadCSVArgs) (*LoadResult, error) {
	if err := ddl.ValidateIdentifier(args.TableName); err != nil {
		return nil, domain.ErrValidation("invalid table name %q: %v", args.TableName, err)
	}
	if _, err := os.Stat(args.CSVPath); err != nil {
		return nil, fmt.Errorf("source csv %s: %w", args.CSVPath, err)
	}

	dbName := databaseName(args.DatabaseName, args.DuckDBPath)
	target, err := ddl.QualifiedName(dbName, args.Schema, args.TableName)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}
	createTable, err := ddl.CreateTableFromCSV(target, args.CSVPath, args.Names)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}

	db, err := openDuckDB(args.DuckDBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	if args.Schema != "" {
		createSchema, err := ddl.CreateSchemaIfNotExists(dbName, args.Schema)
		if err != nil {
			return nil, domain.ErrValidation("%v", err)
		}
		if _, err := db.ExecContext(ctx, createSchema); err != nil {
			return nil, fmt.Errorf("create schema %s: %w", args.Schema, err)
		}
	}

	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("load %s into %s: %w", args.CSVPath, target, err)
	}

	rows, err := countRows(ctx, db, target)
	if err != nil {
		return nil, err
	}

	s.logger.Info("loaded csv", "csv", args.CSVPath, "table", target, "rows", rows)
	return &LoadResult{Table: target, Rows: rows}, nil
}

// ExportCSV writes every row of the table, with a header row, to
// args.CSVPath, creating missing parent directories. Row order follows the
// table's natural order and is otherwise undefined.
func (s *IngestionService) ExportCSV(ctx context.Context, args ExportCSVArgs) (*ExportResult, error) {
	if _, err := os.Stat(args.DuckDBPath); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrValidation("DuckDB database not found at %s", args.DuckDBPath)
		}
		return nil, fmt.Errorf("stat %s: %w", args.DuckDBPath, err)
	}

	dbName := databaseName(args.DatabaseName, args.DuckDBPath)
	source, err := ddl.QualifiedName(dbName, args.Schema, args.TableName)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}
	copyStmt, err := ddl.CopyToCSV(source, args.CSVPath)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(args.CSVPath), 0o755); err != nil { //nolint:gosec // export dir is user-visible
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	db, err := openDuckDB(args.DuckDBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close() //nolint:errcheck

	rows, err := countRows(ctx, db, source)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, copyStmt); err != nil {
		return nil, fmt.Errorf("export %s to %s: %w", source, args.CSVPath, err)
	}

	s.logger.Info("exported table", "table", source, "csv", args.CSVPath, "rows", rows)
	return &ExportResult{Path: args.CSVPath, Rows: rows}, nil
}

// databaseName returns name, or the DuckDB file stem when name is empty.
// DuckDB attaches a database file under its stem.
func databaseName(name, path string) string {
	if name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func openDuckDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, domain.ErrValidation("duckdb path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // database dir is user-visible
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	// A single connection keeps the file lock scoped to this call.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return db, nil
}

func countRows(ctx context.Context, db *sql.DB, target string) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, ddl.CountRows(target)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", target, err)
	}
	return n, nil
}
