package transform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"airlift-demo/internal/asset"
	"airlift-demo/internal/ddl"
	"airlift-demo/internal/domain"
)

// Result reports what a build produced. Rows is keyed by model name and
// only holds table materializations whose row count is known.
type Result struct {
	Models []string
	Rows   map[string]int64
}

// Runner builds every model of a manifest.
type Runner interface {
	Run(ctx context.Context, m *Manifest) (*Result, error)
}

// DuckDBRunner materializes models directly in a DuckDB file, tier by tier.
// Models run sequentially; the first failure stops the build.
type DuckDBRunner struct {
	DuckDBPath string
	// Database is the catalog models are created in; defaults to the
	// DuckDB file stem.
	Database string
	logger   *slog.Logger
}

// NewDuckDBRunner creates a new DuckDBRunner.
func NewDuckDBRunner(duckDBPath string, logger *slog.Logger) *DuckDBRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBRunner{DuckDBPath: duckDBPath, logger: logger.With("runner", "duckdb")}
}

// Run implements Runner.
func (r *DuckDBRunner) Run(ctx context.Context, m *Manifest) (*Result, error) {
	tiers, err := ResolveTiers(m.Models())
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.DuckDBPath); err != nil {
		return nil, domain.ErrValidation("DuckDB database not found at %s", r.DuckDBPath)
	}

	db, err := sql.Open("duckdb", r.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", r.DuckDBPath, err)
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	database := r.database()
	res := &Result{Rows: make(map[string]int64)}
	schemas := make(map[string]bool)

	for _, tier := range tiers {
		for _, node := range tier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			logger := r.logger.With("model", node.Name, "materialized", node.Config.Materialized)

			query, err := compiledSQL(m, node, database)
			if err != nil {
				return nil, err
			}
			target, err := ddl.QualifiedName(database, node.Schema, node.Relation())
			if err != nil {
				return nil, domain.ErrValidation("model %s: %v", node.Name, err)
			}
			stmt, err := ddl.CreateModel(target, node.Config.Materialized, query)
			if err != nil {
				return nil, domain.ErrValidation("model %s: %v", node.Name, err)
			}

			if node.Schema != "" && !schemas[node.Schema] {
				createSchema, err := ddl.CreateSchemaIfNotExists(database, node.Schema)
				if err != nil {
					return nil, domain.ErrValidation("model %s: %v", node.Name, err)
				}
				if _, err := db.ExecContext(ctx, createSchema); err != nil {
					return nil, fmt.Errorf("create schema %s: %w", node.Schema, err)
				}
				schemas[node.Schema] = true
			}

			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("build model %s: %w", node.Name, err)
			}
			res.Models = append(res.Models, node.Name)

			if strings.EqualFold(node.Config.Materialized, ddl.MaterializeView) {
				logger.Info("view materialized")
				continue
			}
			var n int64
			if err := db.QueryRowContext(ctx, ddl.CountRows(target)).Scan(&n); err != nil {
				return nil, fmt.Errorf("count rows in %s: %w", target, err)
			}
			res.Rows[node.Name] = n
			logger.Info("table materialized", "rows", n)
		}
	}
	return res, nil
}

func (r *DuckDBRunner) database() string {
	if r.Database != "" {
		return r.Database
	}
	base := filepath.Base(r.DuckDBPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var (
	refRe    = regexp.MustCompile(`\{\{\s*ref\(\s*['"]([^'"]+)['"]\s*\)\s*\}\}`)
	sourceRe = regexp.MustCompile(`\{\{\s*source\(\s*['"]([^'"]+)['"]\s*,\s*['"]([^'"]+)['"]\s*\)\s*\}\}`)
	configRe = regexp.MustCompile(`\{\{\s*config\([^}]*\)\s*\}\}`)
)

// compiledSQL returns the model's compiled code, or renders its raw code
// when the manifest was produced without compilation. Only ref, source and
// config calls are rendered.
func compiledSQL(m *Manifest, node Node, database string) (string, error) {
	if strings.TrimSpace(node.CompiledCode) != "" {
		return node.CompiledCode, nil
	}

	var renderErr error
	out := configRe.ReplaceAllString(node.RawCode, "")
	out = refRe.ReplaceAllStringFunc(out, func(match string) string {
		name := refRe.FindStringSubmatch(match)[1]
		for _, n := range m.Nodes {
			if n.ResourceType == "model" && n.Name == name {
				rel, err := ddl.QualifiedName(database, n.Schema, n.Relation())
				if err != nil {
					renderErr = err
				}
				return rel
			}
		}
		renderErr = domain.ErrNotFound("model %s references unknown model %q", node.Name, name)
		return match
	})
	out = sourceRe.ReplaceAllStringFunc(out, func(match string) string {
		parts := sourceRe.FindStringSubmatch(match)
		for _, s := range m.Sources {
			if s.SourceName == parts[1] && s.Name == parts[2] {
				rel, err := ddl.QualifiedName(database, s.Schema, s.Relation())
				if err != nil {
					renderErr = err
				}
				return rel
			}
		}
		renderErr = domain.ErrNotFound("model %s references unknown source %s.%s", node.Name, parts[1], parts[2])
		return match
	})
	if renderErr != nil {
		return "", renderErr
	}
	if strings.Contains(out, "{{") || strings.Contains(out, "{%") {
		return "", domain.ErrValidation("model %s contains templating that needs compilation", node.Name)
	}
	return out, nil
}

// AssetsDefinition wraps the whole project as one multi-asset definition.
// The build is an opaque unit: it either produces every model or fails.
// When partitions is non-nil every model spec is partitioned by it.
func AssetsDefinition(name string, m *Manifest, runner Runner, partitions *asset.DailyPartitions) *asset.Definition {
	specs := m.AssetSpecs()
	for i := range specs {
		specs[i].Partitions = partitions
	}
	return asset.MultiAsset(name, specs, func(ctx context.Context, ec *asset.ExecContext) error {
		res, err := runner.Run(ctx, m)
		if err != nil {
			return err
		}
		for model, rows := range res.Rows {
			ec.AddMetadata(asset.NewKey(model), map[string]any{"rows": rows})
		}
		ec.Logger.Info("transformation built", "models", len(res.Models))
		return nil
	})
}
