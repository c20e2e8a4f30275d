// Package stages declares the asset definitions of each step of the
// migration tutorial, from observing the DAG to running standalone.
package stages

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"airlift-demo/internal/asset"
	"airlift-demo/internal/config"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/service/check"
	"airlift-demo/internal/service/ingestion"
	"airlift-demo/internal/service/storage"
	"airlift-demo/internal/service/transform"
)

// Identifiers of the tutorial DAG.
const (
	DagID                = "rebuild_customers_list"
	TaskLoadRawCustomers = "load_raw_customers"
	TaskBuildDBTModels   = "build_dbt_models"
	TaskExportCustomers  = "export_customers"

	CheckValidateExportedCSV = "validate_exported_csv"
	ScheduleName             = "rebuild_customers_list_schedule"
	ScheduleCron             = "0 0 * * *"

	duckDBDatabase = "jaffle_shop"
	rawSchema      = "raw_data"
)

// Asset keys shared by every stage.
var (
	RawCustomersKey = asset.NewKey(rawSchema, "raw_customers")
	CustomersKey    = asset.NewKey("customers")
	CustomersCSVKey = asset.NewKey("customers_csv")
)

var rawCustomersColumns = []string{"id", "first_name", "last_name"}

// Env carries what the stage builders need.
type Env struct {
	Config    *config.Config
	Logger    *slog.Logger
	Ingestion *ingestion.IngestionService
	Runner    transform.Runner
	Publisher storage.Publisher
	Now       func() time.Time

	once     sync.Once
	manifest *transform.Manifest
	mErr     error
}

// NewEnv wires the loader, the transformation runner chosen by the
// configuration, and the publisher.
func NewEnv(cfg *config.Config, publisher storage.Publisher, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if publisher == nil {
		publisher = storage.NopPublisher{}
	}
	var runner transform.Runner
	if cfg.TransformRunner == config.TransformRunnerDBT {
		runner = transform.NewCLIRunner(cfg.DBTExecutable, cfg.DBTProjectDir, logger)
	} else {
		runner = transform.NewDuckDBRunner(cfg.DuckDBPath(), logger)
	}
	return &Env{
		Config:    cfg,
		Logger:    logger,
		Ingestion: ingestion.NewIngestionService(logger),
		Runner:    runner,
		Publisher: publisher,
		Now:       time.Now,
	}
}

// Manifest loads the transformation manifest once.
func (e *Env) Manifest() (*transform.Manifest, error) {
	e.once.Do(func() {
		e.manifest, e.mErr = transform.LoadManifest(e.Config.DBTManifestPath())
	})
	return e.manifest, e.mErr
}

// partitions starts daily partitions at the current day, so only runs from
// today on are partitioned.
func (e *Env) partitions() *asset.DailyPartitions {
	return asset.NewDailyPartitions(e.Now())
}

func (e *Env) rawCustomersSpec(p *asset.DailyPartitions) asset.Spec {
	return asset.Spec{Key: RawCustomersKey, Description: "Raw customers loaded from CSV", Partitions: p}
}

func (e *Env) customersCSVSpec(p *asset.DailyPartitions) asset.Spec {
	return asset.Spec{
		Key:         CustomersCSVKey,
		Deps:        []asset.Key{CustomersKey},
		Description: "Customers exported to CSV",
		Partitions:  p,
	}
}

func (e *Env) dbtSpecs(p *asset.DailyPartitions) ([]asset.Spec, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}
	specs := m.AssetSpecs()
	for i := range specs {
		specs[i].Partitions = p
	}
	return specs, nil
}

// loadDefinition loads raw_customers.csv into raw_data.raw_customers.
func (e *Env) loadDefinition(p *asset.DailyPartitions) *asset.Definition {
	args := ingestion.LoadCSVArgs{
		TableName:    "raw_customers",
		CSVPath:      filepath.Join(e.Config.AirflowDagsDir(), "raw_customers.csv"),
		DuckDBPath:   e.Config.DuckDBPath(),
		DatabaseName: duckDBDatabase,
		Schema:       rawSchema,
		Names:        rawCustomersColumns,
	}
	return asset.MultiAsset("load_"+args.TableName, []asset.Spec{e.rawCustomersSpec(p)},
		func(ctx context.Context, ec *asset.ExecContext) error {
			res, err := e.Ingestion.LoadCSV(ctx, args)
			if err != nil {
				return err
			}
			ec.AddMetadata(RawCustomersKey, map[string]any{"rows": res.Rows, "table": res.Table})
			return nil
		})
}

// transformDefinition builds every model of the transformation project.
func (e *Env) transformDefinition(p *asset.DailyPartitions) (*asset.Definition, error) {
	m, err := e.Manifest()
	if err != nil {
		return nil, err
	}
	return transform.AssetsDefinition("dbt_project_assets", m, e.Runner, p), nil
}

// exportDefinition exports the customers table and publishes the file when
// object storage is configured.
func (e *Env) exportDefinition(p *asset.DailyPartitions) *asset.Definition {
	args := ingestion.ExportCSVArgs{
		TableName:    "customers",
		CSVPath:      e.Config.ExportCSVPath(),
		DuckDBPath:   e.Config.DuckDBPath(),
		DatabaseName: duckDBDatabase,
	}
	return asset.MultiAsset("export_"+args.TableName, []asset.Spec{e.customersCSVSpec(p)},
		func(ctx context.Context, ec *asset.ExecContext) error {
			res, err := e.Ingestion.ExportCSV(ctx, args)
			if err != nil {
				return err
			}
			md := map[string]any{"rows": res.Rows, "path": res.Path}
			if e.Publisher.Enabled() {
				uri, err := e.Publisher.Publish(ctx, res.Path)
				if err != nil {
					return err
				}
				md["uri"] = uri
				if signer, ok := e.Publisher.(storage.URLSigner); ok {
					link, err := signer.PresignGetObject(ctx, uri, storage.DownloadURLExpiry)
					if err != nil {
						return err
					}
					md["download_url"] = link
				}
			}
			ec.AddMetadata(CustomersCSVKey, md)
			return nil
		})
}

// exportCheck validates the exported CSV; it is attached to target.
func (e *Env) exportCheck(target asset.Key) *asset.Check {
	path := e.Config.ExportCSVPath()
	return asset.NewCheck(target, CheckValidateExportedCSV, func(context.Context) domain.CheckResult {
		return check.ValidateExportedCSV(path)
	})
}
