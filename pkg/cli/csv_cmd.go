package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"airlift-demo/internal/domain"
	"airlift-demo/internal/service/check"
	"airlift-demo/internal/service/ingestion"
)

func newLoadCSVCmd(rt *runtime) *cobra.Command {
	var args ingestion.LoadCSVArgs
	cmd := &cobra.Command{
		Use:   "load-csv",
		Short: "Load a CSV file into a DuckDB table, replacing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if args.DuckDBPath == "" {
				args.DuckDBPath = rt.cfg.DuckDBPath()
			}
			res, err := ingestion.NewIngestionService(rt.logger).LoadCSV(cmd.Context(), args)
			if err != nil {
				return err
			}
			return rt.emit(res, []string{"table", "rows"}, func() [][]string {
				return [][]string{{res.Table, strconv.FormatInt(res.Rows, 10)}}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&args.CSVPath, "csv", "", "CSV file to load")
	f.StringVar(&args.TableName, "table", "", "Target table name")
	f.StringVar(&args.DuckDBPath, "duckdb", "", "DuckDB file (default $AIRFLOW_HOME/jaffle_shop.duckdb)")
	f.StringVar(&args.DatabaseName, "database", "", "Database (catalog) name; defaults to the file stem")
	f.StringVar(&args.Schema, "schema", "", "Target schema (default main)")
	f.StringSliceVar(&args.Names, "names", nil, "Column names for a headerless CSV")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newExportCSVCmd(rt *runtime) *cobra.Command {
	var args ingestion.ExportCSVArgs
	cmd := &cobra.Command{
		Use:   "export-csv",
		Short: "Export a DuckDB table to a CSV file with a header row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if args.DuckDBPath == "" {
				args.DuckDBPath = rt.cfg.DuckDBPath()
			}
			if args.CSVPath == "" {
				args.CSVPath = rt.cfg.ExportCSVPath()
			}
			res, err := ingestion.NewIngestionService(rt.logger).ExportCSV(cmd.Context(), args)
			if err != nil {
				return err
			}
			return rt.emit(res, []string{"path", "rows"}, func() [][]string {
				return [][]string{{res.Path, strconv.FormatInt(res.Rows, 10)}}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&args.TableName, "table", "", "Source table name")
	f.StringVar(&args.CSVPath, "csv", "", "Output CSV (default $TUTORIAL_EXAMPLE_DIR/customers.csv)")
	f.StringVar(&args.DuckDBPath, "duckdb", "", "DuckDB file (default $AIRFLOW_HOME/jaffle_shop.duckdb)")
	f.StringVar(&args.DatabaseName, "database", "", "Database (catalog) name; defaults to the file stem")
	f.StringVar(&args.Schema, "schema", "", "Source schema (default main)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newCheckCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "check [csv-path]",
		Short: "Validate an exported CSV file",
		Long:  "Classifies the file as PASS, WARN (header only) or FAIL (missing). FAIL exits non-zero.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := rt.cfg.ExportCSVPath()
			if len(args) == 1 {
				path = args[0]
			}
			res := check.ValidateExportedCSV(path)
			out := map[string]any{
				"outcome":     res.Outcome(),
				"description": res.Description,
				"metadata":    res.Metadata,
			}
			rows := ""
			if v, ok := res.Metadata[check.RowsMetadataKey]; ok {
				rows = fmt.Sprint(v)
			}
			if err := rt.emit(out, []string{"outcome", "rows", "description"}, func() [][]string {
				return [][]string{{string(res.Outcome()), rows, res.Description}}
			}); err != nil {
				return err
			}
			if res.Outcome() == domain.CheckOutcomeFail {
				return domain.ErrValidation("check failed: %s", res.Description)
			}
			return nil
		},
	}
}
