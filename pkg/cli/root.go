// Package cli implements the airlift command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"airlift-demo/internal/config"
	"airlift-demo/internal/stages"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = PrintJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// runtime is resolved once per invocation, before any subcommand runs.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	output string
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		output  string
		rt      = &runtime{stdout: os.Stdout}
	)

	rootCmd := &cobra.Command{
		Use:           "airlift",
		Short:         "Migrate a DAG to asset-based orchestration step by step",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			rt.output = output
			rt.stdout = cmd.OutOrStdout()

			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = newLogger(cmd.ErrOrStderr(), cfg)
			for _, w := range cfg.Warnings {
				rt.logger.Warn(w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newServeCmd(rt))
	rootCmd.AddCommand(newMaterializeCmd(rt))
	rootCmd.AddCommand(newLoadCSVCmd(rt))
	rootCmd.AddCommand(newExportCSVCmd(rt))
	rootCmd.AddCommand(newCheckCmd(rt))
	rootCmd.AddCommand(newPeerCmd(rt))
	rootCmd.AddCommand(newDagCmd(rt))
	rootCmd.AddCommand(newProxiedCmd(rt))
	rootCmd.AddCommand(newStagesCmd(rt))
	rootCmd.AddCommand(newVersionCmd(rt))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// newLogger picks the handler named by the configuration.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// addStageFlag registers --stage on fs.
func addStageFlag(fs *pflag.FlagSet, stage *string) {
	fs.StringVar(stage, "stage", stages.StagePeer, fmt.Sprintf("Migration stage %v", stages.Names()))
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		// Completion needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the CLI version",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { rt.stdout = cmd.OutOrStdout(); return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output, _ := cmd.Root().PersistentFlags().GetString("output"); output == "json" {
				return PrintJSON(rt.stdout, map[string]string{"version": version, "commit": commit})
			}
			_, err := fmt.Fprintf(rt.stdout, "airlift version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
