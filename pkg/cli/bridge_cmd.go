package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"airlift-demo/internal/airflow"
	"airlift-demo/internal/app"
	"airlift-demo/internal/bridge"
	"airlift-demo/internal/domain"
	"airlift-demo/internal/stages"
)

func newPeerCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Observe the task engine",
	}

	var stage string
	poll := &cobra.Command{
		Use:   "poll",
		Short: "Poll finished DAG runs once and record their materializations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), app.Deps{Cfg: rt.cfg, Logger: rt.logger}, stage)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck
			if a.Peer == nil {
				return domain.ErrValidation("stage %s does not peer with the task engine", stage)
			}

			res, err := a.Peer.Poll(cmd.Context())
			if err != nil {
				return err
			}
			return rt.emit(res, []string{"asset", "run", "partition", "source"}, func() [][]string {
				rows := make([][]string, 0, len(res.Events))
				for _, ev := range res.Events {
					rows = append(rows, []string{ev.AssetKey, ev.RunID, valueOr(ev.PartitionKey, "-"), ev.Source})
				}
				return rows
			})
		},
	}
	addStageFlag(poll.Flags(), &stage)
	cmd.AddCommand(poll)
	return cmd
}

func newDagCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Drive DAGs on the task engine",
	}

	var (
		wait    bool
		timeout string
	)
	trigger := &cobra.Command{
		Use:   "trigger [dag-id]",
		Short: "Trigger a DAG run, optionally waiting for it to finish",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dagID := stages.DagID
			if len(args) == 1 {
				dagID = args[0]
			}
			client := airflow.NewClient(rt.cfg.Airflow, rt.logger)
			// New DAGs start paused and would queue runs forever.
			if err := client.SetDagPaused(cmd.Context(), dagID, false); err != nil {
				return err
			}
			if timeout != "" {
				d, err := parseDuration(timeout)
				if err != nil {
					return err
				}
				client.WaitTimeout = d
			}

			var (
				run *airflow.DagRun
				err error
			)
			if wait {
				run, err = client.StartRunAndWaitForCompletion(cmd.Context(), dagID)
			} else {
				run, err = client.TriggerDagRun(cmd.Context(), dagID, nil)
			}
			if run != nil {
				if perr := printDagRun(rt, run); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	trigger.Flags().BoolVar(&wait, "wait", false, "Wait until the run finishes; fail unless it succeeds")
	trigger.Flags().StringVar(&timeout, "timeout", "", "Maximum wait, e.g. 30s (default 30s)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the DAGs of the task engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dags, err := airflow.NewClient(rt.cfg.Airflow, rt.logger).ListDags(cmd.Context())
			if err != nil {
				return err
			}
			return rt.emit(dags, []string{"dag", "paused", "file"}, func() [][]string {
				rows := make([][]string, len(dags))
				for i, d := range dags {
					rows[i] = []string{d.DagID, strconv.FormatBool(d.IsPaused), d.FileLoc}
				}
				return rows
			})
		},
	}

	cmd.AddCommand(trigger, list)
	return cmd
}

func printDagRun(rt *runtime, run *airflow.DagRun) error {
	return rt.emit(run, []string{"dag", "run", "state"}, func() [][]string {
		return [][]string{{run.DagID, run.DagRunID, run.State}}
	})
}

func newProxiedCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxied",
		Short: "Manage which tasks run as local assets",
	}

	var tasks []string
	initCmd := &cobra.Command{
		Use:   "init [dag-id]",
		Short: "Write a proxied state file with every task unproxied",
		Long: "Writes proxied_state/<dag-id>.yaml listing the DAG's tasks as not proxied. " +
			"Without --tasks the task list is read from the task engine. An existing file is kept.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dagID := dagArg(args, 0)
			if len(tasks) == 0 {
				listed, err := airflow.NewClient(rt.cfg.Airflow, rt.logger).ListTasks(cmd.Context(), dagID)
				if err != nil {
					return fmt.Errorf("%w (pass --tasks to skip the task engine)", err)
				}
				for _, t := range listed {
					tasks = append(tasks, t.TaskID)
				}
			}
			if err := bridge.InitDagProxiedState(rt.cfg.ProxiedStateDir(), dagID, tasks); err != nil {
				return err
			}
			return printProxiedState(rt, dagID)
		},
	}
	initCmd.Flags().StringSliceVar(&tasks, "tasks", nil, "Task ids (default: the DAG's tasks on the task engine)")

	var proxied bool
	mark := &cobra.Command{
		Use:   "mark <dag-id> [task-id]",
		Short: "Mark a task, or a whole DAG, as proxied",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := rt.cfg.ProxiedStateDir()
			dagID := args[0]
			var err error
			if len(args) == 2 {
				err = bridge.MarkTaskProxied(dir, dagID, args[1], proxied)
			} else {
				err = bridge.MarkDagProxied(dir, dagID, proxied)
			}
			if err != nil {
				return err
			}
			return printProxiedState(rt, dagID)
		},
	}
	mark.Flags().BoolVar(&proxied, "proxied", true, "Proxied state to set")

	show := &cobra.Command{
		Use:   "show [dag-id]",
		Short: "Print the proxied state of a DAG",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return printProxiedState(rt, dagArg(args, 0))
		},
	}

	cmd.AddCommand(initCmd, mark, show)
	return cmd
}

func dagArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return stages.DagID
}

func printProxiedState(rt *runtime, dagID string) error {
	st, err := bridge.LoadDagProxiedState(rt.cfg.ProxiedStateDir(), dagID)
	if err != nil {
		return err
	}
	return rt.emit(st, []string{"dag", "task", "proxied"}, func() [][]string {
		var rows [][]string
		if st.Proxied != nil {
			rows = append(rows, []string{dagID, "*", strconv.FormatBool(*st.Proxied)})
		}
		for _, t := range st.Tasks {
			rows = append(rows, []string{dagID, t.ID, strconv.FormatBool(t.Proxied)})
		}
		return rows
	})
}

func newStagesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the migration stages",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			names := stages.Names()
			return rt.emit(names, []string{"stage"}, func() [][]string {
				rows := make([][]string, len(names))
				for i, n := range names {
					rows[i] = []string{n}
				}
				return rows
			})
		},
	}
}

func parseDuration(s string) (d time.Duration, err error) {
	d, err = time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
