package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/me/gthreads/pkg/model"
)

func newInspectCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Query the introspection API of a running gthreads process",
	}
	cmd.PersistentFlags().StringVar(&addr, "server", "127.0.0.1:6060", "Address given to run --debug-addr")

	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "List live tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewClient(addr, logger).Get(cmd.Context(), "/api/v1/tasks")
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var views []model.TaskView
			if err := json.Unmarshal(resp.Data, &views); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tNAME\tSTATE\tSWITCHES\tSTACK\tCREATED")
			for _, v := range views {
				state := v.State
				if v.Current {
					state += "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", v.Handle, v.Name, state, v.Switches, v.StackSize, v.Age)
			}
			return tw.Flush()
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewClient(addr, logger).Get(cmd.Context(), "/api/v1/stats")
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			var v model.StatsView
			if err := json.Unmarshal(resp.Data, &v); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uptime:       %s\n", v.Uptime)
			fmt.Fprintf(out, "Tick:         %s\n", v.Tick)
			fmt.Fprintf(out, "Tasks:        %d (%d on ready list)\n", v.Tasks, v.ReadyListLen)
			fmt.Fprintf(out, "Switches:     %d\n", v.Switches)
			fmt.Fprintf(out, "Yields:       %d\n", v.Yields)
			fmt.Fprintf(out, "Preemptions:  %d\n", v.Preemptions)
			fmt.Fprintf(out, "Spawned:      %d (%d exited)\n", v.Spawned, v.Exited)
			fmt.Fprintf(out, "Stack memory: %s in use, %s per task\n", v.StackInUse, v.StackSize)
			return nil
		},
	}

	cmd.AddCommand(tasks, stats)
	return cmd
}
