package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/gthreads/internal/trace"
	"github.com/me/gthreads/pkg/gthread"
)

func newRunsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded trace runs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Trace.DBPath
			}
			if dbPath == "" {
				return fmt.Errorf("no trace database: pass --trace-db or set trace.db_path")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "trace-db", "", "SQLite trace database")
	cmd.AddCommand(newRunsListCmd(&dbPath), newRunsShowCmd(&dbPath))
	return cmd
}

func newRunsListCmd(dbPath *string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, total, err := store.ListRuns(cmd.Context(), trace.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tEVENTS\tDROPPED\tSTARTED\tDURATION\tLABEL")
			for _, r := range runs {
				dur := "-"
				if r.FinishedAt != nil {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID, r.State, humanize.Comma(int64(r.Events)), r.Dropped,
					humanize.Time(r.StartedAt), dur, r.Label)
			}
			tw.Flush()
			if len(runs) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func newRunsShowCmd(dbPath *string) *cobra.Command {
	var limit, offset int
	var kind string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the scheduling events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, total, err := store.ListEvents(cmd.Context(), run.ID, trace.ListOptions{
				Limit: limit, Offset: offset, Kind: gthread.EventKind(kind),
			})
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:     %s\n", run.ID)
			fmt.Fprintf(out, "Label:   %s\n", run.Label)
			fmt.Fprintf(out, "State:   %s\n", run.State)
			fmt.Fprintf(out, "Events:  %d (%d dropped)\n", run.Events, run.Dropped)
			fmt.Fprintf(out, "Started: %s\n\n", run.StartedAt.Format(time.RFC3339))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tOFFSET\tKIND\tTASK\tPEER")
			for _, ev := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\tT%d\t%s\n",
					ev.Seq, ev.At.Sub(run.StartedAt).Round(time.Microsecond), ev.Kind, ev.Task, peer(ev.Peer))
			}
			tw.Flush()
			if len(events) < total {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(events), total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Events to skip")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show events of this kind (switch, preempt, ...)")
	return cmd
}

func peer(id int) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprintf("T%d", id)
}
