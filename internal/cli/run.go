package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/gthreads/internal/clock"
	"github.com/me/gthreads/internal/demo"
	"github.com/me/gthreads/internal/server"
	"github.com/me/gthreads/internal/trace"
	"github.com/me/gthreads/pkg/gthread"
)

type runFlags struct {
	tasks          []string
	tick           time.Duration
	stackSize      string
	maxTasks       int
	preemption     string
	mainIterations int
	mainSleep      time.Duration
	traceDB        string
	debugAddr      string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workloads on the green-thread scheduler",
		Long: `Run spawns one task per --task and then runs the main loop.

Each --task is a workload spec:

  counter --name NAME -n N --sleep D          print N lines
  forever --name NAME --sleep D               print until interrupted
  locker  --name NAME -n N --hold D --mutex M hold a shared mutex
  spin    --name NAME -n N --every K          busy loop, preempted at safe points

Without --task the classic demo runs: func1 counts to 10 while func2 and
func3 run forever alongside the main loop. Press Ctrl-C to stop.`,
		Example: `  gthreads run
  gthreads run --tick 100ms --task "counter --name a -n 5" --task "locker -n 3 --mutex m"
  gthreads run --trace-db trace.db --debug-addr 127.0.0.1:6060`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd, &f)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, cmd, f)
		},
	}

	cmd.Flags().StringArrayVarP(&f.tasks, "task", "t", nil, "Workload spec (repeatable)")
	cmd.Flags().DurationVar(&f.tick, "tick", 0, "Preemption interval (default from config, 1s)")
	cmd.Flags().StringVar(&f.stackSize, "stack-size", "", "Per-task stack size, e.g. 16KB")
	cmd.Flags().IntVar(&f.maxTasks, "max-tasks", 0, "Maximum live tasks including main (0 = unbounded)")
	cmd.Flags().StringVar(&f.preemption, "preemption", "", "Preemption clock: ticker, itimer or off")
	cmd.Flags().IntVar(&f.mainIterations, "main-iterations", 0, "Main loop iterations (0 = until interrupted)")
	cmd.Flags().DurationVar(&f.mainSleep, "main-sleep", demo.DefaultSleep, "Pause between main loop iterations")
	cmd.Flags().StringVar(&f.traceDB, "trace-db", "", "Record scheduling events to this SQLite file")
	cmd.Flags().StringVar(&f.debugAddr, "debug-addr", "", "Serve the introspection API on this address")
	return cmd
}

// applyRunFlags layers explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	if flags.Changed("tick") {
		cfg.Runtime.Tick = f.tick
	}
	if flags.Changed("stack-size") {
		cfg.Runtime.StackSize = f.stackSize
	}
	if flags.Changed("max-tasks") {
		cfg.Runtime.MaxTasks = f.maxTasks
	}
	if flags.Changed("preemption") {
		cfg.Runtime.Preemption = clock.Kind(strings.ToLower(f.preemption))
	}
	if flags.Changed("trace-db") {
		cfg.Trace.DBPath = f.traceDB
	}
	if flags.Changed("debug-addr") {
		cfg.Debug.Addr = f.debugAddr
	}
}

func runDemo(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rtCfg, err := cfg.Scheduler()
	if err != nil {
		return err
	}

	specs := demo.DefaultTasks()
	if len(f.tasks) > 0 {
		if specs, err = demo.ParseTaskSpecs(f.tasks); err != nil {
			return err
		}
	}

	opts := []gthread.Option{gthread.WithLogger(logger)}
	clk, err := cfg.NewClock()
	if err != nil {
		return err
	}
	if clk != nil {
		opts = append(opts, gthread.WithClock(clk))
	}

	var (
		store *trace.SQLiteStore
		rec   *trace.Recorder
	)
	if cfg.Trace.DBPath != "" {
		store, err = openStore(ctx, cfg.Trace.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		yml, _ := cfg.Marshal()
		rec, err = trace.NewRecorder(ctx, store, runLabel(specs), string(yml),
			trace.RecorderOptions{Buffer: cfg.Trace.Buffer}, logger)
		if err != nil {
			return fmt.Errorf("start trace: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rec.Close(closeCtx); err != nil {
				logger.Warn("close trace", "error", err)
			}
		}()
		opts = append(opts, gthread.WithTracer(rec))
	}

	rt, err := gthread.Init(rtCfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", "error", err)
		}
	}()

	if cfg.Debug.Addr != "" {
		srvOpts := []server.Option{}
		if store != nil {
			srvOpts = append(srvOpts, server.WithTraceStore(store), server.WithCurrentRun(rec.RunID()))
		}
		srv := server.New(rt, logger, srvOpts...)
		srvCtx, cancel := context.WithCancel(context.Background())
		srvDone := make(chan struct{})
		defer func() {
			cancel()
			<-srvDone
		}()
		go func() {
			defer close(srvDone)
			err := srv.ListenAndServe(srvCtx, cfg.Debug.Addr, func(a net.Addr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "debug API on http://%s/api/v1/\n", a)
			})
			if err != nil {
				logger.Error("debug server", "error", err)
			}
		}()
	}

	runner := demo.NewRunner(rt, printerFor(cmd), logger, demo.Options{
		Tasks:          specs,
		MainIterations: f.mainIterations,
		MainSleep:      f.mainSleep,
	})
	sum, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	attrs := []any{
		"main_iterations", sum.MainIterations,
		"switches", sum.Stats.Switches,
		"preemptions", sum.Stats.Preemptions,
		"interrupted", sum.Interrupted,
	}
	if rec != nil {
		attrs = append(attrs, "run", rec.RunID(), "dropped_events", rec.Dropped())
	}
	logger.Info("run finished", attrs...)
	return nil
}

func openStore(ctx context.Context, path string) (*trace.SQLiteStore, error) {
	store, err := trace.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return store, nil
}

func runLabel(specs []demo.TaskSpec) string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
		if names[i] == "" {
			names[i] = string(s.Kind)
		}
	}
	return strings.Join(names, ",")
}

// printerFor colours output only when the command writes to a terminal.
func printerFor(cmd *cobra.Command) *demo.Printer {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return demo.NewPrinter(f)
	}
	return demo.NewPrinterWriter(cmd.OutOrStdout(), false)
}
