package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/horizonanalytic/lattice-sub007/internal/dispatch"
	"github.com/horizonanalytic/lattice-sub007/internal/inspect"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/journal"
	"github.com/horizonanalytic/lattice-sub007/internal/metrics"
	"github.com/horizonanalytic/lattice-sub007/internal/signal"
	"github.com/horizonanalytic/lattice-sub007/internal/threadpool"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Duration  time.Duration
	Heartbeat time.Duration
	Inspect   string

	// IDGenerator allows overriding the application id (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator dispatch.IDGenerator
}

// RunSummary is printed when the demo loop stops.
type RunSummary struct {
	AppID      string           `json:"app_id"`
	Uptime     string           `json:"uptime"`
	Heartbeats int64            `json:"heartbeats"`
	Progress   int64            `json:"progress_reports"`
	Results    int64            `json:"pool_results"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo dispatch loop",
		Long: `Run a dispatch loop driven by a heartbeat timer.

Each heartbeat emits a signal to a direct and a queued slot, posts a
deferred task and, every fifth beat, hands work to the thread pool whose
result comes back through the dispatch goroutine. A pool worker reports
progress through a blocking connection. A summary is printed on exit.

The loop stops after --duration, or on Ctrl-C when --duration is 0.

Example:
  lattice run --duration 5s --heartbeat 100ms
  lattice run --inspect 127.0.0.1:7070 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.Heartbeat, "heartbeat", 250*time.Millisecond, "heartbeat timer interval")
	cmd.Flags().StringVar(&opts.Inspect, "inspect", "", "serve the inspector on this address")

	return cmd
}

func runDemo(opts *RunOptions, cmd *cobra.Command) error {
	if opts.Heartbeat <= 0 {
		return NewExitError(ExitCommandError, "--heartbeat must be positive")
	}
	cfg := opts.Config

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := ossignal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	appOpts := []dispatch.Option{
		dispatch.WithMaxEventsPerIteration(cfg.Dispatch.MaxEventsPerIteration),
		dispatch.WithTaskBatchSize(cfg.Dispatch.TaskBatchSize),
		dispatch.WithObserver(reg),
	}
	if opts.IDGenerator != nil {
		appOpts = append(appOpts, dispatch.WithIDGenerator(opts.IDGenerator))
	}
	app := dispatch.New(appOpts...)
	logger := slog.With("app_id", app.ID())

	pool, err := threadpool.New(cfg.Pool)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create thread pool", err)
	}
	defer pool.Shutdown()

	if err := startReaper(ctx, opts, app, reg, logger); err != nil {
		return err
	}

	addr := cfg.Inspector.Addr
	if opts.Inspect != "" {
		addr = opts.Inspect
	}
	if cfg.Inspector.Enabled || opts.Inspect != "" {
		srv := inspect.New(inspect.Config{
			Addr:       addr,
			RatePerSec: cfg.Inspector.RatePerSec,
			Burst:      cfg.Inspector.Burst,
		}, app.ID(), app.Invocations(), reg)
		app.AddObserver(srv)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Error("inspector stopped", "error", err)
			}
		}()
	}

	d := newDemo(app, pool)
	if err := d.start(ctx, opts.Heartbeat); err != nil {
		return WrapExitError(ExitFailure, "failed to start demo", err)
	}
	if opts.Duration > 0 {
		app.ScheduleTask(opts.Duration, app.Quit)
	}

	started := time.Now()
	logger.Info("dispatch loop starting", "heartbeat", opts.Heartbeat, "workers", pool.Workers())
	if !newFormatter(opts.RootOptions, cmd).JSON() {
		fmt.Fprintln(cmd.OutOrStdout(), "Dispatch loop started. Press Ctrl-C to stop.")
	}

	runErr := app.Run(ctx)
	d.stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "dispatch loop error", runErr)
	}
	logger.Info("dispatch loop stopped")

	summary := RunSummary{
		AppID:      app.ID(),
		Uptime:     time.Since(started).Round(time.Millisecond).String(),
		Heartbeats: d.heartbeats,
		Progress:   d.progressN.Load(),
		Results:    d.results,
		Metrics:    reg.Snapshot(),
	}
	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(summary)
	}
	renderSummary(cmd.OutOrStdout(), summary)
	return nil
}

func startReaper(ctx context.Context, opts *RunOptions, app *dispatch.Application, reg *metrics.Registry, logger *slog.Logger) error {
	interval, err := opts.Config.ReapInterval()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid reaper interval", err)
	}
	if interval <= 0 {
		return nil
	}

	reaperOpts := []invocation.ReaperOption{
		invocation.WithInterval(interval),
		invocation.WithSweepHook(reg.RecordSweep),
	}
	if path := opts.Config.Reaper.JournalPath; path != "" {
		j, err := journal.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		go func() {
			<-ctx.Done()
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		reaperOpts = append(reaperOpts, invocation.WithJournal(j))
	}

	reaper := invocation.NewReaper(app.Invocations(), reaperOpts...)
	go func() {
		_ = reaper.Run(ctx)
	}()
	return nil
}

func renderSummary(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "\nApplication %s ran for %s\n\n", s.AppID, s.Uptime)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"counter", "value"})
	table.Append([]string{"heartbeats", humanize.Comma(s.Heartbeats)})
	table.Append([]string{"progress reports", humanize.Comma(s.Progress)})
	table.Append([]string{"pool results", humanize.Comma(s.Results)})
	table.Append([]string{"deferred tasks run", humanize.Comma(s.Metrics.TasksRun)})
	table.Append([]string{"scheduled runs", humanize.Comma(s.Metrics.ScheduledRun)})
	table.Append([]string{"orphans reaped", humanize.Comma(s.Metrics.Orphans)})

	kinds := make([]string, 0, len(s.Metrics.Events))
	for k := range s.Metrics.Events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		table.Append([]string{"events: " + k, humanize.Comma(s.Metrics.Events[k])})
	}

	types := make([]string, 0, len(s.Metrics.Invocations))
	for k := range s.Metrics.Invocations {
		types = append(types, k)
	}
	sort.Strings(types)
	for _, k := range types {
		table.Append([]string{"invocations: " + k, humanize.Comma(s.Metrics.Invocations[k])})
	}

	table.Render()
}

// demo holds the signals and counters driven by the heartbeat.
// heartbeats and results are only touched on the dispatch goroutine;
// progressN is read after the loop stops.
type demo struct {
	app  *dispatch.Application
	pool *threadpool.Pool

	tick     *signal.Signal[int64]
	progress *signal.Signal[int64]
	worker   *threadpool.TaskHandle[int64]

	heartbeats int64
	results    int64
	progressN  atomic.Int64
}

func newDemo(app *dispatch.Application, pool *threadpool.Pool) *demo {
	return &demo{
		app:      app,
		pool:     pool,
		tick:     signal.New[int64]("tick", app),
		progress: signal.New[int64]("progress", app),
	}
}

func (d *demo) start(ctx context.Context, heartbeat time.Duration) error {
	d.tick.Connect(func(n int64) {
		slog.Debug("tick", "n", n, "delivery", "direct")
	}, signal.Direct)
	d.tick.Connect(func(n int64) {
		slog.Debug("tick", "n", n, "delivery", "queued")
	}, signal.Queued)
	d.progress.Connect(func(n int64) {
		d.progressN.Add(1)
		slog.Debug("worker progress", "step", n)
	}, signal.Blocking, signal.WithTimeout(time.Second))

	id := d.app.StartRepeatingTimer(heartbeat)
	if err := d.app.OnTimer(id, d.onHeartbeat); err != nil {
		return err
	}

	d.app.ScheduleRepeatingTask(4*heartbeat, func() {
		slog.Info("status",
			"heartbeats", d.heartbeats,
			"pending_events", d.app.PendingEvents(),
			"active_pool_tasks", d.pool.ActiveTasks(),
		)
	})

	worker, err := threadpool.SpawnCancellable(d.pool, func(tok *threadpool.CancellationToken) int64 {
		var step int64
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		for {
			select {
			case <-tok.Done():
				return step
			case <-ctx.Done():
				return step
			case <-t.C:
				step++
				if err := d.progress.Emit(step); err != nil {
					slog.Debug("progress emit failed", "error", err)
				}
			}
		}
	})
	if err != nil {
		return err
	}
	d.worker = worker
	return nil
}

func (d *demo) onHeartbeat() {
	d.heartbeats++
	n := d.heartbeats
	if err := d.tick.Emit(n); err != nil {
		slog.Warn("tick emit failed", "error", err)
	}
	d.app.PostTask(func() {
		slog.Debug("deferred task", "heartbeat", n)
	})

	if n%5 != 0 {
		return
	}
	_, err := threadpool.SpawnWithCallback(d.pool, d.app, func() int64 {
		return fib(25)
	}, func(v int64) {
		d.results++
		slog.Debug("pool result", "heartbeat", n, "value", v)
	})
	if err != nil {
		slog.Warn("pool submission failed", "error", err)
	}
}

func (d *demo) stop() {
	if d.worker != nil {
		d.worker.Cancel()
	}
}

func fib(n int64) int64 {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}
