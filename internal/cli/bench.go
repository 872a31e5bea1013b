package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/horizonanalytic/lattice-sub007/internal/dispatch"
	"github.com/horizonanalytic/lattice-sub007/internal/signal"
	"github.com/horizonanalytic/lattice-sub007/internal/threadpool"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Iterations int
}

// BenchRow is one measured delivery path.
type BenchRow struct {
	Name string        `json:"name"`
	Avg  time.Duration `json:"avg_ns"`
	Min  time.Duration `json:"min_ns"`
	P75  time.Duration `json:"p75_ns"`
	P99  time.Duration `json:"p99_ns"`
	Max  time.Duration `json:"max_ns"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure delivery latency per connection type",
		Long: `Measure how long a value takes to reach its slot for each delivery path.

Direct and Blocking rows time the Emit call. Queued, deferred task and
pool callback rows time from submission until the work ran on the
dispatch goroutine.

Example:
  lattice bench --iterations 5000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 1000, "samples per delivery path")

	return cmd
}

func runBench(opts *BenchOptions, cmd *cobra.Command) error {
	if opts.Iterations <= 0 {
		return NewExitError(ExitCommandError, "--iterations must be positive")
	}

	rows, err := measureAll(cmd.Context(), opts)
	if err != nil {
		return WrapExitError(ExitFailure, "benchmark failed", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(rows)
	}

	tbl := table.NewWriter()
	tbl.SetTitle(fmt.Sprintf("Delivery latency (%s samples)", humanize.Comma(int64(opts.Iterations))))
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.AppendHeader(table.Row{"path", "avg", "min", "p75", "p99", "max"})
	for _, r := range rows {
		tbl.AppendRow(table.Row{r.Name, r.Avg, r.Min, r.P75, r.P99, r.Max})
	}
	tbl.Render()
	return nil
}

func measureAll(parent context.Context, opts *BenchOptions) ([]BenchRow, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	app := dispatch.New(
		dispatch.WithMaxEventsPerIteration(opts.Config.Dispatch.MaxEventsPerIteration),
		dispatch.WithTaskBatchSize(opts.Config.Dispatch.TaskBatchSize),
	)
	loopDone := make(chan error, 1)
	go func() { loopDone <- app.Run(ctx) }()
	defer func() {
		app.Quit()
		<-loopDone
	}()

	pool, err := threadpool.New(opts.Config.Pool)
	if err != nil {
		return nil, err
	}
	defer pool.Shutdown()

	n := opts.Iterations
	var rows []BenchRow
	add := func(name string, fn func() error) error {
		row, err := sample(name, n, fn)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}

	// Direct: the slot runs inside Emit.
	{
		sig := signal.New[int]("bench_direct", app)
		sig.Connect(func(int) {}, signal.Direct)
		if err := add("direct emit", func() error {
			return sig.Emit(1)
		}); err != nil {
			return nil, err
		}
	}

	// Queued: Emit returns at once; wait for the slot.
	{
		ran := make(chan struct{}, 1)
		sig := signal.New[int]("bench_queued", app)
		sig.Connect(func(int) { ran <- struct{}{} }, signal.Queued)
		if err := add("queued emit to slot", func() error {
			if err := sig.Emit(1); err != nil {
				return err
			}
			return await(ctx, ran)
		}); err != nil {
			return nil, err
		}
	}

	// Blocking: Emit returns once the slot ran.
	{
		sig := signal.New[int]("bench_blocking", app)
		sig.Connect(func(int) {}, signal.Blocking)
		if err := add("blocking emit", func() error {
			return sig.Emit(1)
		}); err != nil {
			return nil, err
		}
	}

	// Deferred task: post from this goroutine, wait for the run.
	{
		ran := make(chan struct{}, 1)
		if err := add("deferred task", func() error {
			app.PostTask(func() { ran <- struct{}{} })
			return await(ctx, ran)
		}); err != nil {
			return nil, err
		}
	}

	// Pool callback: worker result delivered on the dispatch goroutine.
	{
		ran := make(chan struct{}, 1)
		if err := add("pool callback", func() error {
			_, err := threadpool.SpawnWithCallback(pool, app, func() int { return 1 }, func(int) {
				ran <- struct{}{}
			})
			if err != nil {
				return err
			}
			return await(ctx, ran)
		}); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// sample times fn n times. A failing fn ends sampling.
func sample(name string, n int, fn func() error) (BenchRow, error) {
	tach := tachymeter.New(&tachymeter.Config{Size: n})
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := fn(); err != nil {
			return BenchRow{}, fmt.Errorf("%s: %w", name, err)
		}
		tach.AddTime(time.Since(start))
	}

	calc := tach.Calc()
	return BenchRow{
		Name: name,
		Avg:  calc.Time.Avg,
		Min:  calc.Time.Min,
		P75:  calc.Time.P75,
		P99:  calc.Time.P99,
		Max:  calc.Time.Max,
	}, nil
}

func await(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
