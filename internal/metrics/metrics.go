// Package metrics provides a lightweight Prometheus-compatible counter
// registry for the dispatch loop.
//
// # Counter keys
//
// Every counter is keyed by a single label value so one sync.Map holds all
// label combinations:
//
//	Events        →  key = event kind ("TimerFired", "Custom", ...)
//	Invocations   →  key = command type ("invoke_slot", "callback", "func")
//	Tasks, Scheduled, Orphans, Lingering  →  key = "" (unlabelled)
//
// Registry implements dispatch.Observer, so it is wired with
// dispatch.WithObserver and fed by the loop itself.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
)

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the counter for key.
func (lc *labelCounter) Value(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Total sums every key.
func (lc *labelCounter) Total() int64 {
	var n int64
	lc.Each(func(_ string, v int64) { n += v })
	return n
}

// Each calls fn for every key/value pair in key order.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	type kv struct {
		k string
		v int64
	}
	var all []kv
	lc.vals.Range(func(k, v any) bool {
		all = append(all, kv{k.(string), v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].k < all[j].k })
	for _, e := range all {
		fn(e.k, e.v)
	}
}

// Registry holds the dispatch loop counters.
type Registry struct {
	Events      labelCounter
	Invocations labelCounter
	Tasks       labelCounter
	Scheduled   labelCounter
	Orphans     labelCounter
	Lingering   labelCounter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// EventDispatched counts one dispatched event by kind.
func (r *Registry) EventDispatched(ev event.Event) {
	r.Events.Inc(ev.Kind.String())
}

// InvocationExecuted counts one executed invocation by command type.
func (r *Registry) InvocationExecuted(_ uint64, cmd invocation.Descriptor) {
	r.Invocations.Inc(cmd.Type)
}

// TasksRun counts deferred tasks.
func (r *Registry) TasksRun(n int) {
	r.Tasks.Add("", int64(n))
}

// ScheduledRun counts scheduled task runs.
func (r *Registry) ScheduledRun(n int) {
	r.Scheduled.Add("", int64(n))
}

// RecordSweep counts the outcome of one reaper sweep.
// Pass it to invocation.WithSweepHook.
func (r *Registry) RecordSweep(res invocation.SweepResult) {
	r.Orphans.Add("", int64(len(res.Reclaimed)))
	r.Lingering.Add("", int64(len(res.Lingering)))
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Events       map[string]int64 `json:"events"`
	Invocations  map[string]int64 `json:"invocations"`
	TasksRun     int64            `json:"tasks_run"`
	ScheduledRun int64            `json:"scheduled_run"`
	Orphans      int64            `json:"orphans_reaped"`
	Lingering    int64            `json:"lingering_reported"`
}

// Snapshot copies every counter.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Events:       map[string]int64{},
		Invocations:  map[string]int64{},
		TasksRun:     r.Tasks.Total(),
		ScheduledRun: r.Scheduled.Total(),
		Orphans:      r.Orphans.Total(),
		Lingering:    r.Lingering.Total(),
	}
	r.Events.Each(func(k string, v int64) { s.Events[k] = v })
	r.Invocations.Each(func(k string, v int64) { s.Invocations[k] = v })
	return s
}

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, r.Text())
	})
}

// Text renders the exposition text served by Handler.
func (r *Registry) Text() string {
	var b strings.Builder

	writeFamily(&b, "lattice_events_dispatched_total",
		"Events dispatched by the loop, by kind", "counter",
		labelled(&r.Events, "kind"))

	writeFamily(&b, "lattice_invocations_executed_total",
		"Queued invocations executed, by command type", "counter",
		labelled(&r.Invocations, "type"))

	writeFamily(&b, "lattice_tasks_run_total",
		"Deferred tasks run", "counter",
		unlabelled(&r.Tasks))

	writeFamily(&b, "lattice_scheduled_runs_total",
		"Scheduled task runs", "counter",
		unlabelled(&r.Scheduled))

	writeFamily(&b, "lattice_orphans_reaped_total",
		"Orphaned invocations reclaimed by the reaper", "counter",
		unlabelled(&r.Orphans))

	writeFamily(&b, "lattice_invocations_lingering_total",
		"Invocations reported pending across consecutive sweeps", "counter",
		unlabelled(&r.Lingering))

	return b.String()
}

func labelled(lc *labelCounter, label string) func(fn func(labels, val string)) {
	return func(fn func(labels, val string)) {
		lc.Each(func(key string, val int64) {
			fn(fmt.Sprintf(`%s=%q`, label, key), fmt.Sprintf("%d", val))
		})
	}
}

func unlabelled(lc *labelCounter) func(fn func(labels, val string)) {
	return func(fn func(labels, val string)) {
		lc.Each(func(_ string, val int64) {
			fn("", fmt.Sprintf("%d", val))
		})
	}
}

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		if labels == "" {
			lines = append(lines, fmt.Sprintf("%s %s\n", name, val))
			return
		}
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}
