package harness

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/dispatch"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/scheduler"
	"github.com/horizonanalytic/lattice-sub007/internal/signal"
	"github.com/horizonanalytic/lattice-sub007/internal/task"
	"github.com/horizonanalytic/lattice-sub007/internal/testutil"
	"github.com/horizonanalytic/lattice-sub007/internal/timer"
)

// Harness is the scenario execution engine.
// It drives a dispatch.Application with a manual clock on the calling
// goroutine, which it binds as the dispatch goroutine.
type Harness struct {
	app    *dispatch.Application
	clock  *testutil.ManualClock
	result *Result

	signals    map[string]*signal.Signal[int]
	tasks      map[string]task.ID
	timers     map[string]timer.ID
	timerNames map[timer.ID]string
	scheduled  map[string]scheduler.ID
}

var titleCase = cases.Title(language.Und)

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh Application for isolation.
//
// Execution flow:
// 1. Create the application with a manual clock and fixed id
// 2. Execute steps in order, recording trace lines
// 3. Evaluate assertions against the trace
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewManualClock()

	opts := []dispatch.Option{
		dispatch.WithClock(clock),
		dispatch.WithIDGenerator(testutil.NewFixedIDGenerator("scenario-" + scenario.Name)),
	}
	if scenario.TaskBatchSize > 0 {
		opts = append(opts, dispatch.WithTaskBatchSize(scenario.TaskBatchSize))
	}
	app := dispatch.New(opts...)
	app.BindDispatchThread()

	h := &Harness{
		app:        app,
		clock:      clock,
		result:     NewResult(),
		signals:    make(map[string]*signal.Signal[int]),
		tasks:      make(map[string]task.ID),
		timers:     make(map[string]timer.ID),
		timerNames: make(map[timer.ID]string),
		scheduled:  make(map[string]scheduler.ID),
	}
	app.SetEventHandler(h.onEvent)

	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

func (h *Harness) trace(format string, args ...any) {
	h.result.AddTrace(format, args...)
}

func (h *Harness) execute(st Step) error {
	switch st.Op {
	case OpConnect:
		typ, err := parseType(st.Type)
		if err != nil {
			return err
		}
		slot := st.Slot
		h.signal(st.Signal).Connect(func(v int) {
			h.trace("slot %s <- %d", slot, v)
		}, typ)
		h.trace("connect %s.%s type=%s", st.Signal, st.Slot, typ)

	case OpEmit:
		h.trace("emit %s(%d)", st.Signal, st.Value)
		if err := h.signal(st.Signal).Emit(st.Value); err != nil {
			h.trace("emit %s failed: %s", st.Signal, codeOf(err))
			return nil
		}
		h.trace("emit %s returned", st.Signal)

	case OpPostEvent:
		if err := h.app.PostEvent(event.Custom(st.Name, nil)); err != nil {
			h.trace("post event %s failed: %s", st.Name, codeOf(err))
			return nil
		}
		h.trace("post event %s", st.Name)

	case OpPostTask:
		label := st.Label
		id := h.app.PostTask(func() { h.trace("task %s ran", label) })
		h.tasks[label] = id
		h.trace("post task %s id=%d", label, id)

	case OpCancelTask:
		id, ok := h.tasks[st.Label]
		if !ok {
			return fmt.Errorf("unknown task %q", st.Label)
		}
		h.trace("cancel task %s: %t", st.Label, h.app.CancelTask(id))

	case OpStartTimer:
		d := time.Duration(st.AfterMS) * time.Millisecond
		var id timer.ID
		if st.Repeat {
			id = h.app.StartRepeatingTimer(d)
		} else {
			id = h.app.StartTimer(d)
		}
		h.timers[st.Label] = id
		h.timerNames[id] = st.Label
		h.trace("start timer %s after=%s repeat=%t", st.Label, d, st.Repeat)

	case OpStopTimer:
		id, ok := h.timers[st.Label]
		if !ok {
			return fmt.Errorf("unknown timer %q", st.Label)
		}
		if err := h.app.StopTimer(id); err != nil {
			h.trace("stop timer %s: %s", st.Label, codeOf(err))
			return nil
		}
		h.trace("stop timer %s: ok", st.Label)

	case OpScheduleTask:
		label := st.Label
		d := time.Duration(st.AfterMS) * time.Millisecond
		fn := func() { h.trace("scheduled %s ran at +%s", label, h.clock.Elapsed()) }
		if st.Repeat {
			h.scheduled[label] = h.app.ScheduleRepeatingTask(d, fn)
		} else {
			h.scheduled[label] = h.app.ScheduleTask(d, fn)
		}
		h.trace("schedule %s after=%s repeat=%t", label, d, st.Repeat)

	case OpCancelScheduled:
		id, ok := h.scheduled[st.Label]
		if !ok {
			return fmt.Errorf("unknown scheduled task %q", st.Label)
		}
		if err := h.app.CancelScheduledTask(id); err != nil {
			h.trace("cancel scheduled %s: %s", st.Label, codeOf(err))
			return nil
		}
		h.trace("cancel scheduled %s: ok", st.Label)

	case OpAdvanceMS:
		d := time.Duration(st.MS) * time.Millisecond
		h.clock.Advance(d)
		h.trace("advance %s", d)

	case OpProcess:
		it := h.app.ProcessEvents()
		line := fmt.Sprintf("processed timers=%d scheduled=%d events=%d tasks=%d",
			it.TimersFired, it.ScheduledRun, it.EventsDispatched, it.TasksRun)
		if h.app.ShouldQuit() {
			line += " quit"
		}
		h.trace("%s", line)

	case OpProcessTasks:
		h.trace("process tasks ran=%d", h.app.ProcessTaskBatch())

	case OpProcessAllTasks:
		h.trace("process all tasks ran=%d", h.app.ProcessAllTasks())

	case OpQuit:
		h.app.Quit()
		h.trace("quit requested")

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func (h *Harness) onEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindTimerFired:
		h.trace("timer %s fired", h.timerNames[ev.TimerID])
	case event.KindCustom:
		h.trace("event %s", ev.CustomName)
	}
}

func (h *Harness) signal(name string) *signal.Signal[int] {
	s, ok := h.signals[name]
	if !ok {
		s = signal.New[int](name, h.app)
		h.signals[name] = s
	}
	return s
}

func parseType(s string) (signal.ConnectionType, error) {
	if s == "" {
		return signal.Auto, nil
	}
	typ, ok := signal.ParseConnectionType(titleCase.String(strings.ToLower(s)))
	if !ok || typ == signal.Blocking {
		return signal.Auto, fmt.Errorf("unsupported connection type %q", s)
	}
	return typ, nil
}

func codeOf(err error) string {
	if code := core.CodeOf(err); code != "" {
		return string(code)
	}
	return err.Error()
}
