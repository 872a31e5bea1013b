package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/metrics"
)

func TestRegistry_Observer(t *testing.T) {
	reg := metrics.New()

	reg.EventDispatched(event.WakeUp())
	reg.EventDispatched(event.Custom("paint", nil))
	reg.EventDispatched(event.Custom("paint", nil))
	reg.InvocationExecuted(1, invocation.Descriptor{Type: invocation.TypeInvokeSlot})
	reg.TasksRun(3)
	reg.ScheduledRun(2)
	reg.RecordSweep(invocation.SweepResult{
		Reclaimed: []invocation.Pending{{ID: 4}},
		Lingering: []uint64{5, 6},
	})

	snap := reg.Snapshot()
	assert.Equal(t, map[string]int64{"WakeUp": 1, "Custom": 2}, snap.Events)
	assert.Equal(t, map[string]int64{"invoke_slot": 1}, snap.Invocations)
	assert.Equal(t, int64(3), snap.TasksRun)
	assert.Equal(t, int64(2), snap.ScheduledRun)
	assert.Equal(t, int64(1), snap.Orphans)
	assert.Equal(t, int64(2), snap.Lingering)
}

func TestRegistry_Handler(t *testing.T) {
	reg := metrics.New()
	reg.EventDispatched(event.Quit())
	reg.TasksRun(1)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "# TYPE lattice_events_dispatched_total counter\n")
	assert.Contains(t, text, `lattice_events_dispatched_total{kind="Quit"} 1`)
	assert.Contains(t, text, "lattice_tasks_run_total 1\n")
	assert.NotContains(t, text, "lattice_orphans_reaped_total", "empty families are omitted")
}

func TestRegistry_TextIsSorted(t *testing.T) {
	reg := metrics.New()
	reg.InvocationExecuted(1, invocation.Descriptor{Type: "func"})
	reg.InvocationExecuted(2, invocation.Descriptor{Type: "callback"})

	text := reg.Text()
	assert.Less(t,
		strings.Index(text, `type="callback"`),
		strings.Index(text, `type="func"`))
}
