package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	for _, name := range []string{
		"mixed_delivery",
		"batched_tasks",
		"timers_and_events",
		"scheduled_tasks",
	} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_DirectVisibleBeforeProcess(t *testing.T) {
	scenario := &Scenario{
		Name:        "direct_then_queued",
		Description: "test",
		Steps: []Step{
			{Op: OpConnect, Signal: "s", Slot: "d", Type: "direct"},
			{Op: OpConnect, Signal: "s", Slot: "q", Type: "queued"},
			{Op: OpEmit, Signal: "s", Value: 7},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Contains(t, result.Trace, "slot d <- 7")
	assert.NotContains(t, result.Trace, "slot q <- 7", "queued slot waits for the loop")
}

func TestRun_CancelledTaskNeverRuns(t *testing.T) {
	scenario := &Scenario{
		Name:        "cancel",
		Description: "test",
		Steps: []Step{
			{Op: OpPostTask, Label: "keep"},
			{Op: OpPostTask, Label: "drop"},
			{Op: OpCancelTask, Label: "drop"},
			{Op: OpCancelTask, Label: "drop"},
			{Op: OpProcess},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"post task keep id=1",
		"post task drop id=2",
		"cancel task drop: true",
		"cancel task drop: false",
		"task keep ran",
		"processed timers=0 scheduled=0 events=2 tasks=1",
	}, result.Trace)
}

func TestRun_FailedAssertionMarksResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "test",
		Steps:       []Step{{Op: OpQuit}},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Line: "never"},
			{Type: AssertTraceCount, Prefix: "quit", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_contains")
	assert.Contains(t, result.Errors[0], "[1] quit requested")
}

func TestRun_UnknownLabel(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown",
		Description: "test",
		Steps:       []Step{{Op: OpStopTimer, Label: "missing"}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step 0 (stop_timer)`)
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{op: process}]\n",
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nstep: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{op: jump}]\n",
			wantErr: `unknown op "jump"`,
		},
		{
			name:    "blocking rejected",
			yaml:    "name: n\ndescription: d\nsteps: [{op: connect, signal: s, slot: a, type: blocking}]\n",
			wantErr: "would deadlock",
		},
		{
			name:    "advance needs ms",
			yaml:    "name: n\ndescription: d\nsteps: [{op: advance_ms}]\n",
			wantErr: "ms must be positive",
		},
		{
			name:    "bad assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{op: process}]\nassertions: [{type: trace_count}]\n",
			wantErr: "prefix is required",
		},
		{
			name: "valid",
			yaml: "name: n\ndescription: d\nsteps: [{op: connect, signal: s, slot: a, type: Queued}, {op: emit, signal: s, value: 1}]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := []string{"a", "b", "c", "b"}

	assert.NoError(t, assertTraceOrder(trace, Assertion{Lines: []string{"a", "c"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Lines: []string{"c", "b"}}))
	assert.Error(t, assertTraceOrder(trace, Assertion{Lines: []string{"c", "a"}}))
	assert.Error(t, assertTraceOrder(trace, Assertion{Lines: []string{"z"}}))
}

func TestFormatTrace(t *testing.T) {
	got := FormatTrace("demo", []string{"one", "two"})
	assert.Equal(t, "# scenario: demo\none\ntwo\n", string(got))
}
