package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted run of the dispatch loop.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TaskBatchSize overrides the deferred task batch size when positive.
	TaskBatchSize int `yaml:"task_batch_size,omitempty"`

	// Steps run in order on the calling goroutine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace.
	// Supported types: trace_contains, trace_order, trace_count
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted action. Only the fields used by Op are read.
type Step struct {
	Op string `yaml:"op"`

	// Signal and Slot name a signal and a connected slot (connect, emit).
	Signal string `yaml:"signal,omitempty"`
	Slot   string `yaml:"slot,omitempty"`

	// Type is the connection type for connect: auto, direct or queued.
	Type string `yaml:"type,omitempty"`

	// Value is the emitted payload.
	Value int `yaml:"value,omitempty"`

	// Name is the custom event name for post_event.
	Name string `yaml:"name,omitempty"`

	// Label names a task or timer.
	Label string `yaml:"label,omitempty"`

	// AfterMS and Repeat configure start_timer and schedule_task.
	AfterMS int64 `yaml:"after_ms,omitempty"`
	Repeat  bool  `yaml:"repeat,omitempty"`

	// MS is the clock advance for advance_ms.
	MS int64 `yaml:"ms,omitempty"`
}

// Step ops.
const (
	OpConnect         = "connect"
	OpEmit            = "emit"
	OpPostEvent       = "post_event"
	OpPostTask        = "post_task"
	OpCancelTask      = "cancel_task"
	OpStartTimer      = "start_timer"
	OpStopTimer       = "stop_timer"
	OpScheduleTask    = "schedule_task"
	OpCancelScheduled = "cancel_scheduled"
	OpAdvanceMS       = "advance_ms"
	OpProcess         = "process"
	OpProcessTasks    = "process_tasks"
	OpProcessAllTasks = "process_all_tasks"
	OpQuit            = "quit"
)

// Assertion validates the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a line equal to Line appears
	// - "trace_order": every entry of Lines appears, in order
	// - "trace_count": exactly Count lines start with Prefix
	Type string `yaml:"type"`

	Line   string   `yaml:"line,omitempty"`
	Lines  []string `yaml:"lines,omitempty"`
	Prefix string   `yaml:"prefix,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.TaskBatchSize < 0 {
		return fmt.Errorf("task_batch_size must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpConnect:
		if st.Signal == "" || st.Slot == "" {
			return fmt.Errorf("steps[%d]: signal and slot are required for connect", index)
		}
		switch strings.ToLower(st.Type) {
		case "", "auto", "direct", "queued":
		case "blocking":
			return fmt.Errorf("steps[%d]: blocking connections would deadlock a single-goroutine scenario", index)
		default:
			return fmt.Errorf("steps[%d]: unknown connection type %q", index, st.Type)
		}
	case OpEmit:
		if st.Signal == "" {
			return fmt.Errorf("steps[%d]: signal is required for emit", index)
		}
	case OpPostEvent:
		if st.Name == "" {
			return fmt.Errorf("steps[%d]: name is required for post_event", index)
		}
	case OpPostTask, OpCancelTask, OpStopTimer, OpCancelScheduled:
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for %s", index, st.Op)
		}
	case OpStartTimer, OpScheduleTask:
		if st.Label == "" {
			return fmt.Errorf("steps[%d]: label is required for %s", index, st.Op)
		}
		if st.AfterMS < 0 {
			return fmt.Errorf("steps[%d]: after_ms must be non-negative", index)
		}
	case OpAdvanceMS:
		if st.MS <= 0 {
			return fmt.Errorf("steps[%d]: ms must be positive for advance_ms", index)
		}
	case OpProcess, OpProcessTasks, OpProcessAllTasks, OpQuit:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Prefix == "" {
			return fmt.Errorf("assertions[%d]: prefix is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
