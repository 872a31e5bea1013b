package event

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// Priority ranks events in the dispatch queue. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Kind distinguishes event variants.
type Kind int

const (
	// KindTimerFired is posted when a timer expires.
	KindTimerFired Kind = iota + 1
	// KindQueuedInvocationReady announces a registered invocation.
	KindQueuedInvocationReady
	// KindDeferredTaskDue wakes the loop for deferred task work. The tasks
	// themselves run in the loop's batch phase.
	KindDeferredTaskDue
	// KindQuit asks the loop to stop.
	KindQuit
	// KindWakeUp forces the loop to recompute its wait.
	KindWakeUp
	// KindCustom carries application-defined work.
	KindCustom
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindTimerFired:
		return "TimerFired"
	case KindQueuedInvocationReady:
		return "QueuedInvocationReady"
	case KindDeferredTaskDue:
		return "DeferredTaskDue"
	case KindQuit:
		return "Quit"
	case KindWakeUp:
		return "WakeUp"
	case KindCustom:
		return "Custom"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one dispatch event. Only the fields of its Kind are set.
// Events are values and are not modified after construction.
type Event struct {
	Kind Kind

	// TimerID is set for KindTimerFired.
	TimerID core.Key

	// InvocationID is set for KindQueuedInvocationReady.
	InvocationID uint64

	// TaskID is set for KindDeferredTaskDue.
	TaskID uint64

	// CustomKind and CustomName are set for KindCustom.
	CustomKind uint64
	CustomName string

	// Payload is optional data for KindCustom.
	Payload []byte
}

// TimerFired returns the event for an expired timer.
func TimerFired(id core.Key) Event {
	return Event{Kind: KindTimerFired, TimerID: id}
}

// QueuedInvocationReady returns the event announcing a registered invocation.
func QueuedInvocationReady(id uint64) Event {
	return Event{Kind: KindQueuedInvocationReady, InvocationID: id}
}

// DeferredTaskDue returns the event announcing a posted task.
func DeferredTaskDue(id uint64) Event {
	return Event{Kind: KindDeferredTaskDue, TaskID: id}
}

// Quit returns the quit event.
func Quit() Event {
	return Event{Kind: KindQuit}
}

// WakeUp returns the wake-up event.
func WakeUp() Event {
	return Event{Kind: KindWakeUp}
}

// Custom returns an application event named name. The name is normalized so
// that canonically equivalent spellings share a CustomKind.
func Custom(name string, payload []byte) Event {
	name = norm.NFC.String(name)
	return Event{
		Kind:       KindCustom,
		CustomKind: CustomKind(name),
		CustomName: name,
		Payload:    payload,
	}
}

// CustomKind returns the 64-bit kind for a custom event name.
func CustomKind(name string) uint64 {
	return xxhash.Sum64String(norm.NFC.String(name))
}

// Priority returns the fixed priority for the event's kind.
func (e Event) Priority() Priority {
	switch e.Kind {
	case KindQuit:
		return PriorityCritical
	case KindTimerFired, KindQueuedInvocationReady:
		return PriorityHigh
	case KindDeferredTaskDue:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// String renders the event for logs and traces.
func (e Event) String() string {
	switch e.Kind {
	case KindTimerFired:
		return fmt.Sprintf("TimerFired{timer=%s}", e.TimerID)
	case KindQueuedInvocationReady:
		return fmt.Sprintf("QueuedInvocationReady{invocation=%d}", e.InvocationID)
	case KindDeferredTaskDue:
		return fmt.Sprintf("DeferredTaskDue{task=%d}", e.TaskID)
	case KindCustom:
		return fmt.Sprintf("Custom{name=%s, bytes=%d}", e.CustomName, len(e.Payload))
	default:
		return e.Kind.String()
	}
}
