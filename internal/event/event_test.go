package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

func TestEvent_FixedPriorities(t *testing.T) {
	tests := []struct {
		event Event
		want  Priority
	}{
		{Quit(), PriorityCritical},
		{TimerFired(core.Key{Index: 1, Generation: 1}), PriorityHigh},
		{QueuedInvocationReady(1), PriorityHigh},
		{DeferredTaskDue(1), PriorityLow},
		{WakeUp(), PriorityNormal},
		{Custom("resize", nil), PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.event.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Priority())
		})
	}
}

func TestPriority_Ordering(t *testing.T) {
	assert.Less(t, PriorityLow, PriorityNormal)
	assert.Less(t, PriorityNormal, PriorityHigh)
	assert.Less(t, PriorityHigh, PriorityCritical)
}

func TestCustom_KindIsStableHash(t *testing.T) {
	a := Custom("layout-changed", []byte("x"))
	b := Custom("layout-changed", nil)

	assert.Equal(t, a.CustomKind, b.CustomKind)
	assert.Equal(t, CustomKind("layout-changed"), a.CustomKind)
	assert.NotEqual(t, CustomKind("paint"), a.CustomKind)
}

func TestCustom_NormalizesName(t *testing.T) {
	// "é" precomposed vs. "e" + combining acute accent.
	composed := Custom("caf\u00e9", nil)
	decomposed := Custom("cafe\u0301", nil)

	assert.Equal(t, composed.CustomName, decomposed.CustomName)
	assert.Equal(t, composed.CustomKind, decomposed.CustomKind)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "QueuedInvocationReady{invocation=7}", QueuedInvocationReady(7).String())
	assert.Equal(t, "Quit", Quit().String())
	assert.Equal(t, "Custom{name=paint, bytes=2}", Custom("paint", []byte("ab")).String())
}
