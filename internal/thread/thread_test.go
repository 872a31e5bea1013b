package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent_StableWithinGoroutine(t *testing.T) {
	assert.Equal(t, Current(), Current())
	assert.NotEqual(t, None, Current())
}

func TestCurrent_DiffersAcrossGoroutines(t *testing.T) {
	here := Current()
	there := make(chan ID)
	go func() { there <- Current() }()
	assert.NotEqual(t, here, <-there)
}

func TestAffinity_BindCurrent(t *testing.T) {
	var a Affinity
	assert.False(t, a.Bound())
	assert.False(t, a.IsCurrent(), "unbound affinity matches nobody")

	id := a.BindCurrent()
	assert.Equal(t, Current(), id)
	assert.True(t, a.IsCurrent())

	other := make(chan bool)
	go func() { other <- a.IsCurrent() }()
	assert.False(t, <-other)

	a.Unbind()
	assert.False(t, a.Bound())
}

func TestID_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "g42", ID(42).String())
}
