// Package thread identifies goroutines for connection affinity.
//
// The dispatch core routes Auto connections by comparing the emitting
// goroutine with the goroutine a connection targets, and refuses blocking
// emits from the dispatch goroutine onto itself. Both checks need a stable
// goroutine identity, which Go does not expose; goid reads it from the
// runtime.
package thread

import (
	"strconv"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ID identifies a goroutine. The zero ID matches no goroutine.
type ID int64

// None is the zero ID.
const None ID = 0

// Current returns the ID of the calling goroutine.
func Current() ID {
	return ID(goid.Get())
}

// String renders the id for logs.
func (id ID) String() string {
	if id == None {
		return "none"
	}
	return "g" + strconv.FormatInt(int64(id), 10)
}

// Affinity records which goroutine owns a resource.
//
// The zero Affinity is unbound. Bind is safe to call from any goroutine; the
// last binding wins.
type Affinity struct {
	id atomic.Int64
}

// BindCurrent binds the affinity to the calling goroutine and returns its ID.
func (a *Affinity) BindCurrent() ID {
	id := Current()
	a.id.Store(int64(id))
	return id
}

// Bind binds the affinity to id.
func (a *Affinity) Bind(id ID) {
	a.id.Store(int64(id))
}

// Unbind clears the binding.
func (a *Affinity) Unbind() {
	a.id.Store(int64(None))
}

// Owner returns the bound goroutine, or None.
func (a *Affinity) Owner() ID {
	return ID(a.id.Load())
}

// Bound reports whether an owner is recorded.
func (a *Affinity) Bound() bool {
	return a.Owner() != None
}

// IsCurrent reports whether the calling goroutine is the bound owner.
func (a *Affinity) IsCurrent() bool {
	owner := a.Owner()
	return owner != None && owner == Current()
}
