package signal

import (
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/thread"
)

// ConnectionID identifies one connection. It is invalid after Disconnect and
// never aliases a later connection.
type ConnectionID = core.Key

// ConnectionType selects how an emission reaches a slot.
type ConnectionType int

const (
	// Auto calls the slot inline when the emitting goroutine is the
	// connection's target goroutine and queues it otherwise.
	Auto ConnectionType = iota

	// Direct always calls the slot inline on the emitting goroutine.
	Direct

	// Queued always defers the call to the dispatch goroutine.
	Queued

	// Blocking defers the call to the dispatch goroutine and blocks the
	// emitter until the slot has returned.
	//
	// Emitting into a Blocking connection from the dispatch goroutine itself
	// would wait on work only that goroutine can do. Emit panics in that case.
	Blocking
)

// String returns the connection type name.
func (t ConnectionType) String() string {
	switch t {
	case Direct:
		return "Direct"
	case Queued:
		return "Queued"
	case Blocking:
		return "Blocking"
	default:
		return "Auto"
	}
}

// ParseConnectionType maps a name produced by String back to its type.
func ParseConnectionType(s string) (ConnectionType, bool) {
	for _, t := range []ConnectionType{Auto, Direct, Queued, Blocking} {
		if t.String() == s {
			return t, true
		}
	}
	return Auto, false
}

type connection[T any] struct {
	slot    func(T)
	typ     ConnectionType
	target  thread.ID
	timeout time.Duration
	enabled bool
}

// ConnectOption customizes a connection.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	target    thread.ID
	hasTarget bool
	timeout   time.Duration
}

// WithThread sets the goroutine an Auto connection treats as local.
// The default is the goroutine that called Connect.
func WithThread(id thread.ID) ConnectOption {
	return func(c *connectConfig) {
		c.target = id
		c.hasTarget = true
	}
}

// WithTimeout bounds how long a Blocking emission waits for this slot.
// Zero waits until the slot runs or its invocation is discarded.
func WithTimeout(d time.Duration) ConnectOption {
	return func(c *connectConfig) {
		c.timeout = d
	}
}
