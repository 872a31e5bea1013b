package invocation

import (
	"fmt"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// Command is the unit of work carried by a queued invocation.
//
// Commands describe themselves so that pending invocations can be listed,
// logged and journaled without running them.
type Command interface {
	// Run executes the command on the calling goroutine.
	Run()

	// Describe returns a serializable summary of the command.
	Describe() Descriptor
}

// Descriptor is the serializable summary of a Command.
type Descriptor struct {
	Type       string `json:"type"`
	Signal     string `json:"signal,omitempty"`
	Connection string `json:"connection,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Source     string `json:"source,omitempty"`
	TaskID     uint64 `json:"task_id,omitempty"`
	Label      string `json:"label,omitempty"`
}

// Command types reported in Descriptor.Type.
const (
	TypeInvokeSlot = "invoke_slot"
	TypeCallback   = "callback"
	TypeFunc       = "func"
)

// InvokeSlot delivers one signal payload to one connected slot.
type InvokeSlot struct {
	Signal     string
	Connection core.Key
	Payload    any

	// Call invokes the slot with Payload already bound.
	Call func()
}

// Run calls the slot.
func (c InvokeSlot) Run() {
	c.Call()
}

// Describe implements Command.
func (c InvokeSlot) Describe() Descriptor {
	return Descriptor{
		Type:       TypeInvokeSlot,
		Signal:     c.Signal,
		Connection: c.Connection.String(),
		Payload:    fmt.Sprintf("%v", c.Payload),
	}
}

// Callback delivers a background result to the dispatch goroutine.
type Callback struct {
	Source string
	TaskID uint64
	Call   func()
}

// Run calls the callback.
func (c Callback) Run() {
	c.Call()
}

// Describe implements Command.
func (c Callback) Describe() Descriptor {
	return Descriptor{
		Type:   TypeCallback,
		Source: c.Source,
		TaskID: c.TaskID,
	}
}

// Func is a labelled closure.
type Func struct {
	Label string
	Fn    func()
}

// Run calls Fn.
func (c Func) Run() {
	c.Fn()
}

// Describe implements Command.
func (c Func) Describe() Descriptor {
	return Descriptor{Type: TypeFunc, Label: c.Label}
}
