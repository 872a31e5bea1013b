package signal

import "sync"

// ScopedConnection disconnects its connection when closed.
//
//	conn := sig.ConnectScoped(onChange, signal.Auto)
//	defer conn.Close()
type ScopedConnection struct {
	id     ConnectionID
	target Emitter
	once   sync.Once
}

// ConnectScoped connects slot and returns a guard owning the connection.
func (s *Signal[T]) ConnectScoped(slot func(T), typ ConnectionType, opts ...ConnectOption) *ScopedConnection {
	return &ScopedConnection{
		id:     s.Connect(slot, typ, opts...),
		target: s,
	}
}

// ID returns the guarded connection id.
func (c *ScopedConnection) ID() ConnectionID {
	return c.id
}

// Close disconnects. Later calls do nothing.
func (c *ScopedConnection) Close() {
	c.once.Do(func() {
		_ = c.target.Disconnect(c.id)
	})
}
