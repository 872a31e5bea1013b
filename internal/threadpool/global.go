package threadpool

import (
	"fmt"
	"sync"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

var (
	globalMu   sync.Mutex
	globalPool *Pool
)

// InitGlobal creates the process-wide pool. It may succeed once; later calls,
// or a call after Global created the default pool, return ALREADY_INITIALIZED.
func InitGlobal(cfg Config) (*Pool, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		return nil, core.NewAlreadyInitialized("global thread pool")
	}
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	globalPool = p
	return p, nil
}

// Global returns the process-wide pool, creating it with DefaultConfig on
// first use. It panics if that pool cannot be created.
func Global() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool == nil {
		p, err := New(DefaultConfig())
		if err != nil {
			panic(fmt.Sprintf("threadpool: create global pool: %v", err))
		}
		globalPool = p
	}
	return globalPool
}
