// Package threadpool runs background work on a fixed set of worker
// goroutines and hands results back either to a waiting caller or to the
// dispatch goroutine.
//
// Results return through TaskHandle (block, poll or time out) or through
// SpawnWithCallback, which deposits the callback in the dispatcher's
// invocation registry so it runs on the dispatch goroutine like any other
// queued invocation.
package threadpool

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
)

// Config sizes a pool.
type Config struct {
	// Workers is the number of worker goroutines. Zero means runtime.NumCPU().
	Workers int `yaml:"workers"`

	// Name labels the pool in logs and callback descriptors.
	Name string `yaml:"name"`

	// QueueSize is the number of submitted jobs that may wait for a worker.
	// Spawn blocks while the queue is full.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns a pool with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:   runtime.NumCPU(),
		Name:      "lattice-worker",
		QueueSize: 256,
	}
}

// Dispatcher is where SpawnWithCallback delivers results.
// dispatch.Application implements it.
type Dispatcher interface {
	Invocations() *invocation.Registry
	PostEvent(ev event.Event) error
}

// Pool is a fixed-size worker pool.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	cfg  Config
	jobs chan job
	done chan struct{}

	// mu orders submissions against Shutdown. sending counts submitters
	// between the closed check and their send; jobs is closed only after
	// they have all returned.
	mu      sync.Mutex
	closed  bool
	sending sync.WaitGroup

	wg     sync.WaitGroup
	active atomic.Int64
	ids    *core.Sequence
}

type job struct {
	id  uint64
	run func()
}

// New starts a pool. Returns CREATION_FAILED for a negative worker count
// or queue size.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers < 0 {
		return nil, core.NewCreationFailed(fmt.Sprintf("negative worker count %d", cfg.Workers))
	}
	if cfg.QueueSize < 0 {
		return nil, core.NewCreationFailed(fmt.Sprintf("negative queue size %d", cfg.QueueSize))
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}

	p := &Pool{
		cfg:  cfg,
		jobs: make(chan job, cfg.QueueSize),
		done: make(chan struct{}),
		ids:  core.NewSequence(),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	slog.Debug("thread pool started", "pool", cfg.Name, "workers", cfg.Workers)
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// ActiveTasks returns the number of submitted jobs not yet finished.
func (p *Pool) ActiveTasks() int {
	return int(p.active.Load())
}

// Shutdown stops accepting work, lets queued jobs finish and waits for every
// worker to exit. Later calls return immediately.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	// Submitters blocked on a full queue give up once done is closed.
	p.sending.Wait()
	close(p.jobs)

	p.wg.Wait()
	slog.Debug("thread pool stopped", "pool", p.cfg.Name)
}

// submit queues run under a fresh task id. It blocks while the queue is
// full, and fails if the pool shuts down meanwhile. No lock is held while
// blocked, so a job may submit more work during Shutdown.
func (p *Pool) submit(run func(id uint64)) (uint64, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, p.errShutDown()
	}
	p.sending.Add(1)
	p.mu.Unlock()
	defer p.sending.Done()

	id := p.ids.Next()
	p.active.Add(1)
	select {
	case p.jobs <- job{id: id, run: func() { run(id) }}:
		return id, nil
	case <-p.done:
		p.active.Add(-1)
		return 0, p.errShutDown()
	}
}

func (p *Pool) errShutDown() error {
	return fmt.Errorf("pool %s shut down: %w", p.cfg.Name, core.ErrSubmissionFailed)
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.runJob(n, j)
	}
}

func (p *Pool) runJob(n int, j job) {
	defer p.active.Add(-1)
	defer func() {
		// SpawnWithCallback work has no handle to report a panic to.
		if r := recover(); r != nil {
			slog.Error("pool job panicked",
				"pool", p.cfg.Name,
				"worker", n,
				"task_id", j.id,
				"panic", r)
		}
	}()
	j.run()
}
