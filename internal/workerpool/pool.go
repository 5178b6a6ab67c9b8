package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"electrumbatch/internal/metrics"
)

// ErrPoolClosed is returned by AddTask once Close has been called
var ErrPoolClosed = errors.New("worker pool is closed")

// Config holds worker pool settings
type Config struct {
	// Threads is the number of workers. Zero or negative means NumCPU-1, at least 1.
	Threads int
	Logger  zerolog.Logger
}

// Stats is a point-in-time view of pool counters
type Stats struct {
	Submitted int
	Completed int
	Failed    int
	Pending   int
}

// Pool runs tasks on a fixed set of worker goroutines pulling from a shared queue
type Pool struct {
	threads int
	queue   *queue
	logger  zerolog.Logger

	mu        sync.Mutex
	results   map[string]Result
	submitted int
	failed    int
	started   bool
	closed    bool

	wg sync.WaitGroup
}

// DefaultThreads returns the worker count used when none is configured
func DefaultThreads() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a new worker pool. Workers are not started until Start.
func New(cfg Config) *Pool {
	threads := cfg.Threads
	if threads <= 0 {
		threads = DefaultThreads()
	}

	return &Pool{
		threads: threads,
		queue:   newQueue(),
		results: make(map[string]Result),
		logger:  cfg.Logger.With().Str("component", "workerpool").Logger(),
	}
}

// Run starts a pool, runs body against it and tears the pool down on every exit
// path, waiting for queued tasks to finish.
func Run(ctx context.Context, cfg Config, body func(p *Pool) error) error {
	p := New(cfg)
	p.Start(ctx)
	defer p.Close()

	return body(p)
}

// Threads returns the number of workers
func (p *Pool) Threads() int {
	return p.threads
}

// Start spawns the workers
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.threads; i++ {
		p.wg.Add(1)
		go p.worker(ctx, fmt.Sprintf("worker_#%d", i))
	}

	p.logger.Debug().Int("threads", p.threads).Msg("worker pool started")
}

// AddTask enqueues fn with args and returns the task id. It never blocks.
func (p *Pool) AddTask(fn TaskFunc, args Args) (string, error) {
	if fn == nil {
		return "", errors.New("task function is nil")
	}
	if key, ok := args.reserved(); ok {
		return "", &ReservedKeyError{Key: key}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPoolClosed
	}
	id := uuid.NewString()
	p.submitted++
	p.mu.Unlock()

	p.queue.push(&entry{id: id, fn: fn, args: args})
	return id, nil
}

// Close stops accepting tasks, lets workers drain the queue and waits for them to exit.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}

	for i := 0; i < p.threads; i++ {
		p.queue.push(nil)
	}
	p.wg.Wait()

	stats := p.Stats()
	p.logger.Debug().
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Msg("worker pool stopped")
}

// Result returns the recorded outcome of a task
func (p *Pool) Result(id string) (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.results[id]
	return r, ok
}

// Results returns a snapshot of all recorded outcomes
func (p *Pool) Results() map[string]Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Result, len(p.results))
	for id, r := range p.results {
		out[id] = r
	}
	return out
}

// Stats returns pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Submitted: p.submitted,
		Completed: len(p.results),
		Failed:    p.failed,
		Pending:   p.queue.len(),
	}
}

func (p *Pool) worker(ctx context.Context, name string) {
	defer p.wg.Done()

	done := 0
	for {
		e := p.queue.pop()
		if e == nil {
			p.logger.Debug().Str("worker", name).Int("tasks", done).Msg("worker exiting")
			return
		}

		p.record(p.execute(ctx, name, e))
		done++
	}
}

func (p *Pool) execute(ctx context.Context, name string, e *entry) (res Result) {
	start := time.Now()
	res = Result{TaskID: e.id, Worker: name}

	defer func() {
		if r := recover(); r != nil {
			res.Err = &PanicError{Value: r, Stack: debug.Stack()}
			p.logger.Error().
				Str("worker", name).
				Str("task", e.id).
				Interface("panic", r).
				Msg("task panicked")
		}
		res.Duration = time.Since(start)
	}()

	res.Value, res.Err = e.fn(ctx, TaskInfo{ID: e.id, Worker: name}, e.args)
	return res
}

func (p *Pool) record(res Result) {
	status := "ok"
	if res.Err != nil {
		status = "error"
		var pe *PanicError
		if errors.As(res.Err, &pe) {
			status = "panic"
		}
	}
	metrics.PoolTasksTotal.WithLabelValues(status).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.results[res.TaskID] = res
	if res.Err != nil {
		p.failed++
	}
}
