// Package loop implements the scheduler that owns the shared network session.
//
// Work reaches the session only as units submitted to a Loop. Worker goroutines
// bridge into it with Run, which blocks on the unit's Future instead of polling.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"electrumbatch/internal/metrics"
)

// ErrLoopStopped is returned for units that could not run because the loop stopped
var ErrLoopStopped = errors.New("loop stopped")

// Unit is a piece of work executed by the loop
type Unit func(ctx context.Context) (any, error)

// Future is the pending outcome of a Unit
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v any, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

// Done is closed once the unit has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the unit finishes or ctx is done
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Config holds loop settings
type Config struct {
	// MaxConcurrent bounds units running at once; zero means unbounded
	MaxConcurrent int
	// QueueSize is the submission buffer
	QueueSize int
}

type submission struct {
	ctx    context.Context
	fn     Unit
	future *Future
}

// Loop accepts units on a single owner goroutine and runs them concurrently
type Loop struct {
	cfg    Config
	sem    *semaphore.Weighted
	units  chan submission
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	running sync.WaitGroup
	ownerWg sync.WaitGroup
}

// New creates a new loop
func New(cfg Config, logger zerolog.Logger) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		cfg:    cfg,
		units:  make(chan submission, cfg.QueueSize),
		logger: logger.With().Str("component", "loop").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return l
}

// Start launches the owner goroutine
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.stopped {
		return
	}
	l.started = true

	l.ownerWg.Add(1)
	go l.run()

	l.logger.Debug().Int("maxConcurrent", l.cfg.MaxConcurrent).Msg("loop started")
}

// Go schedules fn and returns its future. The unit context is cancelled when
// either ctx or the loop is done.
func (l *Loop) Go(ctx context.Context, fn Unit) *Future {
	f := newFuture()

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.stopped {
		f.resolve(nil, ErrLoopStopped)
		return f
	}

	select {
	case l.units <- submission{ctx: ctx, fn: fn, future: f}:
	case <-ctx.Done():
		f.resolve(nil, ctx.Err())
	case <-l.ctx.Done():
		f.resolve(nil, ErrLoopStopped)
	}
	return f
}

// Run schedules fn and blocks until it completes. This is the bridge used by
// pool workers. When ctx ends first Run still waits for the unit to settle, so
// nothing the unit writes outlives the call.
func (l *Loop) Run(ctx context.Context, fn Unit) (any, error) {
	f := l.Go(ctx, fn)
	v, err := f.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return v, err
	}

	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()
	if started {
		// The unit context follows ctx, so this only waits for it to wind down
		<-f.Done()
	}
	return nil, err
}

// Stop cancels running units, fails queued ones with ErrLoopStopped and waits
// for everything to settle.
func (l *Loop) Stop() {
	// Unblocks submitters waiting on a full queue
	l.cancel()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	l.mu.Unlock()

	if started {
		l.ownerWg.Wait()
	}
	l.drain()
	l.running.Wait()

	l.logger.Debug().Msg("loop stopped")
}

func (l *Loop) run() {
	defer l.ownerWg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case s := <-l.units:
			if l.sem != nil {
				if err := l.sem.Acquire(l.ctx, 1); err != nil {
					s.future.resolve(nil, ErrLoopStopped)
					continue
				}
			}
			l.running.Add(1)
			go l.execute(s)
		}
	}
}

func (l *Loop) execute(s submission) {
	defer l.running.Done()
	if l.sem != nil {
		defer l.sem.Release(1)
	}

	metrics.LoopUnitsInFlight.Inc()
	defer metrics.LoopUnitsInFlight.Dec()

	ctx, cancel := context.WithCancel(l.ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.ctx.Err(); err != nil {
		s.future.resolve(nil, err)
		return
	}

	var (
		v   any
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &unitPanic{value: r}
				l.logger.Error().Interface("panic", r).Msg("loop unit panicked")
			}
		}()
		v, err = s.fn(ctx)
	}()

	if err != nil && l.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = errors.Join(ErrLoopStopped, err)
	}
	s.future.resolve(v, err)
}

func (l *Loop) drain() {
	for {
		select {
		case s := <-l.units:
			s.future.resolve(nil, ErrLoopStopped)
		default:
			return
		}
	}
}

type unitPanic struct {
	value any
}

func (p *unitPanic) Error() string {
	return fmt.Sprintf("loop unit panicked: %v", p.value)
}
