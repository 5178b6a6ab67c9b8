package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"electrumbatch/internal/loop"
	"electrumbatch/internal/workerpool"
)

// Dispatcher schedules the chunks of a finalize
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, reqs []*Request) error
	Name() string
}

// Mode selects a Dispatcher by name
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeThreaded   Mode = "threaded"
	ModeAsync      Mode = "async"
)

// ParseMode parses a dispatcher name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSequential, ModeThreaded, ModeAsync:
		return m, nil
	case "":
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// NewDispatcher creates the Dispatcher for mode
func NewDispatcher(mode Mode, threads, maxInFlight int) Dispatcher {
	switch mode {
	case ModeThreaded:
		return Threaded{Threads: threads}
	case ModeAsync:
		return Async{MaxInFlight: maxInFlight}
	default:
		return Sequential{}
	}
}

// Sequential sends the chunks one after another as a single loop unit
type Sequential struct{}

// Name implements Dispatcher
func (Sequential) Name() string { return string(ModeSequential) }

// Dispatch implements Dispatcher
func (Sequential) Dispatch(ctx context.Context, c *Client, reqs []*Request) error {
	_, err := c.rt.Loop().Run(ctx, func(ctx context.Context) (any, error) {
		return nil, c.finalizeSequential(ctx, reqs)
	})
	return err
}

// Threaded splits the requests into Threads partitions and finalizes each one
// from its own pool worker. Workers hand the network work to the loop and
// wait on it.
type Threaded struct {
	// Threads is the partition count; zero means workerpool.DefaultThreads
	Threads int
}

// Name implements Dispatcher
func (Threaded) Name() string { return string(ModeThreaded) }

// Dispatch implements Dispatcher
func (d Threaded) Dispatch(ctx context.Context, c *Client, reqs []*Request) error {
	threads := d.Threads
	if threads <= 0 {
		threads = workerpool.DefaultThreads()
	}
	parts := Partition(reqs, threads)

	task := func(ctx context.Context, info workerpool.TaskInfo, args workerpool.Args) (any, error) {
		idx, _ := workerpool.Arg[int](args, "partition")
		part := parts[idx]

		c.logger.Debug().
			Str("worker", info.Worker).
			Int("partition", idx).
			Int("size", len(part)).
			Msg("partition started")

		return c.rt.Loop().Run(ctx, func(ctx context.Context) (any, error) {
			return nil, c.finalizeSequential(ctx, part)
		})
	}

	var (
		pool *workerpool.Pool
		ids  []string
	)
	err := workerpool.Run(ctx, workerpool.Config{Threads: len(parts), Logger: c.logger}, func(p *workerpool.Pool) error {
		pool = p
		for i := range parts {
			id, err := p.AddTask(task, workerpool.NewArgs(map[string]any{"partition": i}))
			if err != nil {
				return fmt.Errorf("failed to submit partition %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		res, ok := pool.Result(id)
		if !ok {
			errs = append(errs, fmt.Errorf("task %s recorded no result", id))
			continue
		}
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Async issues every chunk concurrently on the loop without pool workers
type Async struct {
	// MaxInFlight bounds chunks in flight; zero means unbounded
	MaxInFlight int
}

// Name implements Dispatcher
func (Async) Name() string { return string(ModeAsync) }

// Dispatch implements Dispatcher. Every chunk runs regardless of failures in
// the others; their errors are joined.
func (d Async) Dispatch(ctx context.Context, c *Client, reqs []*Request) error {
	var sem *semaphore.Weighted
	if d.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(d.MaxInFlight))
	}

	var (
		futures []*loop.Future
		errs    []error
	)
	for _, chunk := range Chunk(reqs, c.opts.BatchLimit) {
		chunk := chunk
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				errs = append(errs, err)
				break
			}
		}

		f := c.rt.Loop().Go(ctx, func(ctx context.Context) (any, error) {
			return nil, c.runChunk(ctx, chunk)
		})
		if sem != nil {
			go func() {
				<-f.Done()
				sem.Release(1)
			}()
		}
		futures = append(futures, f)
	}

	for _, f := range futures {
		// Units observe ctx themselves; waiting without it keeps every outcome
		if _, err := f.Wait(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
