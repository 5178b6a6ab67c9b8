// Package batch accumulates Electrum requests, splits them into wire-sized
// chunks and fills a shared results table from the replies.
//
// A Client moves through four states. Requests may be added while it is
// created or accumulating; Finalize moves it to finalizing and then to done,
// after which nothing can be added and Finalize cannot be repeated. How the
// chunks are scheduled is up to the Dispatcher: Sequential runs them one after
// another, Threaded spreads partitions over a worker pool and Async issues
// them all at once on the loop.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/loop"
	"electrumbatch/internal/metrics"
	"electrumbatch/internal/retry"
	"electrumbatch/internal/session"
)

// DefaultBatchLimit is the chunk size used when none is configured
const DefaultBatchLimit = 50

// progressEvery is how often completed requests are logged
const progressEvery = 1000

var (
	// ErrClientClosed is returned by AddRequest once finalize has started
	ErrClientClosed = errors.New("batch client no longer accepts requests")
	// ErrFinalized is returned by a second Finalize
	ErrFinalized = errors.New("batch client already finalized")
	// ErrTooManyRequests is returned by AddRequest when MaxPending is reached
	ErrTooManyRequests = errors.New("too many pending requests")
	// ErrResponseMismatch is returned when a chunk reply has the wrong length
	ErrResponseMismatch = errors.New("response count does not match chunk size")
)

// State is the lifecycle position of a Client
type State int32

const (
	StateCreated State = iota
	StateAccumulating
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAccumulating:
		return "accumulating"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BatchFailure reports a chunk whose round trip failed
type BatchFailure struct {
	Chunk int
	Size  int
	Err   error
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("chunk %d (%d requests) failed: %v", e.Chunk, e.Size, e.Err)
}

func (e *BatchFailure) Unwrap() error {
	return e.Err
}

// Runtime provides the shared session and the loop that owns it
type Runtime interface {
	Session() session.Session
	Loop() *loop.Loop
}

// Options holds client settings
type Options struct {
	// BatchLimit is the maximum number of requests per chunk
	BatchLimit int
	// RaiseError makes Finalize return chunk failures instead of logging them
	RaiseError bool
	// MaxPending caps accumulated requests; zero means unlimited
	MaxPending int
	// Retry is applied to each chunk; nil means no retries
	Retry retry.Policy
	// Dispatcher schedules the chunks; nil means Sequential
	Dispatcher Dispatcher
}

// Client batches requests over a Runtime's session
type Client struct {
	rt      Runtime
	opts    Options
	results *Results
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	pending  []*Request
	failures []*BatchFailure

	completed atomic.Int64
	chunkSeq  atomic.Int64
}

// New creates a new Client
func New(rt Runtime, opts Options, logger zerolog.Logger) *Client {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	if opts.Retry == nil {
		opts.Retry = retry.None{}
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = Sequential{}
	}

	return &Client{
		rt:      rt,
		opts:    opts,
		results: NewResults(),
		logger: logger.With().
			Str("component", "batch").
			Str("dispatcher", opts.Dispatcher.Name()).
			Logger(),
	}
}

// Do runs fn and finalizes the client afterwards on every exit path. Errors
// from fn and from Finalize are joined.
func (c *Client) Do(ctx context.Context, fn func(c *Client) error) (err error) {
	defer func() {
		err = errors.Join(err, c.Finalize(ctx))
	}()
	return fn(c)
}

// AddRequest registers a request. validate may be nil.
func (c *Client) AddRequest(method string, params []any, validate ValidateFunc) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateCreated:
		c.state = StateAccumulating
	case StateAccumulating:
	default:
		return nil, ErrClientClosed
	}

	if c.opts.MaxPending > 0 && len(c.pending) >= c.opts.MaxPending {
		return nil, ErrTooManyRequests
	}

	if params == nil {
		params = []any{}
	}
	req := &Request{
		ID:       uuid.NewString(),
		Method:   method,
		Params:   params,
		Validate: validate,
		client:   c,
	}
	c.pending = append(c.pending, req)
	return req, nil
}

// Finalize sends every pending request and fills the results table
func (c *Client) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateFinalizing || c.state == StateDone {
		c.mu.Unlock()
		return ErrFinalized
	}
	c.state = StateFinalizing
	pending := c.pending
	c.mu.Unlock()

	start := time.Now()
	c.logger.Info().
		Int("requests", len(pending)).
		Int("batchLimit", c.opts.BatchLimit).
		Msg("finalizing")

	var err error
	if len(pending) > 0 {
		err = c.opts.Dispatcher.Dispatch(ctx, c, pending)
	}

	c.mu.Lock()
	c.state = StateDone
	failed := len(c.failures)
	c.mu.Unlock()

	event := c.logger.Info()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.
		Int("requests", len(pending)).
		Int("completed", c.results.Len()).
		Int("failedChunks", failed).
		Dur("duration", time.Since(start)).
		Msg("finalized")

	return err
}

// State returns the lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the registered requests in insertion order
func (c *Client) Pending() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Request, len(c.pending))
	copy(out, c.pending)
	return out
}

// Results returns the shared results table
func (c *Client) Results() *Results {
	return c.results
}

// Failures returns every chunk failure recorded so far
func (c *Client) Failures() []*BatchFailure {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*BatchFailure, len(c.failures))
	copy(out, c.failures)
	return out
}

// finalizeSequential runs the chunks of reqs one after another. With
// RaiseError it stops at the first failure.
func (c *Client) finalizeSequential(ctx context.Context, reqs []*Request) error {
	for _, chunk := range Chunk(reqs, c.opts.BatchLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// runChunk sends one chunk in a single round trip and stores the replies
// positionally. It returns an error only when RaiseError is set.
func (c *Client) runChunk(ctx context.Context, chunk []*Request) error {
	seq := int(c.chunkSeq.Add(1) - 1)
	start := time.Now()

	var (
		responses []*jsonrpc.Response
		lastErr   error
	)
	err := c.opts.Retry.Do(ctx, func() error {
		b := c.rt.Session().SendBatch(c.opts.RaiseError)
		for _, r := range chunk {
			b.AddRequest(r.Method, r.Params)
		}

		resp, err := b.Commit(ctx)
		if err != nil {
			lastErr = err
			return err
		}
		if len(resp) != len(chunk) {
			lastErr = &session.BatchError{Err: ErrResponseMismatch}
			return lastErr
		}
		responses = resp
		return nil
	})
	metrics.ChunkDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.ChunksTotal.WithLabelValues("ok").Inc()
		c.store(chunk, responses)
		return nil
	}
	metrics.ChunksTotal.WithLabelValues("failed").Inc()

	failure := &BatchFailure{Chunk: seq, Size: len(chunk), Err: err}
	c.mu.Lock()
	c.failures = append(c.failures, failure)
	c.mu.Unlock()

	if !c.opts.RaiseError {
		c.logger.Warn().
			Err(err).
			Int("chunk", seq).
			Int("size", len(chunk)).
			Msg("chunk failed, skipping")
		return nil
	}

	// Keep whatever the server did answer before the failure
	var be *session.BatchError
	if errors.As(lastErr, &be) {
		c.store(chunk, be.Partial)
	}
	return failure
}

func (c *Client) store(chunk []*Request, responses []*jsonrpc.Response) {
	for i, resp := range responses {
		if i >= len(chunk) {
			break
		}
		if resp == nil {
			continue
		}
		if !c.results.Store(chunk[i].ID, Entry{Result: resp.Result, Err: resp.Error}) {
			c.logger.Warn().Str("id", chunk[i].ID).Msg("duplicate result ignored")
			continue
		}

		metrics.RequestsCompleted.Inc()
		if n := c.completed.Add(1); n%progressEvery == 0 {
			c.logger.Info().Int64("completed", n).Msg("progress")
		}
	}
}
