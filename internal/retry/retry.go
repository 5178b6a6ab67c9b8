// Package retry decides whether and when a failed chunk is resubmitted.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/metrics"
	"electrumbatch/internal/session"
)

// Policy runs op until it succeeds or the policy gives up
type Policy interface {
	Do(ctx context.Context, op func() error) error
}

// None runs op exactly once
type None struct{}

// Do implements Policy
func (None) Do(_ context.Context, op func() error) error {
	return op()
}

// Config holds backoff settings
type Config struct {
	// MaxAttempts includes the first attempt
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig returns the default backoff settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Backoff retries transient failures with exponential backoff
type Backoff struct {
	cfg    Config
	logger zerolog.Logger
}

// NewBackoff creates a new Backoff policy
func NewBackoff(cfg Config, logger zerolog.Logger) *Backoff {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &Backoff{
		cfg:    cfg,
		logger: logger.With().Str("component", "retry").Logger(),
	}
}

// Do implements Policy. Errors that Retryable rejects end the loop at once.
func (p *Backoff) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval
	b.Multiplier = p.cfg.Multiplier
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.RetriesTotal.Inc()
		p.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", p.cfg.MaxAttempts).
			Dur("backoff", wait).
			Msg("chunk failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(wrapped, policy, notify)
}

// Retryable reports whether resubmitting after err may succeed
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, session.ErrCircuitOpen) {
		return false
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return jsonrpc.IsRetryable(rpcErr)
	}

	// transport failures
	return true
}
