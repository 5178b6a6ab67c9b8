package session

import (
	"sync"
	"time"
)

type cbState int

const (
	cbClosed cbState = iota
	cbOpen
	cbHalfOpen
)

func (s cbState) String() string {
	switch s {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// Breaker fails batches fast after consecutive transport failures
type Breaker struct {
	cfg              BreakerConfig
	state            cbState
	failures         int
	// half-open probes let through and probes that succeeded
	halfOpenAdmitted int
	halfOpenSuccess  int
	lastFailureAt    time.Time
	now              func() time.Time
	mu               sync.Mutex
}

// NewBreaker creates a new Breaker
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &Breaker{
		cfg:   cfg,
		state: cbClosed,
		now:   time.Now,
	}
}

// Allow returns true if a batch may be sent
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbHalfOpen:
		if b.halfOpenAdmitted >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.halfOpenAdmitted++
		return true
	case cbOpen:
		if b.now().Sub(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
			b.state = cbHalfOpen
			b.halfOpenAdmitted = 1
			b.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a completed round trip
func (b *Breaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case cbHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxRequests {
			b.state = cbClosed
			b.failures = 0
		}
	case cbClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed round trip
func (b *Breaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case cbClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = cbOpen
		}
	case cbHalfOpen:
		b.state = cbOpen
		b.halfOpenAdmitted = 0
		b.halfOpenSuccess = 0
	}
}

// State returns the current state name
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}
