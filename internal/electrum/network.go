package electrum

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"electrumbatch/internal/loop"
	"electrumbatch/internal/session"
)

// ErrSingletonViolation is returned by New while another Network is live
var ErrSingletonViolation = errors.New("a network context is already live")

var (
	liveMu sync.Mutex
	live   *Network
)

// Network owns the one session to the server and the loop that drives it.
// Only one Network may be live per process; it is passed explicitly to the
// batch clients that use it.
type Network struct {
	session session.Session
	loop    *loop.Loop
	logger  zerolog.Logger

	closeOnce sync.Once
}

// New registers a Network. It fails with ErrSingletonViolation until the live one is closed.
func New(sess session.Session, lp *loop.Loop, logger zerolog.Logger) (*Network, error) {
	if sess == nil || lp == nil {
		return nil, errors.New("network requires a session and a loop")
	}

	liveMu.Lock()
	defer liveMu.Unlock()

	if live != nil {
		return nil, ErrSingletonViolation
	}

	n := &Network{
		session: sess,
		loop:    lp,
		logger:  logger.With().Str("component", "network").Logger(),
	}
	live = n
	return n, nil
}

// Current returns the live Network, or nil
func Current() *Network {
	liveMu.Lock()
	defer liveMu.Unlock()
	return live
}

// Start starts the loop and connects the session
func (n *Network) Start(ctx context.Context) error {
	n.loop.Start()
	if err := n.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	n.logger.Info().Msg("network started")
	return nil
}

// Close stops the loop, faulting any in-flight work, then the session, and
// releases the live slot.
func (n *Network) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.loop.Stop()
		err = n.session.Stop()

		liveMu.Lock()
		if live == n {
			live = nil
		}
		liveMu.Unlock()

		n.logger.Info().Msg("network closed")
	})
	return err
}

// Session returns the shared session
func (n *Network) Session() session.Session {
	return n.session
}

// Loop returns the loop that owns the session
func (n *Network) Loop() *loop.Loop {
	return n.loop
}
