package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/metrics"
)

// Options holds RPCSession settings
type Options struct {
	Server          string
	ClientName      string
	ProtocolVersion string

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	MessageTimeout    time.Duration
	PingInterval      time.Duration
	ReconnectInterval time.Duration

	Breaker BreakerConfig
	// Dial overrides the default Dialer, mainly for tests
	Dial DialFunc
}

// Stats holds session counters
type Stats struct {
	Requests   int64
	Batches    int64
	Reconnects int64
	Connected  bool
	Breaker    string
}

// RPCSession speaks JSON-RPC 2.0 to one Electrum server over one connection.
// Requests are correlated by numeric id; replies may arrive in any order and
// either as an array or as individual objects.
type RPCSession struct {
	opts    Options
	dial    DialFunc
	breaker *Breaker
	logger  zerolog.Logger

	conn    Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     int64

	requests   atomic.Int64
	batches    atomic.Int64
	reconnects atomic.Int64

	serverVersion atomic.Value

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRPCSession creates a new session. Nothing is dialed until Start.
func NewRPCSession(opts Options, logger zerolog.Logger) *RPCSession {
	if opts.ClientName == "" {
		opts.ClientName = "electrumbatch"
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = "1.4"
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 60 * time.Second
	}

	dial := opts.Dial
	if dial == nil {
		dial = Dialer{HandshakeTimeout: opts.ConnectTimeout, InsecureSkipVerify: true}.Dial
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RPCSession{
		opts:    opts,
		dial:    dial,
		breaker: NewBreaker(opts.Breaker),
		logger:  logger.With().Str("component", "session").Str("server", opts.Server).Logger(),
		pending: make(map[int64]chan *jsonrpc.Response),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start dials the server, starts the reader and negotiates the protocol version
func (s *RPCSession) Start(ctx context.Context) error {
	s.connMu.Lock()
	if s.conn != nil {
		s.connMu.Unlock()
		return nil
	}
	s.connMu.Unlock()

	s.logger.Info().Msg("connecting")

	dialCtx := ctx
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := s.dial(dialCtx, s.opts.Server)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.wg.Add(1)
	go s.readLoop()

	if err := s.handshake(dialCtx); err != nil {
		_ = s.Stop()
		return err
	}

	if s.opts.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop()
	}

	s.logger.Info().Msg("connected")
	return nil
}

// Stop closes the connection and fails any pending request
func (s *RPCSession) Stop() error {
	s.cancel()

	var err error
	s.connMu.Lock()
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.failPending()
	s.wg.Wait()

	s.logger.Info().Msg("disconnected")
	return err
}

// IsConnected returns true if the connection is established
func (s *RPCSession) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// ServerVersion returns the server software reported by the handshake
func (s *RPCSession) ServerVersion() string {
	v, _ := s.serverVersion.Load().(string)
	return v
}

// Stats returns session counters
func (s *RPCSession) Stats() Stats {
	return Stats{
		Requests:   s.requests.Load(),
		Batches:    s.batches.Load(),
		Reconnects: s.reconnects.Load(),
		Connected:  s.IsConnected(),
		Breaker:    s.breaker.State(),
	}
}

// SendBatch opens a new batch on the session
func (s *RPCSession) SendBatch(raiseErrors bool) Batch {
	return &rpcBatch{session: s, raise: raiseErrors}
}

// Call sends a single request and waits for its response
func (s *RPCSession) Call(ctx context.Context, method string, params []any) (*jsonrpc.Response, error) {
	responses, err := s.roundTrip(ctx, []call{{method: method, params: params}}, false)
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

type call struct {
	method string
	params []any
}

type rpcBatch struct {
	session *RPCSession
	raise   bool
	calls   []call
}

func (b *rpcBatch) AddRequest(method string, params []any) {
	b.calls = append(b.calls, call{method: method, params: params})
}

func (b *rpcBatch) Len() int {
	return len(b.calls)
}

func (b *rpcBatch) Commit(ctx context.Context) ([]*jsonrpc.Response, error) {
	if len(b.calls) == 0 {
		return nil, nil
	}

	s := b.session
	if !s.breaker.Allow() {
		metrics.CircuitRejectionsTotal.Inc()
		return nil, &BatchError{Err: ErrCircuitOpen, Partial: make([]*jsonrpc.Response, len(b.calls))}
	}

	responses, err := s.roundTrip(ctx, b.calls, true)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, &BatchError{Err: err, Partial: responses}
	}
	s.breaker.RecordSuccess()

	if b.raise {
		for i, resp := range responses {
			if resp.HasError() {
				return nil, &BatchError{
					Err:     &ItemError{Index: i, Method: b.calls[i].method, Err: resp.Error},
					Partial: responses,
				}
			}
		}
	}
	return responses, nil
}

// roundTrip writes calls as one frame and waits for every reply. On failure
// the returned slice holds the replies that did arrive.
func (s *RPCSession) roundTrip(ctx context.Context, calls []call, asBatch bool) ([]*jsonrpc.Response, error) {
	responses := make([]*jsonrpc.Response, len(calls))

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return responses, ErrNotConnected
	}

	ids := make([]int64, len(calls))
	chans := make([]chan *jsonrpc.Response, len(calls))
	requests := make([]*jsonrpc.Request, len(calls))
	for i, c := range calls {
		ids[i] = atomic.AddInt64(&s.reqID, 1)
		chans[i] = make(chan *jsonrpc.Response, 1)

		req, err := jsonrpc.NewRequest(c.method, c.params, jsonrpc.NewIDInt(ids[i]))
		if err != nil {
			return responses, fmt.Errorf("failed to create request %s: %w", c.method, err)
		}
		requests[i] = req
	}

	var (
		frame []byte
		err   error
	)
	if asBatch {
		frame, err = jsonrpc.MarshalBatch(requests)
	} else {
		frame, err = requests[0].Bytes()
	}
	if err != nil {
		return responses, fmt.Errorf("failed to marshal request: %w", err)
	}

	s.pendingMu.Lock()
	for i, id := range ids {
		s.pending[id] = chans[i]
	}
	s.pendingMu.Unlock()
	defer s.forget(ids)

	s.writeMu.Lock()
	writeErr := conn.WriteMessage(frame)
	s.writeMu.Unlock()
	if writeErr != nil {
		return responses, fmt.Errorf("failed to send request: %w", writeErr)
	}

	s.requests.Add(int64(len(calls)))
	metrics.SessionRequestsTotal.Add(float64(len(calls)))
	if asBatch {
		s.batches.Add(1)
		metrics.SessionFramesTotal.WithLabelValues("batch").Inc()
	} else {
		metrics.SessionFramesTotal.WithLabelValues("single").Inc()
	}

	waitCtx := ctx
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	for i, ch := range chans {
		select {
		case resp := <-ch:
			if resp == nil {
				collect(responses, chans)
				return responses, ErrConnectionLost
			}
			responses[i] = resp
		case <-waitCtx.Done():
			collect(responses, chans)
			return responses, waitCtx.Err()
		case <-s.ctx.Done():
			collect(responses, chans)
			return responses, ErrConnectionLost
		}
	}
	return responses, nil
}

// collect picks up replies that already arrived without blocking
func collect(responses []*jsonrpc.Response, chans []chan *jsonrpc.Response) {
	for i, ch := range chans {
		if responses[i] != nil {
			continue
		}
		select {
		case resp := <-ch:
			responses[i] = resp
		default:
		}
	}
}

func (s *RPCSession) forget(ids []int64) {
	s.pendingMu.Lock()
	for _, id := range ids {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
}

func (s *RPCSession) failPending() {
	s.pendingMu.Lock()
	for _, ch := range s.pending {
		select {
		case ch <- nil:
		default:
		}
	}
	s.pending = make(map[int64]chan *jsonrpc.Response)
	s.pendingMu.Unlock()
}

func (s *RPCSession) handshake(ctx context.Context) error {
	resp, err := s.Call(ctx, "server.version", []any{s.opts.ClientName, s.opts.ProtocolVersion})
	if err != nil {
		return fmt.Errorf("server.version failed: %w", err)
	}
	if resp.HasError() {
		return fmt.Errorf("server.version rejected: %w", resp.Error)
	}

	var version []string
	if err := json.Unmarshal(resp.Result, &version); err == nil && len(version) > 0 {
		s.serverVersion.Store(version[0])
		s.logger.Debug().Strs("version", version).Msg("protocol negotiated")
	}
	return nil
}

func (s *RPCSession) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.IsConnected() {
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			_, err := s.Call(ctx, "server.ping", nil)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

func (s *RPCSession) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.opts.MessageTimeout))
		data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			s.logger.Warn().Err(err).Msg("connection lost")
			if s.reconnect() {
				continue
			}
			return
		}

		s.dispatch(data)
	}
}

func (s *RPCSession) dispatch(data []byte) {
	messages, _, err := jsonrpc.ParseMessages(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("len", len(data)).Msg("message parse error")
		return
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.IsNotification() {
			s.logger.Debug().Str("method", msg.Method).Msg("notification ignored")
			continue
		}

		id, ok := msg.ID.Int64()
		if !ok {
			s.logger.Warn().Str("id", msg.ID.String()).Msg("reply with unknown id")
			continue
		}

		s.pendingMu.Lock()
		ch, exists := s.pending[id]
		if exists {
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()

		if exists {
			resp := msg.Response
			select {
			case ch <- &resp:
			default:
			}
		}
	}
}

// reconnect replaces a dead connection. It returns false when the session is
// shutting down or reconnection is disabled.
func (s *RPCSession) reconnect() bool {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.failPending()

	interval := s.opts.ReconnectInterval
	if interval <= 0 {
		s.logger.Info().Msg("reconnection disabled")
		return false
	}

	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(interval):
		}

		s.logger.Info().Dur("interval", interval).Msg("reconnection attempt")

		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		conn, err := s.dial(ctx, s.opts.Server)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("reconnection failed, will retry")
			continue
		}

		s.connMu.Lock()
		if s.ctx.Err() != nil {
			// Stop ran during the dial
			s.connMu.Unlock()
			conn.Close()
			return false
		}
		s.conn = conn
		s.connMu.Unlock()

		s.reconnects.Add(1)
		metrics.SessionReconnectsTotal.Inc()
		s.logger.Info().Msg("reconnected")

		// The reader must be running before the handshake reply can arrive
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			defer cancel()
			if err := s.handshake(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("handshake after reconnect failed")
			}
		}()
		return true
	}
}
