package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electrumbatch/internal/jsonrpc"
)

// pipeConn is an in-memory Conn; the test side plays the server
type pipeConn struct {
	toServer chan []byte
	toClient chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toServer: make(chan []byte, 64),
		toClient: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.toServer <- append([]byte(nil), data...):
		return nil
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case data := <-c.toClient:
		return data, nil
	}
}

func (c *pipeConn) SetReadDeadline(time.Time) error { return nil }

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// replyFunc builds the reply for one request; nil means no reply
type replyFunc func(req *jsonrpc.Request) *jsonrpc.Response

// serve answers frames from the client until the conn closes. Batch replies are
// split into single objects and sent in reverse order.
func serve(t *testing.T, c *pipeConn, reply replyFunc) {
	t.Helper()
	go func() {
		for {
			var frame []byte
			select {
			case <-c.closed:
				return
			case frame = <-c.toServer:
			}

			var reqs []*jsonrpc.Request
			if strings.HasPrefix(string(frame), "[") {
				if err := json.Unmarshal(frame, &reqs); err != nil {
					return
				}
			} else {
				var req jsonrpc.Request
				if err := json.Unmarshal(frame, &req); err != nil {
					return
				}
				reqs = []*jsonrpc.Request{&req}
			}

			for i := len(reqs) - 1; i >= 0; i-- {
				resp := reply(reqs[i])
				if resp == nil {
					continue
				}
				data, _ := resp.Bytes()
				select {
				case c.toClient <- data:
				case <-c.closed:
					return
				}
			}
		}
	}()
}

func electrumReply(req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "server.version":
		return jsonrpc.NewResponseRaw(req.ID, json.RawMessage(`["ElectrumX 1.16.0","1.4"]`))
	case "server.ping":
		return jsonrpc.NewResponseRaw(req.ID, json.RawMessage("null"))
	case "blockchain.scripthash.get_balance":
		var params []string
		_ = json.Unmarshal(req.Params, &params)
		if len(params) > 0 && params[0] == "bad" {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeBadRequest, "invalid scripthash"))
		}
		return jsonrpc.NewResponseRaw(req.ID, req.Params)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}
}

func newTestSession(t *testing.T, reply replyFunc, opts Options) (*RPCSession, *pipeConn) {
	t.Helper()
	conn := newPipeConn()
	serve(t, conn, reply)

	opts.Server = "tcp://test:50001"
	opts.Dial = func(context.Context, string) (Conn, error) { return conn, nil }
	s := NewRPCSession(opts, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s, conn
}

func TestStart_Handshake(t *testing.T) {
	s, _ := newTestSession(t, electrumReply, Options{})

	assert.True(t, s.IsConnected())
	assert.Equal(t, "ElectrumX 1.16.0", s.ServerVersion())
}

func TestCommit_CorrelatesOutOfOrderReplies(t *testing.T) {
	s, _ := newTestSession(t, electrumReply, Options{})

	batch := s.SendBatch(true)
	for _, sh := range []string{"a", "b", "c", "d"} {
		batch.AddRequest("blockchain.scripthash.get_balance", []any{sh})
	}
	require.Equal(t, 4, batch.Len())

	responses, err := batch.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 4)

	for i, sh := range []string{"a", "b", "c", "d"} {
		assert.JSONEq(t, `["`+sh+`"]`, string(responses[i].Result), "position %d", i)
	}
	assert.Equal(t, int64(1), s.Stats().Batches)
}

func TestCommit_ItemErrors(t *testing.T) {
	s, _ := newTestSession(t, electrumReply, Options{})

	t.Run("inline without raise", func(t *testing.T) {
		batch := s.SendBatch(false)
		batch.AddRequest("blockchain.scripthash.get_balance", []any{"ok"})
		batch.AddRequest("blockchain.scripthash.get_balance", []any{"bad"})

		responses, err := batch.Commit(context.Background())
		require.NoError(t, err)
		assert.False(t, responses[0].HasError())
		assert.True(t, responses[1].HasError())
	})

	t.Run("batch error with raise", func(t *testing.T) {
		batch := s.SendBatch(true)
		batch.AddRequest("blockchain.scripthash.get_balance", []any{"ok"})
		batch.AddRequest("blockchain.scripthash.get_balance", []any{"bad"})

		_, err := batch.Commit(context.Background())

		var be *BatchError
		require.ErrorAs(t, err, &be)
		require.Len(t, be.Partial, 2)
		assert.NotNil(t, be.Partial[0])

		var ie *ItemError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, 1, ie.Index)
		assert.Equal(t, jsonrpc.CodeBadRequest, ie.Err.Code)
	})
}

func TestCommit_TimeoutKeepsPartial(t *testing.T) {
	reply := func(req *jsonrpc.Request) *jsonrpc.Response {
		if req.Method == "blockchain.scripthash.get_balance" {
			var params []string
			_ = json.Unmarshal(req.Params, &params)
			if params[0] == "slow" {
				return nil
			}
		}
		return electrumReply(req)
	}
	s, _ := newTestSession(t, reply, Options{RequestTimeout: 100 * time.Millisecond})

	batch := s.SendBatch(true)
	batch.AddRequest("blockchain.scripthash.get_balance", []any{"fast1"})
	batch.AddRequest("blockchain.scripthash.get_balance", []any{"slow"})
	batch.AddRequest("blockchain.scripthash.get_balance", []any{"fast2"})

	_, err := batch.Commit(context.Background())

	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotNil(t, be.Partial[0])
	assert.Nil(t, be.Partial[1])
	assert.NotNil(t, be.Partial[2])
	assert.Equal(t, 2, be.Received())
}

func TestCommit_DisconnectFailsPending(t *testing.T) {
	reply := func(req *jsonrpc.Request) *jsonrpc.Response {
		if req.Method == "server.version" {
			return electrumReply(req)
		}
		return nil
	}
	s, conn := newTestSession(t, reply, Options{})

	done := make(chan error, 1)
	go func() {
		batch := s.SendBatch(false)
		batch.AddRequest("blockchain.scripthash.get_balance", []any{"a"})
		_, err := batch.Commit(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending batch was not failed")
	}
	assert.Eventually(t, func() bool { return !s.IsConnected() }, time.Second, 10*time.Millisecond)
}

func TestCommit_CircuitOpen(t *testing.T) {
	s := NewRPCSession(Options{
		Server:  "tcp://test:50001",
		Breaker: BreakerConfig{Enabled: true, FailureThreshold: 2, RecoveryTimeout: time.Hour},
	}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		batch := s.SendBatch(false)
		batch.AddRequest("server.ping", nil)
		_, err := batch.Commit(context.Background())
		require.ErrorIs(t, err, ErrNotConnected)
	}

	batch := s.SendBatch(false)
	batch.AddRequest("server.ping", nil)
	_, err := batch.Commit(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", s.Stats().Breaker)
}

func TestCommit_Empty(t *testing.T) {
	s := NewRPCSession(Options{Server: "tcp://test:50001"}, zerolog.Nop())
	responses, err := s.SendBatch(true).Commit(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, responses)
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs, isBatch, err := jsonrpc.ParseMessages(data)
			if err != nil {
				return
			}

			replies := make([]*jsonrpc.Response, 0, len(msgs))
			for _, m := range msgs {
				replies = append(replies, electrumReply(&jsonrpc.Request{
					JSONRPC: jsonrpc.Version,
					Method:  m.Method,
					Params:  m.Params,
					ID:      m.ID,
				}))
			}

			var out []byte
			if isBatch {
				out, _ = json.Marshal(replies)
			} else {
				out, _ = replies[0].Bytes()
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewRPCSession(Options{Server: "ws" + strings.TrimPrefix(srv.URL, "http")}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	batch := s.SendBatch(true)
	batch.AddRequest("blockchain.scripthash.get_balance", []any{"x"})
	batch.AddRequest("blockchain.scripthash.get_balance", []any{"y"})

	responses, err := batch.Commit(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `["x"]`, string(responses[0].Result))
	assert.JSONEq(t, `["y"]`, string(responses[1].Result))
}

func TestStart_DialError(t *testing.T) {
	errDial := errors.New("refused")
	s := NewRPCSession(Options{
		Server: "tcp://test:50001",
		Dial:   func(context.Context, string) (Conn, error) { return nil, errDial },
	}, zerolog.Nop())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, errDial)
	assert.False(t, s.IsConnected())
}

func TestStop_ClosesConnDialedDuringReconnect(t *testing.T) {
	first := newPipeConn()
	serve(t, first, electrumReply)
	second := newPipeConn()

	redialing := make(chan struct{})
	release := make(chan struct{})
	var dials int
	s := NewRPCSession(Options{
		Server:            "tcp://test:50001",
		ReconnectInterval: time.Millisecond,
		Dial: func(context.Context, string) (Conn, error) {
			dials++
			if dials == 1 {
				return first, nil
			}
			close(redialing)
			<-release
			return second, nil
		},
	}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))

	_ = first.Close()
	select {
	case <-redialing:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not redial")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	require.Eventually(t, func() bool { return s.ctx.Err() != nil }, time.Second, time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	select {
	case <-second.closed:
	default:
		t.Fatal("connection dialed during stop was left open")
	}
	assert.False(t, s.IsConnected())
}
