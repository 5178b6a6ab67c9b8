package electrum

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electrumbatch/internal/loop"
	"electrumbatch/internal/session"
)

type nopSession struct {
	started bool
	stopped bool
}

func (s *nopSession) Start(context.Context) error { s.started = true; return nil }
func (s *nopSession) Stop() error                 { s.stopped = true; return nil }
func (s *nopSession) IsConnected() bool           { return s.started && !s.stopped }
func (s *nopSession) SendBatch(bool) session.Batch {
	return nil
}

func TestNew_SingleLiveInstance(t *testing.T) {
	sess := &nopSession{}
	first, err := New(sess, loop.New(loop.Config{}, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	assert.Same(t, first, Current())

	_, err = New(&nopSession{}, loop.New(loop.Config{}, zerolog.Nop()), zerolog.Nop())
	assert.ErrorIs(t, err, ErrSingletonViolation)
	assert.Same(t, first, Current())

	require.NoError(t, first.Start(context.Background()))
	assert.True(t, sess.IsConnected())

	require.NoError(t, first.Close())
	assert.True(t, sess.stopped)
	assert.Nil(t, Current())

	second, err := New(&nopSession{}, loop.New(loop.Config{}, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, second.Close())
	require.NoError(t, second.Close())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, loop.New(loop.Config{}, zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, Current())
}

func TestScriptHash(t *testing.T) {
	script, err := hex.DecodeString("76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac")
	require.NoError(t, err)
	assert.Equal(t, "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161", ScriptHash(script))
}

func TestScriptHashFromAddress(t *testing.T) {
	tests := []struct {
		addr   string
		script string
		hash   string
	}{
		{
			addr:   "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
			script: "76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac",
			hash:   "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161",
		},
		{
			addr:   "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy",
			script: "a914b472a266d0bd89c13706a4132ccfb16f7c3b9fcb87",
			hash:   "abe51e78fc13a23889f49922cb5917b9c5f2a8f66122aea0d728524f1493d133",
		},
		{
			addr:   "BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4",
			script: "0014751e76e8199196d454941c45d1b3a323f1433bd6",
			hash:   "9623df75239b5daa7f5f03042d325b51498c4bb7059c7748b17049bf96f73888",
		},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			script, err := ScriptFromAddress(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.script, hex.EncodeToString(script))

			hash, err := ScriptHashFromAddress(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.hash, hash)
			assert.True(t, IsScriptHash(hash))
		})
	}
}

func TestScriptHashFromAddress_Invalid(t *testing.T) {
	for _, addr := range []string{"", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", "bc1qinvalid"} {
		_, err := ScriptHashFromAddress(addr)
		assert.Error(t, err, addr)
	}
	assert.False(t, IsScriptHash("zz"))
}
