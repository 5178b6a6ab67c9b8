package session

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServer(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "188.230.155.0:50001:t", want: "tcp://188.230.155.0:50001"},
		{in: "electrum.example.org:50002:s", want: "ssl://electrum.example.org:50002"},
		{in: "ssl://electrum.example.org:50002", want: "ssl://electrum.example.org:50002"},
		{in: "wss://electrum.example.org:50004", want: "wss://electrum.example.org:50004"},
		{in: "electrum.example.org:50001:x", wantErr: true},
		{in: "electrum.example.org:50001", wantErr: true},
		{in: "http://electrum.example.org", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseServer(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestLineConn_Framing(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := newLineConn(client)

	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadBytes('\n')
		// echo back with a blank keepalive line in front
		_, _ = server.Write([]byte("\n"))
		_, _ = server.Write(line)
	}()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, c.WriteMessage([]byte(`{"id":1}`)))

	data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(data))
}

func TestBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 2, RecoveryTimeout: time.Minute})
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())
	assert.Equal(t, "open", b.State())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, "half-open", b.State())

	b.RecordSuccess()
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenBoundsProbes(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 2})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	require.False(t, b.Allow())

	now = now.Add(time.Minute)
	// concurrent chunks arrive before any probe has completed
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
	assert.Equal(t, "half-open", b.State())

	b.RecordFailure()
	assert.Equal(t, "open", b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, "closed", b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.Allow())
}
