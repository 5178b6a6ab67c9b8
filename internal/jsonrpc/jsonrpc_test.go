package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_NilParamsEncodeAsEmptyArray(t *testing.T) {
	req, err := NewRequest("server.ping", nil, NewIDInt(7))
	require.NoError(t, err)

	data, err := req.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"server.ping","params":[],"id":7}`, string(data))
}

func TestNewRequest_RequiresMethod(t *testing.T) {
	_, err := NewRequest("", []any{"aa"}, NewIDInt(1))
	assert.Error(t, err)
}

func TestMarshalBatch(t *testing.T) {
	r1, _ := NewRequest("blockchain.scripthash.get_balance", []any{"aa"}, NewIDInt(1))
	r2, _ := NewRequest("blockchain.scripthash.get_balance", []any{"bb"}, NewIDInt(2))

	data, err := MarshalBatch([]*Request{r1, r2})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, float64(1), decoded[0]["id"])
	assert.Equal(t, float64(2), decoded[1]["id"])

	_, err = MarshalBatch(nil)
	assert.Error(t, err)
}

func TestParseMessages(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		msgs, isBatch, err := ParseMessages([]byte(` [{"jsonrpc":"2.0","id":2,"result":1},{"jsonrpc":"2.0","id":1,"error":{"code":1,"message":"bad"}}]`))
		require.NoError(t, err)
		assert.True(t, isBatch)
		require.Len(t, msgs, 2)

		id, ok := msgs[0].ID.Int64()
		require.True(t, ok)
		assert.Equal(t, int64(2), id)
		assert.True(t, msgs[1].HasError())
		assert.Equal(t, CodeBadRequest, msgs[1].Error.Code)
	})

	t.Run("notification", func(t *testing.T) {
		msgs, isBatch, err := ParseMessages([]byte(`{"jsonrpc":"2.0","method":"blockchain.scripthash.subscribe","params":["aa","bb"]}`))
		require.NoError(t, err)
		assert.False(t, isBatch)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].IsNotification())
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := ParseMessages([]byte("  \n"))
		assert.Error(t, err)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"bad request", NewError(CodeBadRequest, "bad request"), false},
		{"invalid params", ErrInvalidParams, false},
		{"daemon error", NewError(CodeDaemonError, "daemon error: timeout"), true},
		{"server busy", NewError(CodeServerBusy, "server busy"), true},
		{"invalid scripthash message", NewError(CodeServerError, "Invalid scripthash: zz"), false},
		{"unknown server error", NewError(CodeServerError, "something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestResponse_ResultIsNull(t *testing.T) {
	assert.True(t, NewResponseRaw(NewIDInt(1), json.RawMessage("null")).ResultIsNull())
	assert.True(t, NewResponseRaw(NewIDInt(1), nil).ResultIsNull())
	assert.False(t, NewResponseRaw(NewIDInt(1), json.RawMessage(`{"confirmed":1}`)).ResultIsNull())
}
