package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the response result is JSON null
func (r *Response) ResultIsNull() bool {
	if r == nil {
		return true
	}
	if len(r.Result) == 0 {
		return true
	}
	return bytes.Equal(r.Result, []byte("null"))
}

// NewResponseRaw creates a response with raw JSON result
func NewResponseRaw(id ID, result json.RawMessage) *Response {
	return &Response{
		JSONRPC: Version,
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// Message is a decoded inbound frame. Electrum servers interleave replies with
// notifications (blockchain.scripthash.subscribe, blockchain.headers.subscribe)
// on the same connection, so both shapes are decoded together.
type Message struct {
	Response
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message is a server push rather than a reply
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID.IsNull()
}

// ParseMessages decodes a frame holding either a single message or an array of them.
// The boolean reports whether the frame was an array.
func ParseMessages(data []byte) ([]*Message, bool, error) {
	data = trimWhitespace(data)
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] == '[' {
		var messages []*Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, true, err
		}
		return messages, true, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, err
	}
	return []*Message{&msg}, false, nil
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// IsRetryable classifies a JSON-RPC error. Request-shaped errors are final:
// resending the same payload to the same server yields the same answer.
// Server-side load and daemon hiccups are retryable.
func IsRetryable(e *Error) bool {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams, CodeMethodNotFound, CodeBadRequest:
		return false
	case CodeExcessiveUsage, CodeServerBusy, CodeDaemonError:
		return true
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "invalid scripthash"):
		return false
	case strings.Contains(msg, "unknown method"):
		return false
	case strings.Contains(msg, "history too large"):
		return false
	case strings.Contains(msg, "no such mempool or blockchain transaction"):
		return false
	}

	return true
}
