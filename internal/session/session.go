package session

import (
	"context"
	"errors"
	"fmt"

	"electrumbatch/internal/jsonrpc"
)

var (
	// ErrNotConnected is returned when no connection is established
	ErrNotConnected = errors.New("session not connected")
	// ErrConnectionLost is returned for requests pending when the connection dropped
	ErrConnectionLost = errors.New("connection lost")
	// ErrCircuitOpen is returned while the circuit breaker rejects batches
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Session is the single shared connection to an Electrum server
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	IsConnected() bool
	// SendBatch opens a batch. With raiseErrors set, an error object returned
	// for any item fails Commit with a *BatchError.
	SendBatch(raiseErrors bool) Batch
}

// Batch collects requests and sends them in one round trip on Commit
type Batch interface {
	AddRequest(method string, params []any)
	Len() int
	// Commit returns responses aligned with the added requests
	Commit(ctx context.Context) ([]*jsonrpc.Response, error)
}

// BatchError is returned by Commit when the round trip failed. Partial holds
// whatever arrived, aligned with the added requests; nil entries are absent.
type BatchError struct {
	Err     error
	Partial []*jsonrpc.Response
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed (%d/%d received): %v", e.Received(), len(e.Partial), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Received counts the non-nil partial responses
func (e *BatchError) Received() int {
	n := 0
	for _, r := range e.Partial {
		if r != nil {
			n++
		}
	}
	return n
}

// ItemError reports an error object returned for one item of a batch
type ItemError struct {
	Index  int
	Method string
	Err    *jsonrpc.Error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Method, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
