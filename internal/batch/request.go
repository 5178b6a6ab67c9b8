package batch

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoResult is returned when a request has no entry in the results table,
// either because finalize has not run or because its chunk failed.
var ErrNoResult = errors.New("no result")

// ValidateFunc checks a raw result at read time
type ValidateFunc func(result json.RawMessage) bool

// Request is one lookup registered with a Client. The result lives in the
// client's results table and is fetched on demand.
type Request struct {
	ID       string
	Method   string
	Params   []any
	Validate ValidateFunc

	client *Client
}

// ValidationError is returned by Result when the validate function rejects the result
type ValidationError struct {
	ID     string
	Method string
	Result json.RawMessage
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s (%s): %s", e.Method, e.ID, truncate(e.Result, 128))
}

// Result returns the raw result. It fails with ErrNoResult when absent, with
// the server's *jsonrpc.Error when the item was answered with an error, and
// with *ValidationError when Validate rejects it.
func (r *Request) Result() (json.RawMessage, error) {
	entry, ok := r.client.results.Load(r.ID)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.ID, ErrNoResult)
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	if r.Validate != nil && !r.Validate(entry.Result) {
		return nil, &ValidationError{ID: r.ID, Method: r.Method, Result: entry.Result}
	}
	return entry.Result, nil
}

// HasResult reports whether a successful entry exists, without validating it
func (r *Request) HasResult() bool {
	entry, ok := r.client.results.Load(r.ID)
	return ok && entry.Err == nil
}

// Decode unmarshals the validated result into v
func (r *Request) Decode(v any) error {
	raw, err := r.Result()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", r.Method, err)
	}
	return nil
}

// Value decodes the result of r into a T
func Value[T any](r *Request) (T, error) {
	var v T
	err := r.Decode(&v)
	return v, err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
