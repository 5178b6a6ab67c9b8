package workerpool

import (
	"context"
	"fmt"
	"time"
)

// Reserved argument keys. The pool supplies these to every task through
// TaskInfo, so callers cannot pass them as ordinary arguments.
const (
	KeyTaskID     = "task_id"
	KeyThreadName = "thread_name"
	KeyFunc       = "func"
)

var reservedKeys = []string{KeyTaskID, KeyThreadName, KeyFunc}

// TaskInfo is the pool-supplied context for a running task
type TaskInfo struct {
	ID     string
	Worker string
}

// TaskFunc is a unit of work executed by a pool worker
type TaskFunc func(ctx context.Context, info TaskInfo, args Args) (any, error)

// Args is an immutable set of named task arguments
type Args struct {
	values map[string]any
}

// NewArgs copies m into a new Args
func NewArgs(m map[string]any) Args {
	values := make(map[string]any, len(m))
	for k, v := range m {
		values[k] = v
	}
	return Args{values: values}
}

// Get returns the argument stored under key
func (a Args) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Len returns the number of arguments
func (a Args) Len() int {
	return len(a.values)
}

// Arg returns the argument stored under key converted to T
func Arg[T any](a Args, key string) (T, bool) {
	var zero T
	v, ok := a.values[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (a Args) reserved() (string, bool) {
	for _, k := range reservedKeys {
		if _, ok := a.values[k]; ok {
			return k, true
		}
	}
	return "", false
}

// ReservedKeyError is returned by AddTask when the arguments use a key the pool supplies itself
type ReservedKeyError struct {
	Key string
}

func (e *ReservedKeyError) Error() string {
	return fmt.Sprintf("argument key %q is reserved by the worker pool", e.Key)
}

// PanicError wraps a value recovered from a panicking task
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Result is the recorded outcome of one task
type Result struct {
	TaskID   string
	Worker   string
	Value    any
	Err      error
	Duration time.Duration
}

type entry struct {
	id   string
	fn   TaskFunc
	args Args
}
