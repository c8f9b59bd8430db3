// Package asynctask implements the cancellable, single-shot task used
// uniformly across the tile pipeline (SPEC_FULL.md §4.1). A Task holds at
// most one pending success or error callback; completion and cancellation
// race exactly once, decided by a single atomic compare-and-swap on the
// task's state word.
package asynctask

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

type state int32

const (
	statePending state = iota
	stateDone
	stateCancelled
)

// Executor dispatches a callback onto some other run loop (an event-loop
// thread, a worker's own goroutine) instead of running it inline. nil
// means "run inline, on the calling goroutine".
type Executor interface {
	Post(fn func())
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(fn func())

// Post implements Executor.
func (f ExecutorFunc) Post(fn func()) { f(fn) }

// Task[T] is a one-shot holder for an on_success(T)/on_error(error) pair.
// The zero value is not usable; construct with New.
type Task[T any] struct {
	state    atomic.Int32
	onOK     func(T)
	onErr    func(error)
	executor Executor
}

// New constructs a pending Task. Either callback may be nil. When exec is
// non-nil, callbacks are dispatched onto it rather than run inline; the
// caller must ensure the value is safe to use after this call returns,
// since the executor may run the callback on another goroutine at a
// later time.
func New[T any](onOK func(T), onErr func(error), exec Executor) *Task[T] {
	return &Task[T]{onOK: onOK, onErr: onErr, executor: exec}
}

// CompleteSuccess transitions pending -> done and invokes on_success
// exactly once. All other states are a no-op.
func (t *Task[T]) CompleteSuccess(value T) {
	if !t.state.CompareAndSwap(int32(statePending), int32(stateDone)) {
		logDroppedCompletion(t.state.Load())
		return
	}
	t.dispatch(func() {
		if t.onOK != nil {
			t.onOK(value)
		}
	})
}

// CompleteError transitions pending -> done and invokes on_error exactly
// once. All other states are a no-op.
func (t *Task[T]) CompleteError(err error) {
	if !t.state.CompareAndSwap(int32(statePending), int32(stateDone)) {
		logDroppedCompletion(t.state.Load())
		return
	}
	t.dispatch(func() {
		if t.onErr != nil {
			t.onErr(err)
		}
	})
}

// Cancel transitions pending -> cancelled; neither callback is ever
// invoked for a cancelled task. If a completion already won the race,
// Cancel is a no-op and the task stays done.
func (t *Task[T]) Cancel() {
	if !t.state.CompareAndSwap(int32(statePending), int32(stateCancelled)) {
		logDroppedCompletion(t.state.Load())
		return
	}
}

// Cancelled reports whether the task reached the cancelled state. Safe to
// call at any time from any goroutine.
func (t *Task[T]) Cancelled() bool {
	return state(t.state.Load()) == stateCancelled
}

// Done reports whether the task completed (success or error), as opposed
// to cancelled or still pending.
func (t *Task[T]) Done() bool {
	return state(t.state.Load()) == stateDone
}

func (t *Task[T]) dispatch(fn func()) {
	if t.executor == nil {
		fn()
		return
	}
	t.executor.Post(fn)
}

func logDroppedCompletion(s int32) {
	log.WithField("state", state(s)).Debug("asynctask: dropped no-op transition")
}

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateDone:
		return "done"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
