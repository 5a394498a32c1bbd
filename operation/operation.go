// Package operation implements the state machines that drive a single
// MySQL protocol exchange — connect, query, multi-query, reset, change-user —
// to completion, per spec.md §2–§3. Each concrete operation polls a
// protocol.Handler and waits on its protocol.Handle's readiness channel
// between polls, the Go analogue of the reactor repeatedly invoking
// actualize() on a socket event. Advance performs one nonblocking step for
// the reactor in package client; Run drives the whole exchange and blocks
// the calling goroutine until it completes.
package operation

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fyerfyer/mysql-async-client/mysqlerr"
)

var errCancelled error = &mysqlerr.Cancelled{}

// State is an Operation's position in the spec.md §2 state machine:
// Unstarted -> Pending -> [Cancelling] -> Completed.
type State int32

const (
	StateUnstarted State = iota
	StatePending
	StateCancelling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StatePending:
		return "pending"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Operation is satisfied by every concrete operation in this package.
type Operation interface {
	ID() string
	State() State
	Done() <-chan struct{}
	Err() error
	// Cancel requests early termination. It is idempotent and safe to call
	// from any goroutine, any number of times, before or after completion.
	Cancel() bool
}

// base implements the bookkeeping shared by every concrete operation:
// state transitions, the terminal-callback-exactly-once done channel, and
// cancel idempotence. Concrete operations embed it and supply their own
// driving loop.
type base struct {
	mu              sync.Mutex
	state           State
	err             error
	done            chan struct{}
	cancelRequested atomic.Bool
	id              string
}

func newBase() base {
	return base{state: StateUnstarted, done: make(chan struct{}), id: uuid.New().String()}
}

func (b *base) ID() string { return b.id }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Done() <-chan struct{} { return b.done }

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Cancel marks the operation for cancellation. An Unstarted operation is
// finished immediately; a Pending one is flagged and finishes on its next
// poll; a Completed one is left untouched. Every case returns true except
// a no-op on an already-completed operation, matching spec.md §2's
// idempotence requirement.
func (b *base) Cancel() bool {
	b.mu.Lock()
	if b.state == StateCompleted {
		b.mu.Unlock()
		return false
	}
	wasUnstarted := b.state == StateUnstarted
	if b.state == StatePending {
		b.state = StateCancelling
	}
	b.mu.Unlock()

	b.cancelRequested.Store(true)
	if wasUnstarted {
		return b.finish(errCancelled)
	}
	return true
}

// start transitions Unstarted -> Pending, or reports false if the operation
// was cancelled before it ever started, or was already started.
func (b *base) start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateUnstarted {
		return false
	}
	b.state = StatePending
	return true
}

func (b *base) cancelled() bool { return b.cancelRequested.Load() }

// finish transitions to Completed exactly once, recording err (nil on
// success) and closing done. Returns false if already completed.
func (b *base) finish(err error) bool {
	b.mu.Lock()
	if b.state == StateCompleted {
		b.mu.Unlock()
		return false
	}
	b.state = StateCompleted
	b.err = err
	b.mu.Unlock()
	close(b.done)
	return true
}
