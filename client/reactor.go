package client

import (
	"context"
	"sync"
	"time"

	"github.com/fyerfyer/mysql-async-client/operation"
)

// advancer is the narrow surface the reactor needs from a tracked Operation
// to drive it forward one nonblocking step at a time.
type advancer interface {
	operation.Operation
	Advance(ctx context.Context) <-chan struct{}
}

// deadliner is implemented by every advancer that carries its own per-call
// timeout; the reactor consults it so a watcher wakes the op on timeout even
// when the handle's readiness channel never fires.
type deadliner interface {
	Deadline() time.Time
}

type reactorEntry struct {
	ctx context.Context
	op  advancer
}

// socketHandler is the single reactor goroutine of spec.md §4.1: every
// protocol.Handler call made on behalf of a tracked Operation happens here,
// one Advance step at a time, so no two goroutines ever touch the same
// native handle concurrently. Everything else — BeginConnection, Query,
// Shutdown — only ever talks to an Operation through this type's register
// method and the Operation's own Done/Err/Cancel, never by calling Advance
// itself.
type socketHandler struct {
	submitCh chan *reactorEntry
	readyCh  chan string
	stopCh   chan struct{}

	mu      sync.Mutex
	entries map[string]*reactorEntry
}

func newSocketHandler(stopCh chan struct{}) *socketHandler {
	h := &socketHandler{
		submitCh: make(chan *reactorEntry, 256),
		readyCh:  make(chan string, 256),
		stopCh:   stopCh,
		entries:  make(map[string]*reactorEntry),
	}
	go h.run()
	return h
}

func (h *socketHandler) run() {
	for {
		select {
		case e := <-h.submitCh:
			h.mu.Lock()
			h.entries[e.op.ID()] = e
			h.mu.Unlock()
			h.step(e)
		case id := <-h.readyCh:
			h.mu.Lock()
			e := h.entries[id]
			h.mu.Unlock()
			if e != nil {
				h.step(e)
			}
		case <-h.stopCh:
			return
		}
	}
}

// step calls Advance exactly once. A non-nil result means the Operation is
// still waiting on something; step arms a watcher goroutine that does
// nothing but forward that wait back onto readyCh, so the next Advance call
// for this Operation still happens right here on the reactor goroutine.
func (h *socketHandler) step(e *reactorEntry) {
	wait := e.op.Advance(e.ctx)
	if wait == nil {
		h.mu.Lock()
		delete(h.entries, e.op.ID())
		h.mu.Unlock()
		return
	}

	var deadline time.Time
	if d, ok := e.op.(deadliner); ok {
		deadline = d.Deadline()
	}
	go watchReady(e.op.ID(), wait, e.ctx, deadline, h.readyCh, h.stopCh)
}

// register hands op to the reactor to drive via Advance until it reaches
// StateCompleted, observable through op.Done(). It returns false only once
// the reactor itself has stopped, in which case the caller is responsible
// for finishing op (normally via op.Cancel()).
func (h *socketHandler) register(ctx context.Context, op advancer) bool {
	select {
	case h.submitCh <- &reactorEntry{ctx: ctx, op: op}:
		return true
	case <-h.stopCh:
		return false
	}
}

// watchReady blocks until wait fires, ctx is done, deadline passes, or the
// reactor stops, then reports id back on ready so the reactor can call
// Advance again. This is the only work done off the reactor goroutine on an
// Operation's behalf, and it never touches the Operation or its protocol
// handle directly.
func watchReady(id string, wait <-chan struct{}, ctx context.Context, deadline time.Time, ready chan<- string, stopCh <-chan struct{}) {
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-wait:
	case <-ctx.Done():
	case <-timerC:
	case <-stopCh:
		return
	}

	select {
	case ready <- id:
	case <-stopCh:
	}
}
