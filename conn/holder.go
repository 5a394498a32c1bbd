package conn

import (
	"sync"

	"github.com/fyerfyer/mysql-async-client/protocol"
)

// Holder exclusively owns one native protocol handle and the Key it was
// opened with, per spec.md §3. It carries the two hygiene flags spec.md
// names: Reusable and NeedsResetBeforeReuse.
//
// A Holder is moved between exactly one of {a *Connection, an Operation via
// conn.NewOwnedProxy, a DyingCallback} at a time; this repo enforces "moved" by
// convention (the field is nilled out on transfer) rather than with a
// linear-type checker, matching how the teacher's pooledConnection hands raw
// Connection values between the pool and its callers.
type Holder struct {
	mu sync.Mutex

	Key    Key
	Handle protocol.Handle

	Reusable              bool
	NeedsResetBeforeReuse bool

	stolen bool
}

// NewHolder wraps a freshly connected native handle.
func NewHolder(key Key, handle protocol.Handle) *Holder {
	return &Holder{Key: key, Handle: handle, Reusable: true}
}

// Steal takes exclusive ownership of the handle out of this Holder, leaving
// it inert. A query issued through a Connection whose Holder has been
// stolen must fail with mysqlerr.InvalidConnection (spec.md §8 boundary
// behaviors); Stolen reports whether that has happened.
func (h *Holder) Steal() protocol.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := h.Handle
	h.Handle = nil
	h.stolen = true
	return handle
}

// Stolen reports whether Steal has already been called.
func (h *Holder) Stolen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stolen
}

// Close releases the native handle. Safe to call on an already-stolen
// Holder (a no-op in that case).
func (h *Holder) Close() error {
	h.mu.Lock()
	handle := h.Handle
	h.Handle = nil
	h.mu.Unlock()
	if handle == nil {
		return nil
	}
	return handle.Close()
}

// MarkNeedsReset sets the delayed-reset hygiene marker used by the
// dying-Connection reset path (spec.md §4.4) when the reactor thread recycles
// a Holder without blocking to perform the reset itself. An external pool
// collaborator (see package pool) is responsible for honoring this marker
// before the Holder's handle is reused.
func (h *Holder) MarkNeedsReset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.NeedsResetBeforeReuse = true
}

// ConsumeNeedsReset clears and returns the delayed-reset marker.
func (h *Holder) ConsumeNeedsReset() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.NeedsResetBeforeReuse
	h.NeedsResetBeforeReuse = false
	return v
}

// SetReusable updates whether the server session is presently fit for reuse.
func (h *Holder) SetReusable(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Reusable = v
}

// IsReusable reports the current reusable flag.
func (h *Holder) IsReusable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Reusable
}
