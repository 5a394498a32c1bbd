package client

import (
	"context"
	"sync"

	"github.com/fyerfyer/mysql-async-client/operation"
)

// pendingSet tracks every in-flight Operation a Client has submitted, per
// spec.md §4.1. Shutdown's two-phase drain walks a snapshot of it to cancel
// Unstarted work, then waits on it to empty out.
type pendingSet struct {
	mu   sync.Mutex
	cond *sync.Cond
	ops  map[string]operation.Operation
}

func newPendingSet() *pendingSet {
	p := &pendingSet{ops: make(map[string]operation.Operation)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pendingSet) add(op operation.Operation) {
	p.mu.Lock()
	p.ops[op.ID()] = op
	p.mu.Unlock()
}

func (p *pendingSet) remove(op operation.Operation) {
	p.mu.Lock()
	delete(p.ops, op.ID())
	if len(p.ops) == 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops)
}

func (p *pendingSet) snapshot() []operation.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]operation.Operation, 0, len(p.ops))
	for _, op := range p.ops {
		out = append(out, op)
	}
	return out
}

// waitEmpty blocks until no Operation is tracked, or ctx is done. A drain
// phase calls this after cancelling every Unstarted operation it snapshot,
// so a clean return means every operation it saw has since been untracked
// by its own owning goroutine (BeginConnection/Query/... always untrack on
// completion, cancelled or not).
func (p *pendingSet) waitEmpty(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for len(p.ops) > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
