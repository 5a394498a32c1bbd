package conn

import (
	"github.com/fyerfyer/mysql-async-client/future"
)

// Callbacks bundles the per-Connection user hooks of spec.md §6. The
// unexported preOperation/postOperation/preQuery/postQuery helpers below
// treat an absent hook as identity/no-op, so a caller of those helpers never
// needs to nil-check. A Connection stores these hooks and returns them from
// Callbacks(); the Client and the operations in package operation do not
// invoke PreOperation, PostOperation, PreQuery or PostQuery. Only
// DyingCallback is acted on (by NewConnection's caller passing it through and
// by Close).
type Callbacks struct {
	// PreOperation is the hook for the moment before an Operation starts
	// driving its state machine.
	PreOperation func(op OperationInfo)

	// PostOperation is the hook for the moment an Operation reaches
	// Completed.
	PostOperation func(op OperationInfo)

	// PreQuery returns a future to be awaited before a query's first
	// protocol call. The preQuery helper treats a nil PreQuery as already
	// resolved.
	PreQuery func() *future.Future[struct{}]

	// PostQuery receives the successful result of a Query or MultiQuery and
	// may transform it. The concrete type is always exactly one of
	// *QueryResult or *MultiQueryResult (DESIGN.md, Open Question (b));
	// callers dispatch with a type switch instead of a runtime downcast.
	PostQuery func(result Result) Result

	// DyingCallback overrides Close's default reset-or-discard policy for
	// this Connection's Holder. Nil means "use Options' reset policy".
	DyingCallback DyingCallback
}

// OperationInfo is the minimal view of an in-flight Operation exposed to
// PreOperation/PostOperation, avoiding a dependency from this package on
// package operation.
type OperationInfo struct {
	Kind  string
	Key   Key
	Error error
}

// Result is the tagged interface satisfied by exactly *QueryResult and
// *MultiQueryResult, per spec.md §9 Open Question (b).
type Result interface {
	isResult()
}

// DyingCallback recycles or discards a Holder when its owning Connection is
// destroyed, per spec.md §3's Connection lifecycle note and SPEC_FULL.md §10
// item 1 (restored from squangle's pool hook). A nil DyingCallback means the
// native handle is simply closed.
type DyingCallback func(h *Holder)

func (c Callbacks) preOperation(info OperationInfo) {
	if c.PreOperation != nil {
		c.PreOperation(info)
	}
}

func (c Callbacks) postOperation(info OperationInfo) {
	if c.PostOperation != nil {
		c.PostOperation(info)
	}
}

func (c Callbacks) preQuery() *future.Future[struct{}] {
	if c.PreQuery != nil {
		return c.PreQuery()
	}
	f := future.New[struct{}]()
	f.Set(struct{}{})
	return f
}

func (c Callbacks) postQuery(result Result) Result {
	if c.PostQuery != nil {
		return c.PostQuery(result)
	}
	return result
}
