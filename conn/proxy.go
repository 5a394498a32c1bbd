package conn

// Proxy is the tagged union of spec.md §9's ConnectionProxy: an Operation
// holds exactly one of an owned Connection (created and destroyed with the
// Operation) or a reference to a Connection the caller retains ownership of.
// Go has no built-in sum type, so this is a small interface with two
// unexported implementations rather than a C++ variant/union.
type Proxy interface {
	// Get returns the underlying Connection regardless of ownership.
	Get() *Connection

	// Owned reports which of the two kinds this proxy is: true for
	// NewOwnedProxy, false for NewReferencedProxy. No operation in package
	// operation reads it, and none closes the Connection when it terminates.
	Owned() bool
}

type ownedProxy struct{ conn *Connection }

func (p *ownedProxy) Get() *Connection { return p.conn }
func (p *ownedProxy) Owned() bool      { return true }

type referencedProxy struct{ conn *Connection }

func (p *referencedProxy) Get() *Connection { return p.conn }
func (p *referencedProxy) Owned() bool      { return false }

// NewOwnedProxy wraps c as an owned Connection — used when an Operation runs
// against a Connection nobody else references. Its only caller is the
// Client's ResetBlocking, which wraps a dying Connection's Holder in a
// throwaway Connection before driving a Reset against it.
func NewOwnedProxy(c *Connection) Proxy { return &ownedProxy{conn: c} }

// NewReferencedProxy wraps c as a borrowed Connection — used whenever the
// Operation runs against a Connection the caller already owns, whether the
// call was made synchronously or via a future. In the Go rewrite both paths
// borrow identically (see DESIGN.md); only the dying-connection reset path
// (ResetBlocking) uses an owned proxy.
func NewReferencedProxy(c *Connection) Proxy { return &referencedProxy{conn: c} }
