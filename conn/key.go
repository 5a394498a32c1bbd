package conn

import "fmt"

// Key is the immutable tuple identifying a logical MySQL endpoint. It is a
// plain comparable struct rather than a hand-rolled hash/equality pair (per
// SPEC_FULL.md §3): Go structs of comparable fields are usable directly as
// map keys and with ==, so no custom Equals/Hash is needed.
type Key struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// String renders the key for logs, deliberately omitting Password.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", k.User, k.Host, k.Port, k.Database)
}
