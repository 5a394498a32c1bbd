package conn

import (
	"crypto/tls"
	"time"
)

// Options are the per-connection settings named in spec.md §6.5. TLSConfig
// stands in for the source's opaque ssl_options — the idiomatic Go
// equivalent, and the same type go-sql-driver/mysql (present elsewhere in
// the retrieval pack) accepts.
type Options struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	TotalTimeout   time.Duration

	TLSConfig *tls.Config

	// EnableResetConnBeforeClose gates the dying-Connection reset path of
	// spec.md §4.4.
	EnableResetConnBeforeClose bool

	// EnableDelayedResetConn selects between the two dying-Connection reset
	// modes of spec.md §4.4: blocking (false) or delayed/pool-owned (true).
	EnableDelayedResetConn bool

	ClientFlags uint32
	Attributes  map[string]string
}

// DefaultOptions mirrors the teacher's DefaultOptions()-style constructor
// (pool.DefaultOptions), returning a struct rather than a pointer since
// Options is small and copied by value into each Connection.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 5 * time.Second,
		QueryTimeout:   30 * time.Second,
		TotalTimeout:   0,
	}
}

// Option configures an Options via the functional-options pattern used
// throughout the teacher's pool and workpool packages.
type Option func(*Options)

func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

func WithQueryTimeout(d time.Duration) Option {
	return func(o *Options) { o.QueryTimeout = d }
}

func WithTotalTimeout(d time.Duration) Option {
	return func(o *Options) { o.TotalTimeout = d }
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) { o.TLSConfig = cfg }
}

func WithResetConnBeforeClose(enable, delayed bool) Option {
	return func(o *Options) {
		o.EnableResetConnBeforeClose = enable
		o.EnableDelayedResetConn = delayed
	}
}

func WithClientFlags(flags uint32) Option {
	return func(o *Options) { o.ClientFlags = flags }
}

func WithAttribute(key, value string) Option {
	return func(o *Options) {
		if o.Attributes == nil {
			o.Attributes = make(map[string]string)
		}
		o.Attributes[key] = value
	}
}

// Apply builds an Options from DefaultOptions with the given overrides.
func Apply(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ChangeUserTimeout is spec.md §4.4's rule: connect timeout + 1s, chosen to
// avoid racing the connect timeout itself.
func (o Options) ChangeUserTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return time.Second
	}
	return o.ConnectTimeout + time.Second
}
