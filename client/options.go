package client

import (
	"github.com/fyerfyer/mysql-async-client/mysqllog"
	"github.com/fyerfyer/mysql-async-client/protocol"
	"github.com/fyerfyer/mysql-async-client/ratelimit"
	"github.com/fyerfyer/mysql-async-client/statscollector"
)

// clientConfig collects Client's construction-time dependencies, built via
// the functional-options pattern used throughout the teacher's pool and
// workpool packages.
type clientConfig struct {
	handler protocol.Handler
	logger  mysqllog.Logger
	stats   statscollector.Collector
	limiter ratelimit.Limiter
}

// Option configures a Client.
type Option func(*clientConfig)

// WithHandler sets the protocol.Handler a Client drives every operation
// through. Required — New returns an error if none is supplied.
func WithHandler(h protocol.Handler) Option {
	return func(c *clientConfig) { c.handler = h }
}

// WithLogger sets the Logger collaborator. Defaults to mysqllog.Noop.
func WithLogger(l mysqllog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithStatsCollector sets the Statistics collaborator. Defaults to
// statscollector.Noop.
func WithStatsCollector(s statscollector.Collector) Option {
	return func(c *clientConfig) { c.stats = s }
}

// WithConnectLimiter gates BeginConnection behind a ratelimit.Limiter. Nil
// (the default) means unlimited.
func WithConnectLimiter(l ratelimit.Limiter) Option {
	return func(c *clientConfig) { c.limiter = l }
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger: mysqllog.Noop{},
		stats:  statscollector.Noop{},
	}
}
