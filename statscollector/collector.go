// Package statscollector defines the external Statistics collector of
// spec.md §6: a sink Operations and Connections report timing and outcome
// events to, kept entirely out of the reactor's critical path.
package statscollector

import (
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
)

// Collector receives connection and query lifecycle events. Every method
// must return quickly and must not itself open a MySQL connection — the
// Redis implementation sends each event synchronously and bounds the round
// trip with its CallTimeout.
type Collector interface {
	OnConnectSuccess(key conn.Key, elapsed time.Duration)
	OnConnectError(key conn.Key, err error)
	OnQuerySuccess(key conn.Key, elapsed time.Duration, rowsAffected int64)
	OnQueryError(key conn.Key, err error)
}

// Noop discards every event, the default when no Collector is configured.
type Noop struct{}

func (Noop) OnConnectSuccess(conn.Key, time.Duration)      {}
func (Noop) OnConnectError(conn.Key, error)                {}
func (Noop) OnQuerySuccess(conn.Key, time.Duration, int64) {}
func (Noop) OnQueryError(conn.Key, error)                  {}
