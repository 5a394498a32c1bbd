package statscollector

import (
	"errors"
	"testing"
	"time"

	"github.com/fyerfyer/mysql-async-client/conn"
)

func TestNoopIsSafeWithoutConfiguration(t *testing.T) {
	var c Collector = Noop{}
	key := conn.Key{Host: "localhost", Port: 3306}

	c.OnConnectSuccess(key, time.Millisecond)
	c.OnConnectError(key, errors.New("boom"))
	c.OnQuerySuccess(key, time.Millisecond, 1)
	c.OnQueryError(key, errors.New("boom"))
}

func TestRedisCollectorDoesNotBlockPastItsCallTimeout(t *testing.T) {
	// Point at a non-routable address so every call reliably falls through
	// to the collector's own CallTimeout deadline instead of a real reply.
	r := NewRedis(RedisConfig{
		Addr:        "10.255.255.1:6379",
		DialTimeout: 20 * time.Millisecond,
		CallTimeout: 50 * time.Millisecond,
		KeyPrefix:   "test:",
	})

	key := conn.Key{Host: "localhost", Port: 3306}

	done := make(chan struct{})
	go func() {
		r.OnConnectSuccess(key, time.Millisecond)
		r.OnConnectError(key, errors.New("boom"))
		r.OnQuerySuccess(key, time.Millisecond, 1)
		r.OnQueryError(key, errors.New("boom"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected every Collector call to return once its CallTimeout elapsed")
	}
}
