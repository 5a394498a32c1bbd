package statscollector

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fyerfyer/mysql-async-client/conn"
)

// Redis is a Collector backed by a go-redis client, grounded on the
// teacher's pool/adapters RedisConfig/Client wiring. Counters are keyed by
// the endpoint's Key.String() and incremented with a short per-call
// deadline so a slow or unreachable Redis never stalls the caller.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// RedisConfig mirrors adapters.RedisConfig's connection fields, trimmed to
// what a stats sink needs.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	DialTimeout time.Duration
	// CallTimeout bounds each per-event Redis round trip.
	CallTimeout time.Duration

	// KeyPrefix namespaces every counter this collector writes.
	KeyPrefix string
}

// DefaultRedisConfig mirrors adapters.DefaultRedisConfig's defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		CallTimeout: 200 * time.Millisecond,
		KeyPrefix:   "mysqlasync:stats:",
	}
}

// NewRedis builds a go-redis client for cfg and returns a Collector. The
// client opens its connections lazily, on the first command.
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return &Redis{client: client, prefix: cfg.KeyPrefix, timeout: cfg.CallTimeout}
}

// NewRedisFromClient wraps an already-constructed *redis.Client, for callers
// who want to share one client between the pool package's Redis adapter and
// this stats sink.
func NewRedisFromClient(client *redis.Client, keyPrefix string, callTimeout time.Duration) *Redis {
	if callTimeout <= 0 {
		callTimeout = 200 * time.Millisecond
	}
	return &Redis{client: client, prefix: keyPrefix, timeout: callTimeout}
}

func (r *Redis) incr(field string, key conn.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.client.HIncrBy(ctx, r.prefix+key.String(), field, 1)
}

func (r *Redis) observe(field string, key conn.Key, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+key.String(), field+"_count", 1)
	pipe.HIncrByFloat(ctx, r.prefix+key.String(), field+"_ms_total", float64(d.Milliseconds()))
	pipe.Exec(ctx)
}

func (r *Redis) OnConnectSuccess(key conn.Key, elapsed time.Duration) {
	r.observe("connect", key, elapsed)
}

func (r *Redis) OnConnectError(key conn.Key, err error) {
	r.incr("connect_errors", key)
}

func (r *Redis) OnQuerySuccess(key conn.Key, elapsed time.Duration, rowsAffected int64) {
	r.observe("query", key, elapsed)
}

func (r *Redis) OnQueryError(key conn.Key, err error) {
	r.incr("query_errors", key)
}
