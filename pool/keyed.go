package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyerfyer/mysql-async-client/conn"
)

// KeyedManager implements PoolManager, the out-of-process connection-pooling
// collaborator spec.md's §1 deliberately leaves outside the client/conn
// core. It indexes pools by conn.Key.String() so a caller managing pools for
// several MySQL endpoints doesn't have to invent its own naming scheme.
type KeyedManager struct {
	mu    sync.RWMutex
	pools map[string]Pool
}

// NewKeyedManager builds an empty KeyedManager.
func NewKeyedManager() *KeyedManager {
	return &KeyedManager{pools: make(map[string]Pool)}
}

// Get implements PoolManager.
func (m *KeyedManager) Get(name string) (Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool: no pool registered for %q", name)
	}
	return p, nil
}

// Register implements PoolManager.
func (m *KeyedManager) Register(name string, p Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[name]; exists {
		return fmt.Errorf("pool: %q already registered", name)
	}
	m.pools[name] = p
	return nil
}

// Remove implements PoolManager.
func (m *KeyedManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pools, name)
	return nil
}

// Shutdown implements PoolManager, shutting every registered pool down in
// turn and stopping at the first error (matching each Pool's own Shutdown
// contract of waiting out ctx).
func (m *KeyedManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	pools := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	for _, p := range pools {
		if err := p.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stats implements PoolManager.
func (m *KeyedManager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Stats()
	}
	return out
}

// GetByKey, RegisterByKey and RemoveByKey are conn.Key-typed convenience
// wrappers, so callers juggling conn.Key values never have to format the
// pool name themselves.
func (m *KeyedManager) GetByKey(key conn.Key) (Pool, error) { return m.Get(key.String()) }

func (m *KeyedManager) RegisterByKey(key conn.Key, p Pool) error {
	return m.Register(key.String(), p)
}

func (m *KeyedManager) RemoveByKey(key conn.Key) error { return m.Remove(key.String()) }

// NewPoolForKey builds a Pool labeled with key (via WithKey, surfaced back
// through Stats.Key) and registers it under key.String() in one step, so a
// caller managing a pool per MySQL endpoint never constructs the Stats label
// by hand.
func NewPoolForKey(m *KeyedManager, key conn.Key, factory ConnectionFactory, options ...Option) (Pool, error) {
	opts := append([]Option{WithKey(key.String())}, options...)
	p := NewPool(factory, opts...)
	if err := m.RegisterByKey(key, p); err != nil {
		return nil, err
	}
	return p, nil
}
