// Package contentmanager implements C7: the process-wide registry of
// session.User objects, coalescing concurrent lookups for the same user
// id behind a single RPC (spec.md §4.7 / §9's "explicit single-flight
// primitive" note, replacing the original's implicit thundering-herd-prone
// cache).
package contentmanager

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/syncore/coreserver/pkg/blobstore"
	"github.com/syncore/coreserver/pkg/rpcdal"
	"github.com/syncore/coreserver/pkg/session"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

// Manager is C7. One instance is shared across every connection in the
// process.
type Manager struct {
	rpc      rpcdal.RpcDal
	store    blobstore.Store
	registry *uploadregistry.Registry
	magic    []byte
	cfg      transfer.Config

	mu    sync.RWMutex
	users map[string]*session.User

	group singleflight.Group
}

// New constructs a Manager wired to the collaborators every User it
// produces will need.
func New(rpc rpcdal.RpcDal, store blobstore.Store, registry *uploadregistry.Registry, magicSalt []byte, cfg transfer.Config) *Manager {
	return &Manager{
		rpc:      rpc,
		store:    store,
		registry: registry,
		magic:    magicSalt,
		cfg:      cfg,
		users:    make(map[string]*session.User),
	}
}

// GetUserById returns the cached User for id, loading it from RpcDal on a
// cache miss. When required is false, a miss returns (nil, nil) instead
// of issuing an RPC — spec.md §4.7's absence policy. Concurrent callers
// racing on the same uncached id are coalesced onto a single RpcDal.GetUser
// call via singleflight; every caller observes the identical *User
// instance, matching spec.md §8's testable property.
func (m *Manager) GetUserById(ctx context.Context, id string, required bool) (*session.User, error) {
	if u := m.lookup(id); u != nil {
		return u, nil
	}
	if !required {
		return nil, nil
	}

	v, err, _ := m.group.Do(id, func() (any, error) {
		// Re-check under the group: another goroutine may have already
		// populated the cache while this call waited to be scheduled.
		if u := m.lookup(id); u != nil {
			return u, nil
		}

		rpcUser, err := m.rpc.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		u := session.New(rpcUser, m.rpc, m.store, m.registry, m.magic, m.cfg)

		m.mu.Lock()
		m.users[id] = u
		m.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.User), nil
}

func (m *Manager) lookup(id string) *session.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id]
}

// Evict drops a cached User, forcing the next GetUserById to reload it
// from RpcDal. Used when an operator-driven account change (password
// reset, deactivation) needs to invalidate a stale in-memory session.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	delete(m.users, id)
	m.mu.Unlock()
}

// Len reports the number of cached users, for metrics/debugging.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// Healthcheck probes the blob store and the upload registry this
// manager's Users are built from, for use by an HTTP readiness probe.
func (m *Manager) Healthcheck(ctx context.Context) error {
	if err := m.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if err := m.registry.Healthcheck(ctx); err != nil {
		return fmt.Errorf("upload registry: %w", err)
	}
	return nil
}
