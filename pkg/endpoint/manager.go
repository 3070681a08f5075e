package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

// ErrUnknownProvider is returned for a provider ID with no registered resolver.
var ErrUnknownProvider = errors.New("unknown provider")

// Manager holds one Resolver per provider, created at startup.
type Manager struct {
	mu        sync.RWMutex
	resolvers map[string]*Resolver
	store     interfaces.Store
	transport interfaces.Transport
	timeout   time.Duration
	log       *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(st interfaces.Store, transport interfaces.Transport, timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{
		resolvers: make(map[string]*Resolver),
		store:     st,
		transport: transport,
		timeout:   timeout,
		log:       log,
	}
}

// Register adds a provider. Registering an ID twice returns the existing resolver.
func (m *Manager) Register(def Definition) *Resolver {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.resolvers[def.ID]; ok {
		return r
	}
	r := NewResolver(def, m.store, m.transport, m.timeout, m.log)
	m.resolvers[def.ID] = r
	m.log.Debug("registered provider", "provider", def.ID, "default_base", def.DefaultBaseURL)
	return r
}

// Get returns the resolver for id.
func (m *Manager) Get(id string) (*Resolver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resolvers[id]
	return r, ok
}

// ResolveEndpoint returns the provider's base address. With force set the
// portal is always consulted; otherwise the provider is resolved once.
func (m *Manager) ResolveEndpoint(ctx context.Context, id string, force bool) (string, error) {
	r, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if force {
		return r.Resolve(ctx, true), nil
	}
	return r.EnsureInitialized(ctx), nil
}

// Snapshots returns the state of every provider, ordered by ID.
func (m *Manager) Snapshots() []types.EndpointState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.EndpointState, 0, len(m.resolvers))
	for _, r := range m.resolvers {
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Wait blocks until every resolver's background refreshes have finished.
func (m *Manager) Wait() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.resolvers {
		r.Wait()
	}
}
