// Package adapters provides in-process implementations of the external
// collaborator interfaces the core consumes: the module registry, the
// ownership oracle, the account proxy, and module/storage invokers.
// Production deployments replace these with clients for the execution
// substrate; these implementations back local development, simulation
// mode, and tests.
package adapters

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

// AllowlistRegistry is a module registry backed by an in-memory set.
type AllowlistRegistry struct {
	mu      sync.RWMutex
	modules map[wallet.Address]struct{}
}

// NewAllowlistRegistry creates a registry containing the given modules.
func NewAllowlistRegistry(modules ...wallet.Address) *AllowlistRegistry {
	r := &AllowlistRegistry{modules: make(map[wallet.Address]struct{}, len(modules))}
	for _, m := range modules {
		r.modules[m] = struct{}{}
	}
	return r
}

// Register adds a module to the registry.
func (r *AllowlistRegistry) Register(module wallet.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[module] = struct{}{}
}

// Revoke removes a module from the registry.
func (r *AllowlistRegistry) Revoke(module wallet.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, module)
}

// IsRegisteredModule implements authgate.Registry.
func (r *AllowlistRegistry) IsRegisteredModule(_ context.Context, module wallet.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[module]
	return ok, nil
}

// StaticOwnerOracle maps each account to a single owner authority.
type StaticOwnerOracle struct {
	mu     sync.RWMutex
	owners map[wallet.Address]wallet.Address
}

// NewStaticOwnerOracle creates an empty oracle.
func NewStaticOwnerOracle() *StaticOwnerOracle {
	return &StaticOwnerOracle{owners: make(map[wallet.Address]wallet.Address)}
}

// SetOwner binds account to owner.
func (o *StaticOwnerOracle) SetOwner(account, owner wallet.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners[account] = owner
}

// IsOwnerAuthority implements upgrade.OwnershipOracle. An account with no
// recorded owner treats itself as its own authority, which matches a
// fresh wallet whose ownership key is the account key.
func (o *StaticOwnerOracle) IsOwnerAuthority(_ context.Context, account, requester wallet.Address) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	owner, ok := o.owners[account]
	if !ok {
		return account == requester, nil
	}
	return owner == requester, nil
}

// InitializerFunc is a module's one-time setup hook.
type InitializerFunc func(ctx context.Context, account wallet.Address) error

// LocalModules dispatches initialization hooks to in-process handlers.
type LocalModules struct {
	mu    sync.RWMutex
	hooks map[wallet.Address]InitializerFunc
}

// NewLocalModules creates an empty module host.
func NewLocalModules() *LocalModules {
	return &LocalModules{hooks: make(map[wallet.Address]InitializerFunc)}
}

// Handle registers the setup hook for a module address. A nil hook makes
// initialization a no-op for that module.
func (m *LocalModules) Handle(module wallet.Address, hook InitializerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[module] = hook
}

// Initialize implements upgrade.ModuleInvoker.
func (m *LocalModules) Initialize(ctx context.Context, module, account wallet.Address) error {
	m.mu.RLock()
	hook, ok := m.hooks[module]
	m.mu.RUnlock()
	if !ok || hook == nil {
		return nil
	}
	return hook(ctx, account)
}

// StorageHandlerFunc handles an encoded storage call.
type StorageHandlerFunc func(ctx context.Context, call wallet.EncodedCall) ([]byte, error)

// LocalStorageModules dispatches storage calls to in-process handlers.
type LocalStorageModules struct {
	mu       sync.RWMutex
	handlers map[wallet.Address]StorageHandlerFunc
}

// NewLocalStorageModules creates an empty storage host.
func NewLocalStorageModules() *LocalStorageModules {
	return &LocalStorageModules{handlers: make(map[wallet.Address]StorageHandlerFunc)}
}

// Handle registers the handler for a storage module address.
func (m *LocalStorageModules) Handle(module wallet.Address, handler StorageHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[module] = handler
}

// InvokeStorageModule implements storagegate.StorageInvoker.
func (m *LocalStorageModules) InvokeStorageModule(ctx context.Context, storageModule wallet.Address, call wallet.EncodedCall) ([]byte, error) {
	m.mu.RLock()
	handler, ok := m.handlers[storageModule]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler for storage module %s", storageModule)
	}
	return handler(ctx, call)
}

// RecordingProxy implements dispatch.Proxy and records forwarded calls.
type RecordingProxy struct {
	mu    sync.Mutex
	Calls []ProxyCall
}

// ProxyCall is one recorded forward.
type ProxyCall struct {
	Account wallet.Address
	Target  wallet.Address
	Value   *big.Int
	Data    []byte
	Static  bool
}

// Forward implements dispatch.Proxy.
func (p *RecordingProxy) Forward(_ context.Context, account, target wallet.Address, value *big.Int, data []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ProxyCall{Account: account, Target: target, Value: value, Data: data})
	return nil, nil
}

// StaticForward implements dispatch.Proxy.
func (p *RecordingProxy) StaticForward(_ context.Context, account, target wallet.Address, data []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ProxyCall{Account: account, Target: target, Data: data, Static: true})
	return nil, nil
}
