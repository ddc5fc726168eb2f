// Package authgate implements the authorization check run on every
// privileged entry path: is the calling module allowed to act for the
// account under its bound feature-set version, and does the claimed call
// class match the execution context.
package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/Meridian-Labs/wallet_layer/internal/app/metrics"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// Registry answers whether a module address is registered and not
// revoked. It is consumed, never implemented, by the core.
type Registry interface {
	IsRegisteredModule(ctx context.Context, module wallet.Address) (bool, error)
}

// Service is the authorization gate.
type Service struct {
	accounts storage.AccountStore
	catalog  storage.CatalogStore
	registry Registry
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an authorization gate.
func New(accounts storage.AccountStore, catalog storage.CatalogStore, registry Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("authgate")
	}
	return &Service{
		accounts: accounts,
		catalog:  catalog,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Authorize decides whether callingModule may act for account. callClass
// is the class the module claims; execContext is the class the substrate
// actually provides, threaded down from the outermost dispatch layer.
//
// Registry membership is layered above feature membership: a module
// missing from the registry is rejected as unauthorized no matter what
// the bound feature set contains.
func (s *Service) Authorize(ctx context.Context, account, callingModule wallet.Address, callClass, execContext wallet.CallContext) (err error) {
	defer func() { metrics.RecordAuthorization(err) }()

	registered, err := s.registry.IsRegisteredModule(ctx, callingModule)
	if err != nil {
		return fmt.Errorf("registry lookup: %w", err)
	}
	if !registered {
		return fmt.Errorf("%w: %w", wallet.ErrModuleNotAuthorized, wallet.ErrModuleNotRegistered)
	}

	state, err := s.accounts.GetAccountState(ctx, account)
	if err != nil {
		return fmt.Errorf("account state: %w", err)
	}
	if state.CurrentVersion == wallet.NoVersion {
		return wallet.ErrAccountNotUpgraded
	}

	fs, err := s.catalog.GetFeatureSet(ctx, state.CurrentVersion)
	if err != nil {
		return fmt.Errorf("feature set %d: %w", state.CurrentVersion, err)
	}
	if !fs.HasFeature(callingModule) {
		return wallet.ErrModuleNotAuthorized
	}

	// A module must not be able to claim "read-only" to sneak a mutating
	// call past guards that trust the read-only entry points.
	if callClass == wallet.ReadOnly && execContext != wallet.ReadOnly {
		return wallet.ErrStaticCallRequired
	}

	if callClass == wallet.Mutating && state.Locked(s.now()) && callingModule != state.Lock.Locker {
		return wallet.ErrAccountLocked
	}

	return nil
}

// SetLock places a lock on the account held by locker until expiresAt.
// The caller path must already have authorized locker for a mutating call.
func (s *Service) SetLock(ctx context.Context, account, locker wallet.Address, expiresAt time.Time) (wallet.AccountState, error) {
	state, err := s.accounts.GetAccountState(ctx, account)
	if err != nil {
		return wallet.AccountState{}, err
	}
	if state.Locked(s.now()) && state.Lock.Locker != locker {
		return wallet.AccountState{}, wallet.ErrNotLocker
	}

	state.Lock = wallet.Lock{Locker: locker, ExpiresAt: expiresAt}
	if err := s.accounts.PutAccountState(ctx, state); err != nil {
		return wallet.AccountState{}, err
	}
	s.log.WithField("account", account).
		WithField("locker", locker).
		WithField("expires_at", expiresAt).
		Info("account locked")
	return state, nil
}

// ReleaseLock clears an active lock. Only the module that set the lock
// may release it before expiry.
func (s *Service) ReleaseLock(ctx context.Context, account, locker wallet.Address) (wallet.AccountState, error) {
	state, err := s.accounts.GetAccountState(ctx, account)
	if err != nil {
		return wallet.AccountState{}, err
	}
	if state.Locked(s.now()) && state.Lock.Locker != locker {
		return wallet.AccountState{}, wallet.ErrNotLocker
	}

	state.Lock = wallet.Lock{}
	if err := s.accounts.PutAccountState(ctx, state); err != nil {
		return wallet.AccountState{}, err
	}
	s.log.WithField("account", account).Info("account unlocked")
	return state, nil
}

// AuthorizedModules returns the computed authorized-module view for the
// account: the features of its current version, or nil when unversioned.
func (s *Service) AuthorizedModules(ctx context.Context, account wallet.Address) ([]wallet.Address, error) {
	state, err := s.accounts.GetAccountState(ctx, account)
	if err != nil {
		return nil, err
	}
	if state.CurrentVersion == wallet.NoVersion {
		return nil, nil
	}
	fs, err := s.catalog.GetFeatureSet(ctx, state.CurrentVersion)
	if err != nil {
		return nil, err
	}
	return fs.Features, nil
}
