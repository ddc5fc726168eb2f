// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu             sync.RWMutex
	catalog        []wallet.FeatureSet
	accounts       map[wallet.Address]wallet.AccountState
	initRecords    map[wallet.Address]map[wallet.Address]struct{}
	storageModules map[wallet.Address]struct{}
	upgradeRecords map[wallet.Address][]wallet.UpgradeRecord
	nonces         map[wallet.Address]uint64
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.InitRecordStore = (*Store)(nil)
var _ storage.StorageRegistryStore = (*Store)(nil)
var _ storage.UpgradeRecordStore = (*Store)(nil)
var _ storage.NonceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:       make(map[wallet.Address]wallet.AccountState),
		initRecords:    make(map[wallet.Address]map[wallet.Address]struct{}),
		storageModules: make(map[wallet.Address]struct{}),
		upgradeRecords: make(map[wallet.Address][]wallet.UpgradeRecord),
		nonces:         make(map[wallet.Address]uint64),
	}
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) AppendFeatureSet(_ context.Context, fs wallet.FeatureSet) (wallet.FeatureSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs = fs.Clone()
	fs.Version = wallet.VersionID(len(s.catalog) + 1)
	fs.CreatedAt = time.Now().UTC()
	s.catalog = append(s.catalog, fs)
	return fs.Clone(), nil
}

func (s *Store) GetFeatureSet(_ context.Context, version wallet.VersionID) (wallet.FeatureSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == wallet.NoVersion || int(version) > len(s.catalog) {
		return wallet.FeatureSet{}, wallet.ErrVersionNotFound
	}
	return s.catalog[version-1].Clone(), nil
}

func (s *Store) LatestVersion(_ context.Context) (wallet.VersionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return wallet.VersionID(len(s.catalog)), nil
}

func (s *Store) ListFeatureSets(_ context.Context) ([]wallet.FeatureSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wallet.FeatureSet, 0, len(s.catalog))
	for _, fs := range s.catalog {
		out = append(out, fs.Clone())
	}
	return out, nil
}

// AccountStore implementation -------------------------------------------------

func (s *Store) GetAccountState(_ context.Context, account wallet.Address) (wallet.AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.accounts[account]
	if !ok {
		return wallet.AccountState{Account: account, CurrentVersion: wallet.NoVersion}, nil
	}
	return state, nil
}

func (s *Store) PutAccountState(_ context.Context, state wallet.AccountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.accounts[state.Account]; ok {
		state.CreatedAt = existing.CreatedAt
	} else {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	s.accounts[state.Account] = state
	return nil
}

// InitRecordStore implementation ----------------------------------------------

func (s *Store) HasInitialized(_ context.Context, account, module wallet.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mods, ok := s.initRecords[account]
	if !ok {
		return false, nil
	}
	_, done := mods[module]
	return done, nil
}

func (s *Store) MarkInitialized(_ context.Context, account, module wallet.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mods, ok := s.initRecords[account]
	if !ok {
		mods = make(map[wallet.Address]struct{})
		s.initRecords[account] = mods
	}
	mods[module] = struct{}{}
	return nil
}

func (s *Store) ListInitialized(_ context.Context, account wallet.Address) ([]wallet.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mods := s.initRecords[account]
	out := make([]wallet.Address, 0, len(mods))
	for m := range mods {
		out = append(out, m)
	}
	return out, nil
}

// StorageRegistryStore implementation -------------------------------------------

func (s *Store) RegisterStorage(_ context.Context, addr wallet.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.storageModules[addr]; exists {
		return wallet.ErrDuplicateStorageOrModule
	}
	s.storageModules[addr] = struct{}{}
	return nil
}

func (s *Store) IsRegisteredStorage(_ context.Context, addr wallet.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.storageModules[addr]
	return ok, nil
}

func (s *Store) ListStorageModules(_ context.Context) ([]wallet.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wallet.Address, 0, len(s.storageModules))
	for m := range s.storageModules {
		out = append(out, m)
	}
	return out, nil
}

// UpgradeRecordStore implementation ---------------------------------------------

func (s *Store) CreateUpgradeRecord(_ context.Context, rec wallet.UpgradeRecord) (wallet.UpgradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.CreatedAt = time.Now().UTC()
	rec.Initialized = append([]wallet.Address(nil), rec.Initialized...)
	s.upgradeRecords[rec.Account] = append(s.upgradeRecords[rec.Account], rec)
	return rec, nil
}

func (s *Store) ListUpgradeRecords(_ context.Context, account wallet.Address) ([]wallet.UpgradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.upgradeRecords[account]
	out := make([]wallet.UpgradeRecord, 0, len(recs))
	for _, rec := range recs {
		rec.Initialized = append([]wallet.Address(nil), rec.Initialized...)
		out = append(out, rec)
	}
	return out, nil
}

// NonceStore implementation ------------------------------------------------------

func (s *Store) NextNonce(_ context.Context, account wallet.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := s.nonces[account]
	s.nonces[account] = nonce + 1
	return nonce, nil
}

func (s *Store) PeekNonce(_ context.Context, account wallet.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[account], nil
}
