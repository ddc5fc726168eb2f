// Package catalog implements the feature-set catalog: an append-only,
// owner-gated list of immutable module bundles, plus the storage-module
// registration table.
package catalog

import (
	"context"
	"fmt"

	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// Service manages feature-set versions and storage registrations. Both
// operations are restricted to the single catalog owner identity, which
// serializes all writes.
type Service struct {
	store          storage.CatalogStore
	storageModules storage.StorageRegistryStore
	owner          wallet.Address
	log            *logger.Logger
}

// New constructs a catalog service. owner is the only identity permitted
// to append versions or register storage modules.
func New(store storage.CatalogStore, storageModules storage.StorageRegistryStore, owner wallet.Address, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, storageModules: storageModules, owner: owner, log: log}
}

// AddFeatureSet validates and appends a new immutable feature set,
// returning the assigned version. There is no update or delete: a version,
// once live, stays inspectable forever.
func (s *Service) AddFeatureSet(ctx context.Context, caller wallet.Address, features, toInitialize []wallet.Address) (wallet.FeatureSet, error) {
	if caller != s.owner {
		return wallet.FeatureSet{}, wallet.ErrNotCatalogOwner
	}

	fs := wallet.FeatureSet{Features: features, ToInitialize: toInitialize}
	if err := fs.Validate(); err != nil {
		return wallet.FeatureSet{}, err
	}

	created, err := s.store.AppendFeatureSet(ctx, fs)
	if err != nil {
		return wallet.FeatureSet{}, fmt.Errorf("append feature set: %w", err)
	}
	s.log.WithField("version", created.Version).
		WithField("features", len(created.Features)).
		Info("feature set added")
	return created, nil
}

// GetFeatureSet returns the feature set bound to version.
func (s *Service) GetFeatureSet(ctx context.Context, version wallet.VersionID) (wallet.FeatureSet, error) {
	return s.store.GetFeatureSet(ctx, version)
}

// LatestVersion returns the highest registered version, or
// wallet.NoVersion when the catalog is empty.
func (s *Service) LatestVersion(ctx context.Context) (wallet.VersionID, error) {
	return s.store.LatestVersion(ctx)
}

// ListFeatureSets returns every catalog entry in version order.
func (s *Service) ListFeatureSets(ctx context.Context) ([]wallet.FeatureSet, error) {
	return s.store.ListFeatureSets(ctx)
}

// RegisterStorageModule records a storage module address. Registration is
// append-only; a duplicate fails with wallet.ErrDuplicateStorageOrModule
// and leaves the table unchanged.
func (s *Service) RegisterStorageModule(ctx context.Context, caller, addr wallet.Address) error {
	if caller != s.owner {
		return wallet.ErrNotCatalogOwner
	}
	if addr.IsZero() {
		return fmt.Errorf("storage module address must not be zero")
	}
	if err := s.storageModules.RegisterStorage(ctx, addr); err != nil {
		return err
	}
	s.log.WithField("storage_module", addr).Info("storage module registered")
	return nil
}

// ListStorageModules returns all registered storage module addresses.
func (s *Service) ListStorageModules(ctx context.Context) ([]wallet.Address, error) {
	return s.storageModules.ListStorageModules(ctx)
}
