// Package storage defines the persistence interfaces for the wallet
// authorization core. Implementations must be safe for concurrent use and
// return copies, never internal references.
package storage

import (
	"context"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

// CatalogStore persists the append-only feature-set catalog. Entries are
// immutable once appended; there is deliberately no update or delete.
type CatalogStore interface {
	// AppendFeatureSet stores fs under the next contiguous version and
	// returns the stored entry. The store assigns fs.Version.
	AppendFeatureSet(ctx context.Context, fs wallet.FeatureSet) (wallet.FeatureSet, error)
	// GetFeatureSet returns the entry for version, or
	// wallet.ErrVersionNotFound.
	GetFeatureSet(ctx context.Context, version wallet.VersionID) (wallet.FeatureSet, error)
	// LatestVersion returns the highest assigned version, or
	// wallet.NoVersion when the catalog is empty.
	LatestVersion(ctx context.Context) (wallet.VersionID, error)
	ListFeatureSets(ctx context.Context) ([]wallet.FeatureSet, error)
}

// AccountStore persists per-account state. Accounts are created implicitly
// on first upgrade and never deleted.
type AccountStore interface {
	// GetAccountState returns the state for account. A never-upgraded
	// account yields a zero-version state, not an error.
	GetAccountState(ctx context.Context, account wallet.Address) (wallet.AccountState, error)
	PutAccountState(ctx context.Context, state wallet.AccountState) error
}

// InitRecordStore tracks the per-(account, module) "ever initialized"
// flag. The flag survives version round-trips for the account's lifetime.
type InitRecordStore interface {
	HasInitialized(ctx context.Context, account, module wallet.Address) (bool, error)
	MarkInitialized(ctx context.Context, account, module wallet.Address) error
	ListInitialized(ctx context.Context, account wallet.Address) ([]wallet.Address, error)
}

// StorageRegistryStore persists the set of registered storage modules.
// Registration is append-only: an entry, once registered, is never removed.
type StorageRegistryStore interface {
	// RegisterStorage records addr; a second registration fails with
	// wallet.ErrDuplicateStorageOrModule.
	RegisterStorage(ctx context.Context, addr wallet.Address) error
	IsRegisteredStorage(ctx context.Context, addr wallet.Address) (bool, error)
	ListStorageModules(ctx context.Context) ([]wallet.Address, error)
}

// UpgradeRecordStore persists the audit trail of upgrade attempts.
type UpgradeRecordStore interface {
	CreateUpgradeRecord(ctx context.Context, rec wallet.UpgradeRecord) (wallet.UpgradeRecord, error)
	ListUpgradeRecords(ctx context.Context, account wallet.Address) ([]wallet.UpgradeRecord, error)
}

// NonceStore issues the strictly-increasing per-account nonce consumed by
// the relayer digest.
type NonceStore interface {
	// NextNonce returns the current nonce for account and advances it.
	NextNonce(ctx context.Context, account wallet.Address) (uint64, error)
	// PeekNonce returns the nonce the next NextNonce call would yield.
	PeekNonce(ctx context.Context, account wallet.Address) (uint64, error)
}
