// Package upgrade implements the engine that moves an account between
// feature-set versions: authorization delta, one-time module
// initialization, and atomic rollback when a setup hook fails.
package upgrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Meridian-Labs/wallet_layer/internal/app/metrics"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// OwnershipOracle answers whether requester is the owner-equivalent
// authority for account. Consumed, never implemented, by the core.
type OwnershipOracle interface {
	IsOwnerAuthority(ctx context.Context, account, requester wallet.Address) (bool, error)
}

// ModuleInvoker runs a capability module's one-time setup hook for an
// account. Hooks are required to be idempotent on the module side, but
// the engine still guarantees at-most-once invocation per (account,
// module) across the account's whole version history.
type ModuleInvoker interface {
	Initialize(ctx context.Context, module, account wallet.Address) error
}

// Service is the upgrade engine.
type Service struct {
	accounts storage.AccountStore
	catalog  storage.CatalogStore
	inits    storage.InitRecordStore
	records  storage.UpgradeRecordStore
	oracle   OwnershipOracle
	invoker  ModuleInvoker
	log      *logger.Logger

	mu         sync.Mutex
	inProgress map[wallet.Address]struct{}
}

// New constructs an upgrade engine.
func New(
	accounts storage.AccountStore,
	catalog storage.CatalogStore,
	inits storage.InitRecordStore,
	records storage.UpgradeRecordStore,
	oracle OwnershipOracle,
	invoker ModuleInvoker,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("upgrade")
	}
	return &Service{
		accounts:   accounts,
		catalog:    catalog,
		inits:      inits,
		records:    records,
		oracle:     oracle,
		invoker:    invoker,
		log:        log,
		inProgress: make(map[wallet.Address]struct{}),
	}
}

// UpgradeAccount moves account from its current version to toVersion.
// The whole operation commits or fails as a unit: if any newly authorized
// module's setup hook fails, no state changes and the account stays on
// its prior version. Nested upgrades for the same account, such as a
// setup hook calling back into the engine, are rejected.
func (s *Service) UpgradeAccount(ctx context.Context, account, requester wallet.Address, toVersion wallet.VersionID) (wallet.UpgradeRecord, error) {
	if err := s.begin(account); err != nil {
		return wallet.UpgradeRecord{}, err
	}
	defer s.end(account)

	start := time.Now()
	rec, err := s.run(ctx, account, requester, toVersion)
	metrics.RecordUpgrade(err, time.Since(start))
	s.audit(ctx, rec, err)
	if err != nil {
		return wallet.UpgradeRecord{}, err
	}
	return rec, nil
}

// begin marks the account as upgrade-in-progress, rejecting re-entrant
// calls.
func (s *Service) begin(account wallet.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inProgress[account]; busy {
		return wallet.ErrUpgradeInProgress
	}
	s.inProgress[account] = struct{}{}
	return nil
}

func (s *Service) end(account wallet.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, account)
}

func (s *Service) run(ctx context.Context, account, requester wallet.Address, toVersion wallet.VersionID) (wallet.UpgradeRecord, error) {
	rec := wallet.UpgradeRecord{
		ID:        uuid.NewString(),
		Account:   account,
		ToVersion: toVersion,
		Requester: requester,
	}

	isOwner, err := s.oracle.IsOwnerAuthority(ctx, account, requester)
	if err != nil {
		return rec, fmt.Errorf("ownership oracle: %w", err)
	}
	if !isOwner {
		return rec, wallet.ErrNotOwnerAuthority
	}

	state, err := s.accounts.GetAccountState(ctx, account)
	if err != nil {
		return rec, fmt.Errorf("account state: %w", err)
	}
	rec.FromVersion = state.CurrentVersion

	newSet, err := s.catalog.GetFeatureSet(ctx, toVersion)
	if err != nil {
		return rec, fmt.Errorf("%w: version %d", wallet.ErrInvalidVersion, toVersion)
	}
	if toVersion == state.CurrentVersion {
		return rec, wallet.ErrAlreadyOnVersion
	}

	var oldFeatures []wallet.Address
	if state.CurrentVersion != wallet.NoVersion {
		oldSet, err := s.catalog.GetFeatureSet(ctx, state.CurrentVersion)
		if err != nil {
			return rec, fmt.Errorf("current feature set %d: %w", state.CurrentVersion, err)
		}
		oldFeatures = oldSet.Features
	}

	// Run setup hooks for modules that are newly authorized, need
	// initialization under the target version, and have never been
	// initialized for this account. The "ever initialized" flag is
	// per-account-per-module, independent of version, so a version
	// round-trip never re-runs a hook.
	var toMark []wallet.Address
	for _, module := range diff(newSet.Features, oldFeatures) {
		if !newSet.RequiresInit(module) {
			continue
		}
		done, err := s.inits.HasInitialized(ctx, account, module)
		if err != nil {
			return rec, fmt.Errorf("init record %s: %w", module, err)
		}
		if done {
			continue
		}
		if err := s.invoker.Initialize(ctx, module, account); err != nil {
			return rec, fmt.Errorf("%w: module %s: %v", wallet.ErrInitializationFailed, module, err)
		}
		toMark = append(toMark, module)
	}

	// All hooks succeeded; commit. Deauthorization of dropped modules is
	// implicit: the authorized view is derived from CurrentVersion.
	for _, module := range toMark {
		if err := s.inits.MarkInitialized(ctx, account, module); err != nil {
			return rec, fmt.Errorf("mark initialized %s: %w", module, err)
		}
	}
	state.Account = account
	state.CurrentVersion = toVersion
	if err := s.accounts.PutAccountState(ctx, state); err != nil {
		return rec, fmt.Errorf("store account state: %w", err)
	}

	rec.Initialized = toMark
	rec.Success = true
	s.log.WithField("account", account).
		WithField("from", rec.FromVersion).
		WithField("to", toVersion).
		WithField("initialized", len(toMark)).
		Info("account upgraded")
	return rec, nil
}

// audit writes the attempt to the upgrade record store. Audit failures
// are logged, not surfaced: they must not mask the upgrade outcome.
func (s *Service) audit(ctx context.Context, rec wallet.UpgradeRecord, cause error) {
	if cause != nil {
		rec.Success = false
		rec.Reason = cause.Error()
	}
	if s.records == nil {
		return
	}
	if _, err := s.records.CreateUpgradeRecord(ctx, rec); err != nil {
		s.log.WithError(err).WithField("account", rec.Account).Warn("failed to store upgrade record")
	}
}

// History returns the upgrade audit trail for an account.
func (s *Service) History(ctx context.Context, account wallet.Address) ([]wallet.UpgradeRecord, error) {
	if s.records == nil {
		return nil, nil
	}
	return s.records.ListUpgradeRecords(ctx, account)
}

// diff returns the members of a that are not in b, preserving order.
func diff(a, b []wallet.Address) []wallet.Address {
	inB := make(map[wallet.Address]struct{}, len(b))
	for _, m := range b {
		inB[m] = struct{}{}
	}
	var out []wallet.Address
	for _, m := range a {
		if _, ok := inB[m]; !ok {
			out = append(out, m)
		}
	}
	return out
}
