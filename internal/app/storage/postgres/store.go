// Package postgres implements the storage interfaces backed by
// PostgreSQL via database/sql and the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.InitRecordStore = (*Store)(nil)
var _ storage.StorageRegistryStore = (*Store)(nil)
var _ storage.UpgradeRecordStore = (*Store)(nil)
var _ storage.NonceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func encodeAddresses(addrs []wallet.Address) ([]byte, error) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return json.Marshal(out)
}

func decodeAddresses(raw []byte) ([]wallet.Address, error) {
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil, err
	}
	out := make([]wallet.Address, 0, len(strs))
	for _, s := range strs {
		a, err := wallet.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// --- CatalogStore -------------------------------------------------------------

func (s *Store) AppendFeatureSet(ctx context.Context, fs wallet.FeatureSet) (wallet.FeatureSet, error) {
	features, err := encodeAddresses(fs.Features)
	if err != nil {
		return wallet.FeatureSet{}, err
	}
	toInit, err := encodeAddresses(fs.ToInitialize)
	if err != nil {
		return wallet.FeatureSet{}, err
	}

	fs.CreatedAt = time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO feature_sets (version, features, to_initialize, created_at)
		VALUES ((SELECT COALESCE(MAX(version), 0) + 1 FROM feature_sets), $1, $2, $3)
		RETURNING version
	`, features, toInit, fs.CreatedAt)
	var version int64
	if err := row.Scan(&version); err != nil {
		return wallet.FeatureSet{}, err
	}
	fs.Version = wallet.VersionID(version)
	return fs, nil
}

func (s *Store) GetFeatureSet(ctx context.Context, version wallet.VersionID) (wallet.FeatureSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, features, to_initialize, created_at
		FROM feature_sets WHERE version = $1
	`, int64(version))
	return scanFeatureSet(row)
}

func (s *Store) LatestVersion(ctx context.Context) (wallet.VersionID, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM feature_sets`).Scan(&latest)
	if err != nil {
		return wallet.NoVersion, err
	}
	return wallet.VersionID(latest), nil
}

func (s *Store) ListFeatureSets(ctx context.Context) ([]wallet.FeatureSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, features, to_initialize, created_at
		FROM feature_sets ORDER BY version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.FeatureSet
	for rows.Next() {
		fs, err := scanFeatureSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFeatureSet(row scanner) (wallet.FeatureSet, error) {
	var (
		version          int64
		features, toInit []byte
		createdAt        time.Time
	)
	if err := row.Scan(&version, &features, &toInit, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.FeatureSet{}, wallet.ErrVersionNotFound
		}
		return wallet.FeatureSet{}, err
	}

	fs := wallet.FeatureSet{Version: wallet.VersionID(version), CreatedAt: createdAt}
	var err error
	if fs.Features, err = decodeAddresses(features); err != nil {
		return wallet.FeatureSet{}, fmt.Errorf("decode features: %w", err)
	}
	if fs.ToInitialize, err = decodeAddresses(toInit); err != nil {
		return wallet.FeatureSet{}, fmt.Errorf("decode to_initialize: %w", err)
	}
	return fs, nil
}

// --- AccountStore -------------------------------------------------------------

func (s *Store) GetAccountState(ctx context.Context, account wallet.Address) (wallet.AccountState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account, current_version, lock_locker, lock_expires_at, created_at, updated_at
		FROM wallet_accounts WHERE account = $1
	`, account.String())

	var (
		acct          string
		version       int64
		locker        string
		lockExpiresAt sql.NullTime
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(&acct, &version, &locker, &lockExpiresAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.AccountState{Account: account, CurrentVersion: wallet.NoVersion}, nil
		}
		return wallet.AccountState{}, err
	}

	state := wallet.AccountState{
		Account:        account,
		CurrentVersion: wallet.VersionID(version),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if locker != "" {
		lockerAddr, err := wallet.ParseAddress(locker)
		if err != nil {
			return wallet.AccountState{}, fmt.Errorf("decode locker: %w", err)
		}
		state.Lock = wallet.Lock{Locker: lockerAddr}
		if lockExpiresAt.Valid {
			state.Lock.ExpiresAt = lockExpiresAt.Time
		}
	}
	return state, nil
}

func (s *Store) PutAccountState(ctx context.Context, state wallet.AccountState) error {
	locker := ""
	var expiresAt sql.NullTime
	if state.Lock.Locker != wallet.ZeroAddress {
		locker = state.Lock.Locker.String()
		expiresAt = sql.NullTime{Time: state.Lock.ExpiresAt, Valid: true}
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_accounts (account, current_version, lock_locker, lock_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (account) DO UPDATE
		SET current_version = $2, lock_locker = $3, lock_expires_at = $4, updated_at = $5
	`, state.Account.String(), int64(state.CurrentVersion), locker, expiresAt, now)
	return err
}

// --- InitRecordStore ----------------------------------------------------------

func (s *Store) HasInitialized(ctx context.Context, account, module wallet.Address) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM init_records WHERE account = $1 AND module = $2)
	`, account.String(), module.String()).Scan(&exists)
	return exists, err
}

func (s *Store) MarkInitialized(ctx context.Context, account, module wallet.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO init_records (account, module, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account, module) DO NOTHING
	`, account.String(), module.String(), time.Now().UTC())
	return err
}

func (s *Store) ListInitialized(ctx context.Context, account wallet.Address) ([]wallet.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module FROM init_records WHERE account = $1 ORDER BY created_at
	`, account.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.Address
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		module, err := wallet.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, module)
	}
	return out, rows.Err()
}

// --- StorageRegistryStore -------------------------------------------------------

func (s *Store) RegisterStorage(ctx context.Context, addr wallet.Address) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_modules (address, created_at)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`, addr.String(), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.ErrDuplicateStorageOrModule
	}
	return nil
}

func (s *Store) IsRegisteredStorage(ctx context.Context, addr wallet.Address) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM storage_modules WHERE address = $1)
	`, addr.String()).Scan(&exists)
	return exists, err
}

func (s *Store) ListStorageModules(ctx context.Context) ([]wallet.Address, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM storage_modules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.Address
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		addr, err := wallet.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// --- UpgradeRecordStore ---------------------------------------------------------

func (s *Store) CreateUpgradeRecord(ctx context.Context, rec wallet.UpgradeRecord) (wallet.UpgradeRecord, error) {
	initialized, err := encodeAddresses(rec.Initialized)
	if err != nil {
		return wallet.UpgradeRecord{}, err
	}

	rec.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upgrade_records (id, account, from_version, to_version, requester, initialized, success, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Account.String(), int64(rec.FromVersion), int64(rec.ToVersion),
		rec.Requester.String(), initialized, rec.Success, rec.Reason, rec.CreatedAt)
	if err != nil {
		return wallet.UpgradeRecord{}, err
	}
	return rec, nil
}

func (s *Store) ListUpgradeRecords(ctx context.Context, account wallet.Address) ([]wallet.UpgradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, from_version, to_version, requester, initialized, success, reason, created_at
		FROM upgrade_records WHERE account = $1 ORDER BY created_at
	`, account.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.UpgradeRecord
	for rows.Next() {
		var (
			rec         wallet.UpgradeRecord
			acct        string
			from, to    int64
			requester   string
			initialized []byte
		)
		if err := rows.Scan(&rec.ID, &acct, &from, &to, &requester, &initialized, &rec.Success, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.Account, err = wallet.ParseAddress(acct); err != nil {
			return nil, err
		}
		if rec.Requester, err = wallet.ParseAddress(requester); err != nil {
			return nil, err
		}
		rec.FromVersion = wallet.VersionID(from)
		rec.ToVersion = wallet.VersionID(to)
		if rec.Initialized, err = decodeAddresses(initialized); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- NonceStore -------------------------------------------------------------------

func (s *Store) NextNonce(ctx context.Context, account wallet.Address) (uint64, error) {
	var nonce int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO account_nonces (account, nonce)
		VALUES ($1, 1)
		ON CONFLICT (account) DO UPDATE SET nonce = account_nonces.nonce + 1
		RETURNING nonce - 1
	`, account.String()).Scan(&nonce)
	if err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

func (s *Store) PeekNonce(ctx context.Context, account wallet.Address) (uint64, error) {
	var nonce int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT nonce FROM account_nonces WHERE account = $1), 0)
	`, account.String()).Scan(&nonce)
	if err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}
