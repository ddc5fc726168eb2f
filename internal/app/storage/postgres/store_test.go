package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[wallet.AddressLength-1] = b
	return a
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestAppendFeatureSetAssignsNextVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO feature_sets")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))

	fs, err := store.AppendFeatureSet(context.Background(), wallet.FeatureSet{
		Features:     []wallet.Address{addr(1), addr(2)},
		ToInitialize: []wallet.Address{addr(1)},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if fs.Version != 3 {
		t.Fatalf("expected version 3, got %d", fs.Version)
	}
}

func TestGetFeatureSetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM feature_sets WHERE version")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "features", "to_initialize", "created_at"}))

	_, err := store.GetFeatureSet(context.Background(), 42)
	if !errors.Is(err, wallet.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestGetFeatureSetDecodesAddresses(t *testing.T) {
	store, mock := newMockStore(t)
	moduleA := addr(1)

	rows := sqlmock.NewRows([]string{"version", "features", "to_initialize", "created_at"}).
		AddRow(int64(1), []byte(`["`+moduleA.String()+`"]`), []byte(`[]`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM feature_sets WHERE version")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	fs, err := store.GetFeatureSet(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(fs.Features) != 1 || fs.Features[0] != moduleA {
		t.Fatalf("unexpected features: %v", fs.Features)
	}
	if len(fs.ToInitialize) != 0 {
		t.Fatalf("unexpected to_initialize: %v", fs.ToInitialize)
	}
}

func TestGetAccountStateUnknownAccount(t *testing.T) {
	store, mock := newMockStore(t)
	account := addr(0xAA)

	mock.ExpectQuery(regexp.QuoteMeta("FROM wallet_accounts WHERE account")).
		WithArgs(account.String()).
		WillReturnRows(sqlmock.NewRows([]string{"account", "current_version", "lock_locker", "lock_expires_at", "created_at", "updated_at"}))

	state, err := store.GetAccountState(context.Background(), account)
	if err != nil {
		t.Fatalf("unknown accounts are zero-version, not errors: %v", err)
	}
	if state.CurrentVersion != wallet.NoVersion || state.Account != account {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestGetAccountStateWithLock(t *testing.T) {
	store, mock := newMockStore(t)
	account, locker := addr(0xAA), addr(2)
	expires := time.Now().Add(time.Hour).UTC()

	rows := sqlmock.NewRows([]string{"account", "current_version", "lock_locker", "lock_expires_at", "created_at", "updated_at"}).
		AddRow(account.String(), int64(2), locker.String(), expires, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM wallet_accounts WHERE account")).
		WithArgs(account.String()).
		WillReturnRows(rows)

	state, err := store.GetAccountState(context.Background(), account)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.CurrentVersion != 2 || state.Lock.Locker != locker || !state.Lock.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestRegisterStorageDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	module := addr(0x10)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storage_modules")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO storage_modules")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RegisterStorage(context.Background(), module); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := store.RegisterStorage(context.Background(), module)
	if !errors.Is(err, wallet.ErrDuplicateStorageOrModule) {
		t.Fatalf("expected ErrDuplicateStorageOrModule, got %v", err)
	}
}

func TestNextNonce(t *testing.T) {
	store, mock := newMockStore(t)
	account := addr(0xAA)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO account_nonces")).
		WithArgs(account.String()).
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO account_nonces")).
		WithArgs(account.String()).
		WillReturnRows(sqlmock.NewRows([]string{"nonce"}).AddRow(int64(1)))

	n, err := store.NextNonce(context.Background(), account)
	if err != nil || n != 0 {
		t.Fatalf("first nonce: %d, %v", n, err)
	}
	n, err = store.NextNonce(context.Background(), account)
	if err != nil || n != 1 {
		t.Fatalf("second nonce: %d, %v", n, err)
	}
}
