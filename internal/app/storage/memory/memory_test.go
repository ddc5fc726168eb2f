package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[wallet.AddressLength-1] = b
	return a
}

func TestCatalogVersionsAreSequential(t *testing.T) {
	store := New()

	for i := 1; i <= 3; i++ {
		fs, err := store.AppendFeatureSet(context.Background(), wallet.FeatureSet{Features: []wallet.Address{addr(byte(i))}})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if fs.Version != wallet.VersionID(i) {
			t.Fatalf("expected version %d, got %d", i, fs.Version)
		}
	}

	latest, err := store.LatestVersion(context.Background())
	if err != nil || latest != 3 {
		t.Fatalf("latest: %d, %v", latest, err)
	}
	if _, err := store.GetFeatureSet(context.Background(), 9); !errors.Is(err, wallet.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestFeatureSetsAreImmutable(t *testing.T) {
	store := New()
	features := []wallet.Address{addr(1), addr(2)}

	if _, err := store.AppendFeatureSet(context.Background(), wallet.FeatureSet{Features: features}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Mutating the caller's slice or the returned copy must not leak into
	// the stored entry.
	features[0] = addr(9)
	got, err := store.GetFeatureSet(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Features[0] != addr(1) {
		t.Fatalf("stored set mutated through caller slice")
	}
	got.Features[1] = addr(9)
	again, _ := store.GetFeatureSet(context.Background(), 1)
	if again.Features[1] != addr(2) {
		t.Fatalf("stored set mutated through returned copy")
	}
}

func TestAccountStateRoundTrip(t *testing.T) {
	store := New()
	account := addr(0xAA)

	state, err := store.GetAccountState(context.Background(), account)
	if err != nil {
		t.Fatalf("unknown account should not error: %v", err)
	}
	if state.CurrentVersion != wallet.NoVersion {
		t.Fatalf("unknown account must be unversioned, got %d", state.CurrentVersion)
	}

	if err := store.PutAccountState(context.Background(), wallet.AccountState{Account: account, CurrentVersion: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	state, err = store.GetAccountState(context.Background(), account)
	if err != nil || state.CurrentVersion != 2 {
		t.Fatalf("round trip: %+v, %v", state, err)
	}
}

func TestInitRecords(t *testing.T) {
	store := New()
	account, module := addr(0xAA), addr(1)

	done, err := store.HasInitialized(context.Background(), account, module)
	if err != nil || done {
		t.Fatalf("fresh pair should be uninitialized: %v, %v", done, err)
	}
	if err := store.MarkInitialized(context.Background(), account, module); err != nil {
		t.Fatalf("mark: %v", err)
	}
	// Marking twice is a no-op.
	if err := store.MarkInitialized(context.Background(), account, module); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	done, err = store.HasInitialized(context.Background(), account, module)
	if err != nil || !done {
		t.Fatalf("expected initialized: %v, %v", done, err)
	}
	mods, err := store.ListInitialized(context.Background(), account)
	if err != nil || len(mods) != 1 {
		t.Fatalf("list: %v, %v", mods, err)
	}
}

func TestStorageRegistry(t *testing.T) {
	store := New()
	module := addr(0x10)

	if err := store.RegisterStorage(context.Background(), module); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.RegisterStorage(context.Background(), module); !errors.Is(err, wallet.ErrDuplicateStorageOrModule) {
		t.Fatalf("expected ErrDuplicateStorageOrModule, got %v", err)
	}
	ok, err := store.IsRegisteredStorage(context.Background(), module)
	if err != nil || !ok {
		t.Fatalf("registered lookup: %v, %v", ok, err)
	}
	ok, err = store.IsRegisteredStorage(context.Background(), addr(0x11))
	if err != nil || ok {
		t.Fatalf("unregistered lookup: %v, %v", ok, err)
	}
}

func TestNonces(t *testing.T) {
	store := New()
	a, b := addr(0xAA), addr(0xBB)

	for want := uint64(0); want < 3; want++ {
		n, err := store.NextNonce(context.Background(), a)
		if err != nil || n != want {
			t.Fatalf("nonce: got %d want %d (%v)", n, want, err)
		}
	}
	// Per-account counters are independent.
	n, err := store.NextNonce(context.Background(), b)
	if err != nil || n != 0 {
		t.Fatalf("account b nonce: %d, %v", n, err)
	}
	peek, err := store.PeekNonce(context.Background(), a)
	if err != nil || peek != 3 {
		t.Fatalf("peek: %d, %v", peek, err)
	}
}
