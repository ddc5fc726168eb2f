package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Meridian-Labs/wallet_layer/internal/app/adapters"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/authgate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/catalog"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/dispatch"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/relayer"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/storagegate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/upgrade"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage/memory"
	"github.com/Meridian-Labs/wallet_layer/internal/middleware"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

var testSecret = []byte("test-secret")

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[wallet.AddressLength-1] = b
	return a
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, relayer.Transaction, []relayer.Signature) error {
	return nil
}

type apiFixture struct {
	server  *httptest.Server
	owner   wallet.Address
	account wallet.Address
	module  wallet.Address
}

func newFixture(t *testing.T) apiFixture {
	t.Helper()
	store := memory.New()
	owner, account, module := addr(0xEE), addr(0xAA), addr(1)

	registry := adapters.NewAllowlistRegistry(module)
	oracle := adapters.NewStaticOwnerOracle()
	oracle.SetOwner(account, owner)

	cat := catalog.New(store, store, owner, nil)
	gate := authgate.New(store, store, registry, nil)
	engine := upgrade.New(store, store, store, store, oracle, adapters.NewLocalModules(), nil)
	storageGate := storagegate.New(store, adapters.NewLocalStorageModules(), nil)
	dispatcher := dispatch.New(gate, storageGate, engine, &adapters.RecordingProxy{}, nil)
	relay := relayer.New(store, noopExecutor{}, nil)

	srv := New(cat, gate, engine, dispatcher, relay, nil)
	auth := middleware.NewAuthMiddleware(testSecret, nil, []string{"/healthz", "/metrics"})
	ts := httptest.NewServer(srv.Router(auth.Handler))
	t.Cleanup(ts.Close)

	return apiFixture{server: ts, owner: owner, account: account, module: module}
}

func tokenFor(t *testing.T, subject wallet.Address) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		Subject: subject.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, f apiFixture, method, path string, as wallet.Address, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, as))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthzNeedsNoToken(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/featuresets")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCatalogAndUpgradeFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := doRequest(t, f, http.MethodPost, "/featuresets", f.owner, map[string]interface{}{
		"features":      []string{f.module.String()},
		"to_initialize": []string{f.module.String()},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add feature set: %d %v", resp.StatusCode, body)
	}
	if body["version"].(float64) != 1 {
		t.Fatalf("expected version 1, got %v", body["version"])
	}

	// Non-owner writes are forbidden.
	resp, _ = doRequest(t, f, http.MethodPost, "/featuresets", f.account, map[string]interface{}{
		"features": []string{f.module.String()},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", resp.StatusCode)
	}

	upgradePath := fmt.Sprintf("/accounts/%s/upgrade", f.account)
	resp, body = doRequest(t, f, http.MethodPost, upgradePath, f.owner, map[string]interface{}{"to_version": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upgrade: %d %v", resp.StatusCode, body)
	}

	// Repeating the same version conflicts.
	resp, _ = doRequest(t, f, http.MethodPost, upgradePath, f.owner, map[string]interface{}{"to_version": 1})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, f, http.MethodGet, "/accounts/"+f.account.String(), f.owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: %d", resp.StatusCode)
	}
	mods := body["authorized_modules"].([]interface{})
	if len(mods) != 1 || mods[0].(string) != f.module.String() {
		t.Fatalf("unexpected authorized modules: %v", mods)
	}
}

func TestForwardEndpoint(t *testing.T) {
	f := newFixture(t)

	// Seed catalog and bind the account.
	doRequest(t, f, http.MethodPost, "/featuresets", f.owner, map[string]interface{}{
		"features": []string{f.module.String()},
	})
	doRequest(t, f, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", f.account), f.owner,
		map[string]interface{}{"to_version": 1})

	callsPath := fmt.Sprintf("/accounts/%s/calls", f.account)
	resp, body := doRequest(t, f, http.MethodPost, callsPath, f.module, map[string]interface{}{
		"target": addr(0x77).String(),
		"value":  "10",
		"data":   "0x01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forward: %d %v", resp.StatusCode, body)
	}

	// A module outside the feature set is rejected by the gate.
	resp, _ = doRequest(t, f, http.MethodPost, callsPath, addr(9), map[string]interface{}{
		"target": addr(0x77).String(),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestRelayFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := doRequest(t, f, http.MethodPost, "/relay", f.owner, map[string]interface{}{
		"account":   f.account.String(),
		"target":    addr(0x77).String(),
		"value":     "1",
		"data":      "0x0102",
		"threshold": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("prepare: %d %v", resp.StatusCode, body)
	}
	id := body["id"].(string)

	for i, signer := range []wallet.Address{addr(5), addr(3)} {
		resp, body = doRequest(t, f, http.MethodPost, "/relay/"+id+"/signatures", f.owner, map[string]interface{}{
			"signer":    signer.String(),
			"signature": "0xaabb",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("signature %d: %d %v", i, resp.StatusCode, body)
		}
	}
	if body["status"].(string) != string(relayer.StatusReady) {
		t.Fatalf("expected ready, got %v", body["status"])
	}

	resp, body = doRequest(t, f, http.MethodPost, "/relay/"+id+"/execute", f.owner, nil)
	if resp.StatusCode != http.StatusOK || body["status"].(string) != string(relayer.StatusExecuted) {
		t.Fatalf("execute: %d %v", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, f, http.MethodGet, "/relay/does-not-exist", f.owner, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLockEndpoints(t *testing.T) {
	f := newFixture(t)
	lockPath := fmt.Sprintf("/accounts/%s/lock", f.account)
	lockBody := map[string]interface{}{
		"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	}

	// An identity that never passed the gate cannot lock the account,
	// even with a valid token.
	resp, _ := doRequest(t, f, http.MethodPost, lockPath, addr(9), lockBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthorized lock: expected 403, got %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, f, http.MethodPost, lockPath, f.module, lockBody)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("lock on unversioned account: expected 403, got %d", resp.StatusCode)
	}

	// Seed the catalog and bind the account so the module is authorized.
	doRequest(t, f, http.MethodPost, "/featuresets", f.owner, map[string]interface{}{
		"features": []string{f.module.String()},
	})
	doRequest(t, f, http.MethodPost, fmt.Sprintf("/accounts/%s/upgrade", f.account), f.owner,
		map[string]interface{}{"to_version": 1})

	resp, body := doRequest(t, f, http.MethodPost, lockPath, f.module, lockBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set lock: %d %v", resp.StatusCode, body)
	}
	if body["locker"].(string) != f.module.String() {
		t.Fatalf("unexpected locker: %v", body["locker"])
	}

	// Only the locker can release.
	resp, _ = doRequest(t, f, http.MethodDelete, lockPath, addr(9), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp, body = doRequest(t, f, http.MethodDelete, lockPath, f.module, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release: %d %v", resp.StatusCode, body)
	}
	if _, locked := body["locker"]; locked {
		t.Fatalf("lock should be cleared: %v", body)
	}
}
