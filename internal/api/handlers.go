package api

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Meridian-Labs/wallet_layer/internal/app/services/relayer"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

type featureSetResponse struct {
	Version      wallet.VersionID `json:"version"`
	Features     []string         `json:"features"`
	ToInitialize []string         `json:"to_initialize"`
	CreatedAt    string           `json:"created_at"`
}

func toFeatureSetResponse(fs wallet.FeatureSet) featureSetResponse {
	return featureSetResponse{
		Version:      fs.Version,
		Features:     addressStrings(fs.Features),
		ToInitialize: addressStrings(fs.ToInitialize),
		CreatedAt:    fs.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func addressStrings(addrs []wallet.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func parseAddresses(strs []string) ([]wallet.Address, error) {
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

// --- catalog ------------------------------------------------------------------

func (s *Server) handleListFeatureSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.catalog.ListFeatureSets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]featureSetResponse, 0, len(sets))
	for _, fs := range sets {
		out = append(out, toFeatureSetResponse(fs))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetFeatureSet(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["version"]
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid version"})
		return
	}
	fs, err := s.catalog.GetFeatureSet(r.Context(), wallet.VersionID(version))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeatureSetResponse(fs))
}

func (s *Server) handleAddFeatureSet(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		Features     []string `json:"features"`
		ToInitialize []string `json:"to_initialize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	features, err := parseAddresses(req.Features)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	toInit, err := parseAddresses(req.ToInitialize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	fs, err := s.catalog.AddFeatureSet(r.Context(), caller, features, toInit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeatureSetResponse(fs))
}

func (s *Server) handleListStorageModules(w http.ResponseWriter, r *http.Request) {
	mods, err := s.catalog.ListStorageModules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressStrings(mods))
}

func (s *Server) handleRegisterStorageModule(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	addr, err := wallet.ParseAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.catalog.RegisterStorageModule(r.Context(), caller, addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": addr.String()})
}

// --- accounts -----------------------------------------------------------------

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	modules, err := s.gate.AuthorizedModules(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":            account.String(),
		"authorized_modules": addressStrings(modules),
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	requester, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		ToVersion uint64 `json:"to_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rec, err := s.upgrades.UpgradeAccount(r.Context(), account, requester, wallet.VersionID(req.ToVersion))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpgradeHistory(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	recs, err := s.upgrades.History(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- dispatch -----------------------------------------------------------------

// decodeHex parses 0x-prefixed or bare hex.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// forwardRequest is shared by the forward and probe endpoints. The acting
// module comes from the request token; over HTTP the execution context is
// always what the module claims, so the substrate-derived context equals
// the call class.
type forwardRequest struct {
	Target string `json:"target"`
	Value  string `json:"value"`
	Data   string `json:"data"`
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req forwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	target, err := wallet.ParseAddress(req.Target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid value"})
			return
		}
	}
	data, err := decodeHex(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid data hex"})
		return
	}

	out, err := s.dispatcher.Forward(r.Context(), account, caller, target, value, data, wallet.Mutating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "0x" + hex.EncodeToString(out)})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req forwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	target, err := wallet.ParseAddress(req.Target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, err := decodeHex(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid data hex"})
		return
	}

	out, err := s.dispatcher.Probe(r.Context(), account, caller, target, data, wallet.ReadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "0x" + hex.EncodeToString(out)})
}

func (s *Server) handleInvokeStorage(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		StorageModule string `json:"storage_module"`
		Call          string `json:"call"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	storageModule, err := wallet.ParseAddress(req.StorageModule)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	call, err := decodeHex(req.Call)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid call hex"})
		return
	}

	out, err := s.dispatcher.InvokeStorage(r.Context(), account, caller, storageModule, wallet.EncodedCall(call), wallet.Mutating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "0x" + hex.EncodeToString(out)})
}

// --- locks --------------------------------------------------------------------

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var req struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// Locking is a mutating privilege: the caller must pass the gate for
	// this account before it may touch the lock.
	if err := s.gate.Authorize(r.Context(), account, caller, wallet.Mutating, wallet.Mutating); err != nil {
		writeError(w, err)
		return
	}

	state, err := s.gate.SetLock(r.Context(), account, caller, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLockResponse(state))
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	account, err := wallet.ParseAddress(mux.Vars(r)["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	if err := s.gate.Authorize(r.Context(), account, caller, wallet.Mutating, wallet.Mutating); err != nil {
		writeError(w, err)
		return
	}

	state, err := s.gate.ReleaseLock(r.Context(), account, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLockResponse(state))
}

func toLockResponse(state wallet.AccountState) map[string]interface{} {
	out := map[string]interface{}{
		"account":         state.Account.String(),
		"current_version": state.CurrentVersion,
	}
	if state.Lock.Locker != wallet.ZeroAddress {
		out["locker"] = state.Lock.Locker.String()
		out["lock_expires_at"] = state.Lock.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

// --- relayer ------------------------------------------------------------------

func (s *Server) handlePrepareRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account   string `json:"account"`
		Target    string `json:"target"`
		Value     string `json:"value"`
		Data      string `json:"data"`
		Threshold int    `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	account, err := wallet.ParseAddress(req.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	target, err := wallet.ParseAddress(req.Target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid value"})
			return
		}
	}
	data, err := hex.DecodeString(strings.TrimPrefix(req.Data, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid data hex"})
		return
	}

	tx, err := s.relay.Prepare(r.Context(), account, target, value, data, req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRelayResponse(tx))
}

func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	tx, err := s.relay.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelayResponse(tx))
}

func (s *Server) handleAddSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signer    string `json:"signer"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	signer, err := wallet.ParseAddress(req.Signer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature hex"})
		return
	}

	tx, err := s.relay.AddSignature(r.Context(), mux.Vars(r)["id"], relayer.Signature{Signer: signer, Data: sig})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelayResponse(tx))
}

func (s *Server) handleExecuteRelay(w http.ResponseWriter, r *http.Request) {
	tx, err := s.relay.Execute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelayResponse(tx))
}

func toRelayResponse(tx relayer.Transaction) map[string]interface{} {
	value := "0"
	if tx.Value != nil {
		value = tx.Value.String()
	}
	return map[string]interface{}{
		"id":        tx.ID,
		"account":   tx.Account.String(),
		"target":    tx.Target.String(),
		"value":     value,
		"nonce":     tx.Nonce,
		"digest":    "0x" + hex.EncodeToString(tx.Digest[:]),
		"threshold": tx.Threshold,
		"status":    string(tx.Status),
	}
}
