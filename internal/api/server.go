// Package api exposes the wallet layer over HTTP: read-only inspection of
// the catalog and account state, owner-gated catalog writes, upgrade
// triggering, and the relayer endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Meridian-Labs/wallet_layer/internal/app/metrics"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/authgate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/catalog"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/dispatch"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/relayer"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/upgrade"
	"github.com/Meridian-Labs/wallet_layer/internal/middleware"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// Server bundles the HTTP handlers for the wallet layer.
type Server struct {
	catalog    *catalog.Service
	gate       *authgate.Service
	upgrades   *upgrade.Service
	dispatcher *dispatch.Service
	relay      *relayer.Service
	log        *logger.Logger
}

// New constructs the API server.
func New(cat *catalog.Service, gate *authgate.Service, upgrades *upgrade.Service, dispatcher *dispatch.Service, relay *relayer.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("api")
	}
	return &Server{catalog: cat, gate: gate, upgrades: upgrades, dispatcher: dispatcher, relay: relay, log: log}
}

// Router builds the route table with the provided middleware applied to
// every handler.
func (s *Server) Router(mws ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(mws...)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/featuresets", s.handleListFeatureSets).Methods(http.MethodGet)
	r.HandleFunc("/featuresets", s.handleAddFeatureSet).Methods(http.MethodPost)
	r.HandleFunc("/featuresets/{version}", s.handleGetFeatureSet).Methods(http.MethodGet)

	r.HandleFunc("/storagemodules", s.handleListStorageModules).Methods(http.MethodGet)
	r.HandleFunc("/storagemodules", s.handleRegisterStorageModule).Methods(http.MethodPost)

	r.HandleFunc("/accounts/{account}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/upgrade", s.handleUpgrade).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{account}/upgrades", s.handleUpgradeHistory).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/calls", s.handleForward).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{account}/probe", s.handleProbe).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{account}/storage", s.handleInvokeStorage).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{account}/lock", s.handleSetLock).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{account}/lock", s.handleReleaseLock).Methods(http.MethodDelete)

	r.HandleFunc("/relay", s.handlePrepareRelay).Methods(http.MethodPost)
	r.HandleFunc("/relay/{id}", s.handleGetRelay).Methods(http.MethodGet)
	r.HandleFunc("/relay/{id}/signatures", s.handleAddSignature).Methods(http.MethodPost)
	r.HandleFunc("/relay/{id}/execute", s.handleExecuteRelay).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// callerAddress resolves the acting address from the request token.
func callerAddress(r *http.Request) (wallet.Address, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.Subject == "" {
		return wallet.Address{}, errors.New("no authenticated caller address")
	}
	return wallet.ParseAddress(claims.Subject)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(wallet.KindOf(err)),
	})
}

// statusFor maps core rejections onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, relayer.ErrTransactionNotFound):
		return http.StatusNotFound
	}
	switch wallet.KindOf(err) {
	case wallet.KindConfiguration:
		return http.StatusBadRequest
	case wallet.KindAuthorization:
		return http.StatusForbidden
	case wallet.KindVersion:
		return http.StatusConflict
	case wallet.KindInitialization:
		return http.StatusConflict
	case wallet.KindStorage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
