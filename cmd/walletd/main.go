// Package main runs the wallet layer daemon: the feature-set catalog,
// authorization gate, upgrade engine, storage gate, and relayer behind an
// HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/Meridian-Labs/wallet_layer/internal/api"
	"github.com/Meridian-Labs/wallet_layer/internal/app/adapters"
	"github.com/Meridian-Labs/wallet_layer/internal/app/metrics"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/authgate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/catalog"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/dispatch"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/relayer"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/storagegate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/upgrade"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage/memory"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage/postgres"
	"github.com/Meridian-Labs/wallet_layer/internal/config"
	"github.com/Meridian-Labs/wallet_layer/internal/middleware"
	"github.com/Meridian-Labs/wallet_layer/internal/platform/migrations"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// stores groups the storage interfaces the daemon wires together.
type stores struct {
	catalog  storage.CatalogStore
	accounts storage.AccountStore
	inits    storage.InitRecordStore
	registry storage.StorageRegistryStore
	records  storage.UpgradeRecordStore
	nonces   storage.NonceStore
}

func main() {
	configPath := flag.String("config", "config/walletd.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address override")
	flag.Parse()

	// Optional .env bootstrap for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if v := os.Getenv("WALLETD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WALLETD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("WALLETD_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	mainLog := logger.NewDefault("walletd")

	st, cleanup, err := openStores(cfg, mainLog)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer cleanup()

	owner, err := parseOwner(cfg.Catalog.Owner)
	if err != nil {
		log.Fatalf("catalog owner: %v", err)
	}

	registry := adapters.NewAllowlistRegistry()
	for _, raw := range cfg.Registry.Modules {
		module, err := wallet.ParseAddress(raw)
		if err != nil {
			log.Fatalf("registry module %q: %v", raw, err)
		}
		registry.Register(module)
	}

	oracle := adapters.NewStaticOwnerOracle()
	for rawAccount, rawOwner := range cfg.Owners {
		account, err := wallet.ParseAddress(rawAccount)
		if err != nil {
			log.Fatalf("owner map account %q: %v", rawAccount, err)
		}
		ownerAddr, err := wallet.ParseAddress(rawOwner)
		if err != nil {
			log.Fatalf("owner map owner %q: %v", rawOwner, err)
		}
		oracle.SetOwner(account, ownerAddr)
	}

	catalogSvc := catalog.New(st.catalog, st.registry, owner, logger.NewDefault("catalog"))
	gate := authgate.New(st.accounts, st.catalog, registry, logger.NewDefault("authgate"))
	engine := upgrade.New(st.accounts, st.catalog, st.inits, st.records, oracle, adapters.NewLocalModules(), logger.NewDefault("upgrade"))
	storageGate := storagegate.New(st.registry, adapters.NewLocalStorageModules(), logger.NewDefault("storagegate"))
	dispatcher := dispatch.New(gate, storageGate, engine, &adapters.RecordingProxy{}, logger.NewDefault("dispatch"))
	relay := relayer.New(st.nonces, noopExecutor{}, logger.NewDefault("relayer"))

	server := api.New(catalogSvc, gate, engine, dispatcher, relay, logger.NewDefault("api"))

	auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), logger.NewDefault("auth"), cfg.Auth.SkipPaths)
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, logger.NewDefault("ratelimit"))
	limiter.StartCleanup(10 * time.Minute)

	handler := metrics.InstrumentHandler(server.Router(auth.Handler, limiter.Handler))

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		mainLog.WithField("addr", cfg.Server.Addr).Info("wallet layer listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	mainLog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		mainLog.WithError(err).Error("shutdown failed")
	}
}

func parseOwner(raw string) (wallet.Address, error) {
	if raw == "" {
		// No owner configured: catalog writes are effectively disabled
		// until one is set, which is the safe default.
		return wallet.ZeroAddress, nil
	}
	return wallet.ParseAddress(raw)
}

func openStores(cfg *config.Config, log *logger.Logger) (stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, using in-memory store")
		mem := memory.New()
		return stores{
			catalog:  mem,
			accounts: mem,
			inits:    mem,
			registry: mem,
			records:  mem,
			nonces:   mem,
		}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return stores{}, nil, err
	}
	if err := migrations.Apply(context.Background(), db); err != nil {
		db.Close()
		return stores{}, nil, err
	}

	pg := postgres.New(db)
	log.Info("using postgres store")
	return stores{
		catalog:  pg,
		accounts: pg,
		inits:    pg,
		registry: pg,
		records:  pg,
		nonces:   pg,
	}, func() { db.Close() }, nil
}

// noopExecutor accepts relay handoffs when no execution entry point is
// configured. Deployments targeting a live substrate replace this.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, relayer.Transaction, []relayer.Signature) error {
	return nil
}
