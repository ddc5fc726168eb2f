// Package dispatch is the core entry layer capability modules call into.
// Every path runs the authorization gate first, then either forwards a
// generic call to the account's proxy, routes a storage write through the
// storage gate, or hands an upgrade request to the upgrade engine.
package dispatch

import (
	"context"
	"math/big"

	"github.com/Meridian-Labs/wallet_layer/internal/app/services/authgate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/storagegate"
	"github.com/Meridian-Labs/wallet_layer/internal/app/services/upgrade"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// Proxy forwards an arbitrary call from the account to a target. The
// minimal forwarding proxy itself is external infrastructure; the core
// only drives it.
type Proxy interface {
	Forward(ctx context.Context, account, target wallet.Address, value *big.Int, data []byte) ([]byte, error)
	// StaticForward performs a guaranteed side-effect-free call.
	StaticForward(ctx context.Context, account, target wallet.Address, data []byte) ([]byte, error)
}

// Service wires the gates and the engine behind one entry surface.
type Service struct {
	gate        *authgate.Service
	storageGate *storagegate.Service
	upgrades    *upgrade.Service
	proxy       Proxy
	log         *logger.Logger
}

// New constructs the dispatcher.
func New(gate *authgate.Service, storageGate *storagegate.Service, upgrades *upgrade.Service, proxy Proxy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	return &Service{gate: gate, storageGate: storageGate, upgrades: upgrades, proxy: proxy, log: log}
}

// Forward relays a mutating call from callingModule through the account's
// proxy. execContext comes from the substrate, not from the module.
func (s *Service) Forward(ctx context.Context, account, callingModule, target wallet.Address, value *big.Int, data []byte, execContext wallet.CallContext) ([]byte, error) {
	if err := s.gate.Authorize(ctx, account, callingModule, wallet.Mutating, execContext); err != nil {
		return nil, err
	}
	return s.proxy.Forward(ctx, account, target, value, data)
}

// Probe relays a read-only capability probe. The gate independently
// verifies the execution context is side-effect-free.
func (s *Service) Probe(ctx context.Context, account, callingModule, target wallet.Address, data []byte, execContext wallet.CallContext) ([]byte, error) {
	if err := s.gate.Authorize(ctx, account, callingModule, wallet.ReadOnly, execContext); err != nil {
		return nil, err
	}
	return s.proxy.StaticForward(ctx, account, target, data)
}

// InvokeStorage routes a storage write through the storage gate after the
// caller passes the authorization gate for a mutating call.
func (s *Service) InvokeStorage(ctx context.Context, account, callingModule, storageModule wallet.Address, call wallet.EncodedCall, execContext wallet.CallContext) ([]byte, error) {
	if err := s.gate.Authorize(ctx, account, callingModule, wallet.Mutating, execContext); err != nil {
		return nil, err
	}
	return s.storageGate.InvokeStorage(ctx, account, storageModule, call, callingModule)
}

// Upgrade hands an upgrade request to the engine. The engine gates on the
// ownership oracle itself: the very first upgrade (version 0 to 1) could
// never pass the module authorization check, since an unversioned account
// authorizes nothing.
func (s *Service) Upgrade(ctx context.Context, account, requester wallet.Address, toVersion wallet.VersionID) (wallet.UpgradeRecord, error) {
	return s.upgrades.UpgradeAccount(ctx, account, requester, toVersion)
}
