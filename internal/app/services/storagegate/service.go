// Package storagegate validates and forwards module requests that mutate
// a registered storage module's state. It trusts that the authorization
// gate already ran on the caller path and only enforces storage-specific
// rules: the target must be registered and the encoded call must act on
// the same account the caller was authorized against.
package storagegate

import (
	"context"
	"fmt"

	"github.com/Meridian-Labs/wallet_layer/internal/app/metrics"
	"github.com/Meridian-Labs/wallet_layer/internal/app/storage"
	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
	"github.com/Meridian-Labs/wallet_layer/pkg/logger"
)

// StorageInvoker delivers an encoded call to a storage module. The call
// is forwarded verbatim; whatever rollback the storage module provides is
// all the rollback there is beyond the enclosing transaction boundary.
type StorageInvoker interface {
	InvokeStorageModule(ctx context.Context, storageModule wallet.Address, call wallet.EncodedCall) ([]byte, error)
}

// Service is the storage invocation gate.
type Service struct {
	registry storage.StorageRegistryStore
	invoker  StorageInvoker
	log      *logger.Logger
}

// New constructs a storage invocation gate.
func New(registry storage.StorageRegistryStore, invoker StorageInvoker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("storagegate")
	}
	return &Service{registry: registry, invoker: invoker, log: log}
}

// InvokeStorage forwards call to storageModule on behalf of account. The
// embedded target check runs before the registration check so a module
// can never learn registry contents by probing with redirected calls.
func (s *Service) InvokeStorage(ctx context.Context, account, storageModule wallet.Address, call wallet.EncodedCall, callingModule wallet.Address) (out []byte, err error) {
	defer func() { metrics.RecordStorageCall(err) }()

	target, err := call.TargetAccount()
	if err != nil {
		return nil, err
	}
	if target != account {
		return nil, fmt.Errorf("%w: call targets %s, authorized for %s", wallet.ErrTargetMismatch, target, account)
	}

	registered, err := s.registry.IsRegisteredStorage(ctx, storageModule)
	if err != nil {
		return nil, fmt.Errorf("storage registry: %w", err)
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s", wallet.ErrUnregisteredStorage, storageModule)
	}

	out, err = s.invoker.InvokeStorageModule(ctx, storageModule, call)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wallet.ErrStorageCallFailed, err)
	}

	s.log.WithField("account", account).
		WithField("storage_module", storageModule).
		WithField("calling_module", callingModule).
		Debug("storage call forwarded")
	return out, nil
}
