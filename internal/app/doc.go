// Package app composes the wallet layer's core: storage interfaces and
// their implementations, the domain services, and the adapters that stand
// in for on-substrate infrastructure.
//
//	internal/app/
//	├── storage/            # Store interfaces, memory and postgres backends
//	├── services/
//	│   ├── catalog/        # Feature-set catalog and storage registry
//	│   ├── authgate/       # Authorization gate and account locks
//	│   ├── upgrade/        # Version binding and one-time module init
//	│   ├── storagegate/    # Storage invocation gate
//	│   ├── dispatch/       # Entry surface modules call into
//	│   └── relayer/        # Off-chain multi-signer relaying
//	├── adapters/           # Registry, ownership oracle, local module hosts
//	└── metrics/            # Prometheus collectors for the HTTP surface
package app
