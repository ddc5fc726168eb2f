package wallet

import "errors"

// Rejection reasons surfaced by the core. Callers match these with
// errors.Is; the core never retries internally.
var (
	// Catalog registration failures.
	ErrDuplicateFeature         = errors.New("feature listed twice in feature set")
	ErrDuplicateStorageOrModule = errors.New("storage module already registered")
	ErrInvalidInitSubset        = errors.New("initialization list is not a subset of features")
	ErrVersionNotFound          = errors.New("feature set version not found")
	ErrNotCatalogOwner          = errors.New("caller is not the catalog owner")
	ErrEmptyFeatureSet          = errors.New("feature set must contain at least one module")

	// Authorization failures.
	ErrAccountNotUpgraded  = errors.New("account has no feature set version")
	ErrModuleNotAuthorized = errors.New("module not authorized for account version")
	ErrModuleNotRegistered = errors.New("module not present in registry")
	ErrStaticCallRequired  = errors.New("read-only call class inside mutating context")
	ErrAccountLocked       = errors.New("account is locked")
	ErrNotLocker           = errors.New("lock may only be released by the module that set it")

	// Upgrade failures.
	ErrInvalidVersion       = errors.New("target version does not exist")
	ErrAlreadyOnVersion     = errors.New("account already on target version")
	ErrNotOwnerAuthority    = errors.New("requester is not the account owner authority")
	ErrUpgradeInProgress    = errors.New("upgrade already in progress for account")
	ErrInitializationFailed = errors.New("module initialization failed")

	// Storage invocation failures.
	ErrUnregisteredStorage = errors.New("storage module not registered")
	ErrTargetMismatch      = errors.New("encoded call targets a different account")
	ErrStorageCallFailed   = errors.New("storage module call failed")
	ErrMalformedCall       = errors.New("encoded call is malformed")
)

// ErrorKind classifies a rejection into the coarse taxonomy used for
// metrics and API responses.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindAuthorization  ErrorKind = "authorization"
	KindVersion        ErrorKind = "version"
	KindInitialization ErrorKind = "initialization"
	KindStorage        ErrorKind = "storage"
	KindUnknown        ErrorKind = "unknown"
)

// KindOf returns the taxonomy kind for a core rejection. Wrapped errors
// are unwrapped via errors.Is.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDuplicateFeature),
		errors.Is(err, ErrDuplicateStorageOrModule),
		errors.Is(err, ErrInvalidInitSubset),
		errors.Is(err, ErrEmptyFeatureSet):
		return KindConfiguration
	case errors.Is(err, ErrNotCatalogOwner),
		errors.Is(err, ErrAccountNotUpgraded),
		errors.Is(err, ErrModuleNotAuthorized),
		errors.Is(err, ErrModuleNotRegistered),
		errors.Is(err, ErrStaticCallRequired),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrNotLocker),
		errors.Is(err, ErrNotOwnerAuthority):
		return KindAuthorization
	case errors.Is(err, ErrInvalidVersion),
		errors.Is(err, ErrAlreadyOnVersion),
		errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrUpgradeInProgress):
		return KindVersion
	case errors.Is(err, ErrInitializationFailed):
		return KindInitialization
	case errors.Is(err, ErrUnregisteredStorage),
		errors.Is(err, ErrTargetMismatch),
		errors.Is(err, ErrStorageCallFailed),
		errors.Is(err, ErrMalformedCall):
		return KindStorage
	default:
		return KindUnknown
	}
}
