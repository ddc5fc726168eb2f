package wallet

import "time"

// Lock records a temporary lock placed on an account by a module with
// lock privilege. A lock past its expiry is treated as released.
type Lock struct {
	Locker    Address
	ExpiresAt time.Time
}

// Active reports whether the lock is still in force at t.
func (l Lock) Active(t time.Time) bool {
	return l.Locker != ZeroAddress && t.Before(l.ExpiresAt)
}

// AccountState is the per-account record owned by the core. The set of
// authorized modules is never stored here: it is always derived from the
// feature set bound to CurrentVersion.
type AccountState struct {
	Account        Address
	CurrentVersion VersionID
	Lock           Lock
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Locked reports whether the account is locked at t.
func (s AccountState) Locked(t time.Time) bool {
	return s.Lock.Active(t)
}

// UpgradeRecord is the audit record written for every upgrade attempt,
// successful or not.
type UpgradeRecord struct {
	ID          string
	Account     Address
	FromVersion VersionID
	ToVersion   VersionID
	Requester   Address
	Initialized []Address
	Success     bool
	Reason      string
	CreatedAt   time.Time
}
