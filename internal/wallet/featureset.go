package wallet

import "time"

// VersionID identifies a feature set in the catalog. Versions are 1-based
// and contiguous; 0 means "unversioned".
type VersionID uint64

// NoVersion is the version of an account that has never been upgraded.
const NoVersion VersionID = 0

// FeatureSet is an immutable, numbered bundle of capability modules
// authorized together. ToInitialize marks the subset of Features whose
// one-time setup hook runs when a module is first authorized for an
// account.
type FeatureSet struct {
	Version      VersionID
	Features     []Address
	ToInitialize []Address
	CreatedAt    time.Time
}

// HasFeature reports whether the module is part of this feature set.
func (fs FeatureSet) HasFeature(module Address) bool {
	for _, f := range fs.Features {
		if f == module {
			return true
		}
	}
	return false
}

// RequiresInit reports whether the module is in the initialization subset.
func (fs FeatureSet) RequiresInit(module Address) bool {
	for _, f := range fs.ToInitialize {
		if f == module {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stored entries stay immutable.
func (fs FeatureSet) Clone() FeatureSet {
	out := fs
	out.Features = append([]Address(nil), fs.Features...)
	out.ToInitialize = append([]Address(nil), fs.ToInitialize...)
	return out
}

// Validate checks the creation-time invariants: no duplicate features and
// ToInitialize ⊆ Features. Violations are rejected here, never at use time.
func (fs FeatureSet) Validate() error {
	if len(fs.Features) == 0 {
		return ErrEmptyFeatureSet
	}
	seen := make(map[Address]struct{}, len(fs.Features))
	for _, f := range fs.Features {
		if _, dup := seen[f]; dup {
			return ErrDuplicateFeature
		}
		seen[f] = struct{}{}
	}
	for _, m := range fs.ToInitialize {
		if _, ok := seen[m]; !ok {
			return ErrInvalidInitSubset
		}
	}
	return nil
}
