package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of an account or module address.
const AddressLength = 20

// Address identifies an account, module, or storage module on the
// execution substrate.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address, used as "no address".
var ZeroAddress = Address{}

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("invalid address length %d, want %d", len(raw), AddressLength)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// BytesToAddress converts b to an Address, left-padding or truncating to
// the leftmost AddressLength bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// String returns the 0x-prefixed hex encoding of the address.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CompareAddresses orders addresses lexicographically by their bytes.
func CompareAddresses(a, b Address) int { return bytes.Compare(a[:], b[:]) }
