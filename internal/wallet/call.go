package wallet

// CallContext distinguishes the two invocation classes the substrate can
// provide. It is threaded explicitly through every entry point; the
// outermost dispatch layer derives it from the transaction mode.
type CallContext uint8

const (
	// Mutating is a plain call that may change state.
	Mutating CallContext = iota
	// ReadOnly is a side-effect-free probe guaranteed by the substrate.
	ReadOnly
)

// String returns the call class name.
func (c CallContext) String() string {
	if c == ReadOnly {
		return "read-only"
	}
	return "mutating"
}

const (
	selectorLength = 4
	wordLength     = 32
	// minEncodedCallLength is a selector plus one address word, the
	// smallest call a storage module accepts.
	minEncodedCallLength = selectorLength + wordLength
)

// EncodedCall is an opaque call payload forwarded verbatim to a storage
// module: a 4-byte selector followed by 32-byte parameter words. By
// convention the first word is the target account, right-aligned.
type EncodedCall []byte

// Selector returns the 4-byte method selector, or nil if the payload is
// too short.
func (c EncodedCall) Selector() []byte {
	if len(c) < selectorLength {
		return nil
	}
	return c[:selectorLength]
}

// TargetAccount extracts the account address embedded as the first
// parameter word.
func (c EncodedCall) TargetAccount() (Address, error) {
	if len(c) < minEncodedCallLength {
		return Address{}, ErrMalformedCall
	}
	word := c[selectorLength : selectorLength+wordLength]
	// Address words are right-aligned; the leading 12 bytes must be zero.
	for _, b := range word[:wordLength-AddressLength] {
		if b != 0 {
			return Address{}, ErrMalformedCall
		}
	}
	return BytesToAddress(word[wordLength-AddressLength:]), nil
}

// EncodeCall packs a selector and an account address into the wire form
// expected by storage modules, followed by any extra payload words.
func EncodeCall(selector [selectorLength]byte, account Address, extra []byte) EncodedCall {
	out := make([]byte, 0, minEncodedCallLength+len(extra))
	out = append(out, selector[:]...)
	var word [wordLength]byte
	copy(word[wordLength-AddressLength:], account[:])
	out = append(out, word[:]...)
	out = append(out, extra...)
	return out
}
