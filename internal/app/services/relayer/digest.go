package relayer

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

// Digest computes the deterministic per-transaction digest signers commit
// to: keccak256 over the account, target, a 32-byte big-endian value, the
// keccak256 of the call data, and the 8-byte big-endian per-account nonce.
func Digest(account, target wallet.Address, value *big.Int, data []byte, nonce uint64) [32]byte {
	if value == nil {
		value = new(big.Int)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(account.Bytes())
	h.Write(target.Bytes())

	var valueWord [32]byte
	value.FillBytes(valueWord[:])
	h.Write(valueWord[:])

	dataHash := sha3.NewLegacyKeccak256()
	dataHash.Write(data)
	h.Write(dataHash.Sum(nil))

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	h.Write(nonceBytes[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
