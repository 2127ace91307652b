// Package commitment reproduces the escrow contract's claim password commitment.
//
// The contract stores keccak256(abi.encodePacked(password, salt, giftId, address(this), block.chainid)).
// Any deviation from the packed encoding produces a different hash even for the right password.
package commitment

import (
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// Pack returns the Solidity packed encoding of the commitment preimage.
// Strings are raw bytes, uint256 values are 32 byte big-endian and the address is 20 bytes.
func Pack(password, salt string, giftID domain.GiftID, contract common.Address, chainID *big.Int) []byte {
	buf := make([]byte, 0, len(password)+len(salt)+32+common.AddressLength+32)
	buf = append(buf, password...)
	buf = append(buf, salt...)
	buf = append(buf, math.U256Bytes(giftID.BigInt())...)
	buf = append(buf, contract.Bytes()...)
	buf = append(buf, math.U256Bytes(new(big.Int).Set(chainID))...)
	return buf
}

// Hash computes the commitment for the given preimage
func Hash(password, salt string, giftID domain.GiftID, contract common.Address, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(Pack(password, salt, giftID, contract, chainID))
}

// Verifier checks passwords against commitments for one escrow deployment
type Verifier struct {
	contract common.Address
	chainID  *big.Int
}

// NewVerifier creates a verifier bound to an escrow contract and chain
func NewVerifier(contract common.Address, chainID *big.Int) (*Verifier, error) {
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("%w: escrow contract address is not set", domain.ErrConfiguration)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id is not set", domain.ErrConfiguration)
	}
	return &Verifier{contract: contract, chainID: new(big.Int).Set(chainID)}, nil
}

// Hash computes the commitment for this verifier's contract and chain
func (v *Verifier) Hash(password, salt string, giftID domain.GiftID) common.Hash {
	return Hash(password, salt, giftID, v.contract, v.chainID)
}

// Verify reports whether the password matches the expected commitment.
// Only a boolean is returned so callers cannot echo the commitment.
func (v *Verifier) Verify(expected common.Hash, password, salt string, giftID domain.GiftID) bool {
	got := v.Hash(password, salt, giftID)
	return subtle.ConstantTimeCompare(got.Bytes(), expected.Bytes()) == 1
}
