package domain

import (
	"fmt"
	"math/big"
	"strconv"
)

// GiftID is the escrow contract's sequential gift identifier. It is the only
// key under which a gift's off-chain data may be written.
type GiftID uint64

// TokenID is the NFT token identifier. It is a lookup index only.
type TokenID uint64

func (id GiftID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// BigInt returns the id as a uint256-compatible big integer
func (id GiftID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// BigInt returns the id as a uint256-compatible big integer
func (id TokenID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

// ParseGiftID parses a decimal gift id
func ParseGiftID(s string) (GiftID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gift id %q: %w", s, err)
	}
	return GiftID(v), nil
}

// ParseTokenID parses a decimal token id
func ParseTokenID(s string) (TokenID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q: %w", s, err)
	}
	return TokenID(v), nil
}

// GiftIDFromBig converts an on-chain uint256 into a GiftID
func GiftIDFromBig(v *big.Int) (GiftID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("gift id out of range: %v", v)
	}
	return GiftID(v.Uint64()), nil
}

// TokenIDFromBig converts an on-chain uint256 into a TokenID
func TokenIDFromBig(v *big.Int) (TokenID, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("token id out of range: %v", v)
	}
	return TokenID(v.Uint64()), nil
}
