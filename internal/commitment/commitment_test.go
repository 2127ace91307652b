package commitment

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestPack_Layout(t *testing.T) {
	packed := Pack("Secret1", "S", 209, testContract, big.NewInt(8453))

	require.Len(t, packed, len("Secret1")+len("S")+32+20+32)
	assert.Equal(t, []byte("Secret1S"), packed[:8])

	giftWord := packed[8:40]
	assert.Equal(t, make([]byte, 31), giftWord[:31])
	assert.Equal(t, byte(209), giftWord[31])

	assert.Equal(t, testContract.Bytes(), packed[40:60])

	chainWord := packed[60:92]
	assert.Equal(t, big.NewInt(8453), new(big.Int).SetBytes(chainWord))
}

func TestHash_MatchesKeccakOfPackedEncoding(t *testing.T) {
	// Build the preimage by hand so the test does not share code with Pack
	preimage := []byte("pw")
	preimage = append(preimage, []byte("salt")...)
	preimage = append(preimage, common.LeftPadBytes(big.NewInt(7).Bytes(), 32)...)
	preimage = append(preimage, testContract.Bytes()...)
	preimage = append(preimage, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)

	assert.Equal(t, crypto.Keccak256Hash(preimage), Hash("pw", "salt", 7, testContract, big.NewInt(1)))
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("Secret1", "S", 209, testContract, big.NewInt(1))
	b := Hash("Secret1", "S", 209, testContract, big.NewInt(1))
	assert.Equal(t, a, b)
}

func TestHash_SensitiveToEveryInput(t *testing.T) {
	base := Hash("Secret1", "S", 209, testContract, big.NewInt(1))

	tests := []struct {
		name string
		hash common.Hash
	}{
		{"password", Hash("Secret2", "S", 209, testContract, big.NewInt(1))},
		{"salt", Hash("Secret1", "T", 209, testContract, big.NewInt(1))},
		{"gift id", Hash("Secret1", "S", 186, testContract, big.NewInt(1))},
		{"contract", Hash("Secret1", "S", 209, common.HexToAddress("0x01"), big.NewInt(1))},
		{"chain id", Hash("Secret1", "S", 209, testContract, big.NewInt(5))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.hash)
		})
	}
}

func TestNewVerifier_Configuration(t *testing.T) {
	_, err := NewVerifier(common.Address{}, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewVerifier(testContract, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewVerifier(testContract, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	v, err := NewVerifier(testContract, big.NewInt(1))
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestVerifier_Verify(t *testing.T) {
	v, err := NewVerifier(testContract, big.NewInt(1))
	require.NoError(t, err)

	stored := Hash("Secret1", "S", 209, testContract, big.NewInt(1))

	assert.True(t, v.Verify(stored, "Secret1", "S", 209))
	assert.False(t, v.Verify(stored, "secret1", "S", 209))
	assert.False(t, v.Verify(stored, "Secret1", "S", 186))
	assert.False(t, v.Verify(common.Hash{}, "Secret1", "S", 209))
}
