package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/retry"
)

// Contract is the read side of the gift escrow contract plus the NFT contract's transfer log
//
//go:generate mockgen -source=contract.go -destination=../mocks/escrow.go -package=mocks -mock_names=Contract=MockEscrowContract
type Contract interface {
	// Address returns the escrow contract address
	Address() common.Address

	// NFTAddress returns the NFT contract whose tokens are gifted
	NFTAddress() common.Address

	// GetGift reads a gift from the contract. A zero creator means the gift does not exist.
	GetGift(ctx context.Context, giftID domain.GiftID) (*domain.OnChainGift, error)

	// LatestGiftID returns the highest allocated gift id (nextGiftId - 1)
	LatestGiftID(ctx context.Context) (domain.GiftID, error)

	// FilterQuery returns the log query covering both contracts for a block range
	FilterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery

	// ParseLog converts an escrow or NFT log into a canonical event.
	// Returns nil for logs the engine does not track.
	ParseLog(vLog types.Log) (*domain.CanonicalEvent, error)
}

type contract struct {
	client  adapter.EthClient
	jcs     adapter.JCS
	abi     abi.ABI
	escrow  common.Address
	nft     common.Address
	policy  retry.Policy
	timeout time.Duration
}

// NewContract binds the escrow and NFT contracts
func NewContract(client adapter.EthClient, jcs adapter.JCS, escrowAddress, nftAddress common.Address, policy retry.Policy) (Contract, error) {
	zero := common.HexToAddress(domain.ETHEREUM_ZERO_ADDRESS)
	if escrowAddress == zero || nftAddress == zero {
		return nil, fmt.Errorf("%w: escrow and nft contract addresses are required", domain.ErrConfiguration)
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &contract{
		client:  client,
		jcs:     jcs,
		abi:     parsed,
		escrow:  escrowAddress,
		nft:     nftAddress,
		policy:  policy,
		timeout: 10 * time.Second,
	}, nil
}

func (c *contract) Address() common.Address {
	return c.escrow
}

func (c *contract) NFTAddress() common.Address {
	return c.nft
}

// call packs, executes and unpacks a view function with bounded retry
func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	result, err := retry.Value(ctx, c.policy, "escrow."+method, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.client.CallContract(callCtx, ethereum.CallMsg{
			To:   &c.escrow,
			Data: data,
		}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	values, err := c.abi.Unpack(method, result)
	if err != nil {
		// An undecodable response is a node or deployment problem, not a missing gift
		return nil, domain.Unavailable(fmt.Errorf("failed to unpack %s result: %w", method, err))
	}
	return values, nil
}

func (c *contract) GetGift(ctx context.Context, giftID domain.GiftID) (*domain.OnChainGift, error) {
	values, err := c.call(ctx, "getGift", giftID.BigInt())
	if err != nil {
		return nil, err
	}
	if len(values) != 6 {
		return nil, domain.Unavailable(fmt.Errorf("getGift returned %d values", len(values)))
	}

	creator, _ := values[0].(common.Address)
	expiration, _ := values[1].(*big.Int)
	nftContract, _ := values[2].(common.Address)
	tokenID, _ := values[3].(*big.Int)
	passwordHash, _ := values[4].([32]byte)
	rawStatus, _ := values[5].(uint8)

	if creator == common.HexToAddress(domain.ETHEREUM_ZERO_ADDRESS) {
		return nil, fmt.Errorf("gift %d: %w", giftID, domain.ErrNotFound)
	}

	token, err := domain.TokenIDFromBig(tokenID)
	if err != nil {
		return nil, domain.Unavailable(err)
	}
	status, ok := domain.GiftStatusFromChain(rawStatus)
	if !ok {
		return nil, domain.Unavailable(fmt.Errorf("gift %d: unknown status %d", giftID, rawStatus))
	}

	gift := &domain.OnChainGift{
		GiftID:       giftID,
		Creator:      creator,
		NFTContract:  nftContract,
		TokenID:      token,
		PasswordHash: common.Hash(passwordHash),
		Status:       status,
	}
	if expiration != nil && expiration.Sign() > 0 && expiration.IsInt64() {
		gift.ExpirationTime = time.Unix(expiration.Int64(), 0).UTC()
	}

	return gift, nil
}

func (c *contract) LatestGiftID(ctx context.Context) (domain.GiftID, error) {
	values, err := c.call(ctx, "nextGiftId")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, domain.Unavailable(fmt.Errorf("nextGiftId returned %d values", len(values)))
	}

	next, _ := values[0].(*big.Int)
	if next == nil || next.Sign() == 0 {
		return 0, fmt.Errorf("no gifts allocated: %w", domain.ErrNotFound)
	}

	latest, err := domain.GiftIDFromBig(new(big.Int).Sub(next, big.NewInt(1)))
	if err != nil {
		return 0, domain.Unavailable(err)
	}
	return latest, nil
}

func (c *contract) FilterQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.escrow, c.nft},
		Topics: [][]common.Hash{{
			giftCreatedEventSignature,
			giftClaimedEventSignature,
			giftReturnedEventSignature,
			transferEventSignature,
		}},
	}
}

func (c *contract) ParseLog(vLog types.Log) (*domain.CanonicalEvent, error) {
	if len(vLog.Topics) == 0 || vLog.Removed {
		return nil, nil
	}

	event := &domain.CanonicalEvent{
		EventID:     domain.NewEventID(vLog.TxHash, vLog.Index),
		BlockNumber: vLog.BlockNumber,
		TxHash:      vLog.TxHash.Hex(),
		LogIndex:    vLog.Index,
		Source:      domain.EventSourceEscrow,
	}

	var payload interface{}
	switch {
	case vLog.Address == c.escrow && vLog.Topics[0] == giftCreatedEventSignature:
		// GiftCreated(uint256 indexed giftId, address indexed creator, address indexed nftContract, uint256 tokenId, uint256 expirationTime, uint256 value)
		if len(vLog.Topics) != 4 {
			return nil, fmt.Errorf("invalid GiftCreated event: expected 4 topics, got %d", len(vLog.Topics))
		}
		giftID, err := giftIDFromTopic(vLog.Topics[1])
		if err != nil {
			return nil, err
		}
		values, err := c.abi.Unpack("GiftCreated", vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid GiftCreated event data: %w", err)
		}
		if len(values) != 3 {
			return nil, fmt.Errorf("invalid GiftCreated event data: expected 3 fields, got %d", len(values))
		}
		tokenID, err := domain.TokenIDFromBig(values[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		expiration := values[1].(*big.Int)
		value := values[2].(*big.Int)

		event.Type = domain.EventTypeGiftCreated
		event.GiftID = giftID
		event.TokenID = tokenID
		payload = domain.GiftCreatedPayload{
			Creator:        common.BytesToAddress(vLog.Topics[2].Bytes()).Hex(),
			NFTContract:    common.BytesToAddress(vLog.Topics[3].Bytes()).Hex(),
			ExpirationTime: clampInt64(expiration),
			Value:          value.String(),
		}

	case vLog.Address == c.escrow && vLog.Topics[0] == giftClaimedEventSignature:
		if len(vLog.Topics) != 3 {
			return nil, fmt.Errorf("invalid GiftClaimed event: expected 3 topics, got %d", len(vLog.Topics))
		}
		giftID, err := giftIDFromTopic(vLog.Topics[1])
		if err != nil {
			return nil, err
		}
		event.Type = domain.EventTypeGiftClaimed
		event.GiftID = giftID
		payload = domain.GiftClaimedPayload{Recipient: common.BytesToAddress(vLog.Topics[2].Bytes()).Hex()}

	case vLog.Address == c.escrow && vLog.Topics[0] == giftReturnedEventSignature:
		if len(vLog.Topics) != 3 {
			return nil, fmt.Errorf("invalid GiftReturned event: expected 3 topics, got %d", len(vLog.Topics))
		}
		giftID, err := giftIDFromTopic(vLog.Topics[1])
		if err != nil {
			return nil, err
		}
		event.Type = domain.EventTypeGiftReturned
		event.GiftID = giftID
		payload = domain.GiftReturnedPayload{Creator: common.BytesToAddress(vLog.Topics[2].Bytes()).Hex()}

	case vLog.Address == c.nft && vLog.Topics[0] == transferEventSignature:
		// ERC721 Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
		if len(vLog.Topics) != 4 {
			logger.Debug("Skipping non-ERC721 transfer event",
				zap.String("contract", vLog.Address.Hex()),
				zap.String("txHash", vLog.TxHash.Hex()))
			return nil, nil
		}
		tokenID, err := domain.TokenIDFromBig(new(big.Int).SetBytes(vLog.Topics[3].Bytes()))
		if err != nil {
			return nil, err
		}
		event.Type = domain.EventTypeNFTTransfer
		event.TokenID = tokenID
		event.Source = domain.EventSourceNFT
		payload = domain.NFTTransferPayload{
			From: common.BytesToAddress(vLog.Topics[1].Bytes()).Hex(),
			To:   common.BytesToAddress(vLog.Topics[2].Bytes()).Hex(),
		}

	default:
		return nil, nil
	}

	raw, err := adapter.CanonicalJSON(c.jcs, payload)
	if err != nil {
		return nil, err
	}
	event.Payload = raw

	return event, nil
}

func giftIDFromTopic(topic common.Hash) (domain.GiftID, error) {
	return domain.GiftIDFromBig(new(big.Int).SetBytes(topic.Bytes()))
}

func clampInt64(v *big.Int) int64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsInt64() {
		return int64(^uint64(0) >> 1)
	}
	return v.Int64()
}
