package escrow

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// escrowABI covers the read functions and events of the gift escrow contract
const escrowABI = `[
	{"type":"function","name":"getGift","stateMutability":"view",
	 "inputs":[{"name":"giftId","type":"uint256"}],
	 "outputs":[
		{"name":"creator","type":"address"},
		{"name":"expirationTime","type":"uint256"},
		{"name":"nftContract","type":"address"},
		{"name":"tokenId","type":"uint256"},
		{"name":"passwordHash","type":"bytes32"},
		{"name":"status","type":"uint8"}]},
	{"type":"function","name":"nextGiftId","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"GiftCreated","anonymous":false,"inputs":[
		{"name":"giftId","type":"uint256","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"nftContract","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":false},
		{"name":"expirationTime","type":"uint256","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"GiftClaimed","anonymous":false,"inputs":[
		{"name":"giftId","type":"uint256","indexed":true},
		{"name":"recipient","type":"address","indexed":true}]},
	{"type":"event","name":"GiftReturned","anonymous":false,"inputs":[
		{"name":"giftId","type":"uint256","indexed":true},
		{"name":"creator","type":"address","indexed":true}]}
]`

// Event signatures
var (
	giftCreatedEventSignature  = crypto.Keccak256Hash([]byte("GiftCreated(uint256,address,address,uint256,uint256,uint256)"))
	giftClaimedEventSignature  = crypto.Keccak256Hash([]byte("GiftClaimed(uint256,address)"))
	giftReturnedEventSignature = crypto.Keccak256Hash([]byte("GiftReturned(uint256,address)"))
	transferEventSignature     = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)
