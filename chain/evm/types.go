package evm

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
)

// TransferTopic is the event signature hash of the ERC-20/ERC-721
// Transfer(address,address,uint256) event.
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// ZeroAddress is the mint/burn address.
var ZeroAddress = common.Address{}

// Log is a single receipt log record of an EVM transaction.
type Log struct {
	Address  common.Address
	Topics   []common.Hash
	Data     []byte
	LogIndex uint
}

// Topic0 returns the event signature topic, or the zero hash for anonymous
// logs.
func (l *Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// Transaction is a raw EVM transaction together with its receipt data.
// Immutable once stored.
type Transaction struct {
	Chain             chain.Chain
	TxHash            common.Hash
	BlockNumber       int64
	Timestamp         chain.TimestampMS
	From              common.Address
	To                *common.Address
	Value             *big.Int
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Nonce             uint64
	Success           bool
	Logs              []Log
}

// GasFee returns the total gas fee of the transaction in native currency
// units.
func (tx *Transaction) GasFee() decimal.Decimal {
	if tx.EffectiveGasPrice == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(tx.EffectiveGasPrice, new(big.Int).SetUint64(tx.GasUsed))
	return WeiToEther(wei)
}

// WeiToEther converts an integer wei amount to an 18-decimals token amount.
func WeiToEther(wei *big.Int) decimal.Decimal {
	return TokenAmount(wei, 18)
}

// TokenAmount normalizes a raw integer token amount by the token's decimals.
func TokenAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, 0).Shift(-decimals)
}

// TopicAddress extracts the address packed into an indexed log topic.
func TopicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic[12:])
}

// AssetIdentifier returns the asset identifier for a token contract on a
// chain, in CAIP-ish form used across the event store.
func AssetIdentifier(c chain.Chain, token common.Address) string {
	return "eip155:" + strconv.FormatUint(c.EvmChainID, 10) + "/erc20:" + token.Hex()
}

// Token describes an ERC-20 style token as needed for decoding.
type Token struct {
	Address    common.Address
	Identifier string
	Symbol     string
	Decimals   int32
}
