package chain

import (
	"fmt"

	"github.com/pkg/errors"
)

// TimestampMS is a unix timestamp in milliseconds, the granularity used for
// all transaction and event timestamps.
type TimestampMS int64

// Kind distinguishes the supported blockchain families.
type Kind uint8

const (
	// KindBitcoin is the Bitcoin mainnet.
	KindBitcoin Kind = iota
	// KindBitcoinCash is the Bitcoin Cash mainnet.
	KindBitcoinCash
	// KindEvm covers all EVM chains, kept distinct by their numeric chain id.
	KindEvm
)

// Chain identifies a supported blockchain. EVM chains share structure but are
// distinct values differing in EvmChainID.
type Chain struct {
	Kind       Kind
	EvmChainID uint64
}

// Well-known chains.
var (
	Bitcoin     = Chain{Kind: KindBitcoin}
	BitcoinCash = Chain{Kind: KindBitcoinCash}
	Ethereum    = Chain{Kind: KindEvm, EvmChainID: 1}
	Gnosis      = Chain{Kind: KindEvm, EvmChainID: 100}
)

// String returns the symbolic name of the chain, e.g. "BTC" or "ETH".
func (c Chain) String() string {
	switch c.Kind {
	case KindBitcoin:
		return "BTC"
	case KindBitcoinCash:
		return "BCH"
	case KindEvm:
		switch c.EvmChainID {
		case 1:
			return "ETH"
		case 100:
			return "GNOSIS"
		default:
			return fmt.Sprintf("EVM-%d", c.EvmChainID)
		}
	}
	return "UNKNOWN"
}

// Location returns the location string recorded on history events for this
// chain.
func (c Chain) Location() string {
	switch c.Kind {
	case KindBitcoin:
		return "bitcoin"
	case KindBitcoinCash:
		return "bitcoin cash"
	case KindEvm:
		switch c.EvmChainID {
		case 1:
			return "ethereum"
		case 100:
			return "gnosis"
		default:
			return fmt.Sprintf("evm-%d", c.EvmChainID)
		}
	}
	return "unknown"
}

// EventIdentifierPrefix returns the prefix prepended to a transaction id to
// form the event identifier grouping all history events of that transaction.
func (c Chain) EventIdentifierPrefix() string {
	switch c.Kind {
	case KindBitcoin:
		return "btc_"
	case KindBitcoinCash:
		return "bch_"
	default:
		return fmt.Sprintf("evm_%d_", c.EvmChainID)
	}
}

// NativeAsset returns the asset identifier of the chain's native currency.
func (c Chain) NativeAsset() string {
	switch c.Kind {
	case KindBitcoin:
		return "BTC"
	case KindBitcoinCash:
		return "BCH"
	case KindEvm:
		switch c.EvmChainID {
		case 100:
			return "XDAI"
		default:
			return "ETH"
		}
	}
	return ""
}

// IsBitcoinFamily returns true for the UTXO-model chains.
func (c Chain) IsBitcoinFamily() bool {
	return c.Kind == KindBitcoin || c.Kind == KindBitcoinCash
}

// FromString parses a symbolic chain name as used in API routes.
func FromString(s string) (Chain, error) {
	switch s {
	case "BTC", "btc":
		return Bitcoin, nil
	case "BCH", "bch":
		return BitcoinCash, nil
	case "ETH", "eth":
		return Ethereum, nil
	case "GNOSIS", "gnosis":
		return Gnosis, nil
	}
	return Chain{}, errors.Errorf("unknown chain %q", s)
}

// TransactionsFingerprint returns the stable query-range fingerprint for the
// transactions of an address on a chain.
func TransactionsFingerprint(c Chain, address string) string {
	return fmt.Sprintf("txs:%s:%s", c, address)
}
