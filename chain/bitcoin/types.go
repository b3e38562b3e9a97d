package bitcoin

import (
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
)

// TxIODirection tells whether a TxIO funds or is funded by a transaction.
type TxIODirection uint8

const (
	// DirectionInput marks a TxIO spent by the transaction.
	DirectionInput TxIODirection = iota
	// DirectionOutput marks a TxIO created by the transaction.
	DirectionOutput
)

// TxIO represents an individual input/output of a bitcoin-family transaction.
// Address may be empty for outputs whose script carries no embedded address
// (P2PK, OP_RETURN, non-standard scripts).
type TxIO struct {
	Value     decimal.Decimal
	Script    []byte
	Address   string
	Direction TxIODirection
}

// ScriptClass returns the classification of this TxIO's script.
func (io *TxIO) ScriptClass() ScriptType {
	return ClassifyScript(io.Script)
}

// Tx is a raw bitcoin-family transaction as assembled from an explorer
// response. Immutable once stored.
type Tx struct {
	TxID        string
	Timestamp   chain.TimestampMS
	BlockHeight int64
	Fee         decimal.Decimal
	Inputs      []TxIO
	Outputs     []TxIO

	// MultiIO is set when the source API omitted TxIOs not directly
	// involving the queried addresses, so per-output attribution of
	// senders is not possible.
	MultiIO bool
}

// Confirmed reports whether the transaction has been included in a block.
// Some explorers return mempool transactions with no height.
func (tx *Tx) Confirmed() bool {
	return tx.BlockHeight > 0
}

// SatoshisToBTC converts an integer satoshi amount into a BTC decimal.
func SatoshisToBTC(satoshis int64) decimal.Decimal {
	return decimal.New(satoshis, -8)
}
