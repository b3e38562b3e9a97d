package fetchers

import (
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
)

// TxOptions bound a transactions query.
type TxOptions struct {
	FromTimestamp chain.TimestampMS
	ToTimestamp   chain.TimestampMS
	FromBlock     int64
	ToBlock       int64
}

// Activity is the result of probing an address for any on-chain history.
type Activity struct {
	HasTransactions bool
	Balance         decimal.Decimal
}

// filterBitcoinTxs keeps confirmed transactions inside the requested
// timestamp window, deduplicated by tx id, and returns the latest block
// height seen among them.
func filterBitcoinTxs(rawLists [][]*bitcoin.Tx, options *TxOptions) (int64, []*bitcoin.Tx) {
	var (
		latestBlock int64
		kept        []*bitcoin.Tx
	)
	seen := make(map[string]struct{})
	for _, list := range rawLists {
		for _, tx := range list {
			if !tx.Confirmed() {
				continue // mempool txs are picked up once mined
			}
			if _, ok := seen[tx.TxID]; ok {
				continue
			}
			if options != nil {
				if options.FromTimestamp != 0 && tx.Timestamp < options.FromTimestamp {
					continue
				}
				if options.ToTimestamp != 0 && tx.Timestamp > options.ToTimestamp {
					continue
				}
			}
			seen[tx.TxID] = struct{}{}
			kept = append(kept, tx)
			if tx.BlockHeight > latestBlock {
				latestBlock = tx.BlockHeight
			}
		}
	}
	return latestBlock, kept
}

// secondsToMS converts a unix-seconds timestamp into milliseconds.
func secondsToMS(seconds int64) chain.TimestampMS {
	return chain.TimestampMS(seconds * 1000)
}

// chunkStrings splits the list into chunks of at most size elements.
func chunkStrings(list []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(list); start += size {
		end := start + size
		if end > len(list) {
			end = len(list)
		}
		chunks = append(chunks, list[start:end])
	}
	return chunks
}
