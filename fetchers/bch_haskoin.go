package fetchers

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain/bitcoin"
	"github.com/folionet/foliod/chain/bitcoincash"
)

const (
	haskoinBaseURL   = "https://api.haskoin.com"
	haskoinBatchSize = 30
)

// HaskoinAPI adapts the haskoin Bitcoin Cash explorer. All addresses in its
// responses come back in CashAddr form, sometimes without the prefix, so they
// are matched against the requested canonical addresses in either form.
type HaskoinAPI struct {
	client  *Client
	baseURL string
}

// NewHaskoinAPI creates the adapter on a shared client.
func NewHaskoinAPI(client *Client) *HaskoinAPI {
	return &HaskoinAPI{client: client, baseURL: haskoinBaseURL}
}

// matchRequested resolves an address string from a haskoin response to the
// canonical requested address it refers to, or "" when it matches none.
func matchRequested(fromAPI string, requested []string) string {
	for _, canonical := range requested {
		if fromAPI == canonical || bitcoincash.MatchesCanonical(fromAPI, canonical) {
			return canonical
		}
	}
	return ""
}

type haskoinBalanceEntry struct {
	Address   string `json:"address"`
	Confirmed int64  `json:"confirmed"`
}

// Balances returns the confirmed balance of each account.
func (a *HaskoinAPI) Balances(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(accounts))
	for _, accountsChunk := range chunkStrings(accounts, haskoinBatchSize) {
		url := fmt.Sprintf("%s/bch/address/balances?addresses=%s",
			a.baseURL, strings.Join(accountsChunk, ","))
		var entries []haskoinBalanceEntry
		if err := a.client.GetJSON(ctx, url, &entries); err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if address := matchRequested(entry.Address, accountsChunk); address != "" {
				balances[address] = bitcoin.SatoshisToBTC(entry.Confirmed)
			}
		}
	}
	return balances, nil
}

type haskoinMultiaddrResponse struct {
	Addresses []struct {
		Address      string `json:"address"`
		FinalBalance int64  `json:"final_balance"`
		TxCount      int    `json:"n_tx"`
	} `json:"addresses"`
}

// HasActivity reports which accounts have any transactions, together with
// their balances.
func (a *HaskoinAPI) HasActivity(ctx context.Context, accounts []string) (map[string]Activity, error) {
	activity := make(map[string]Activity, len(accounts))
	for _, accountsChunk := range chunkStrings(accounts, haskoinBatchSize) {
		url := fmt.Sprintf("%s/bch/blockchain/multiaddr?active=%s",
			a.baseURL, strings.Join(accountsChunk, "|"))
		response := &haskoinMultiaddrResponse{}
		if err := a.client.GetJSON(ctx, url, response); err != nil {
			return nil, err
		}
		for _, entry := range response.Addresses {
			if address := matchRequested(entry.Address, accountsChunk); address != "" {
				activity[address] = Activity{
					HasTransactions: entry.TxCount != 0,
					Balance:         bitcoin.SatoshisToBTC(entry.FinalBalance),
				}
			}
		}
	}
	return activity, nil
}

type haskoinTx struct {
	TxID  string `json:"txid"`
	Time  int64  `json:"time"`
	Block struct {
		Height int64 `json:"height"`
	} `json:"block"`
	Fee     int64          `json:"fee"`
	Inputs  []haskoinTxIO  `json:"inputs"`
	Outputs []haskoinTxIO  `json:"outputs"`
}

type haskoinTxIO struct {
	Value    int64  `json:"value"`
	PkScript string `json:"pkscript"`
	Address  string `json:"address"`
}

// Transactions returns the confirmed transactions of the accounts inside the
// options window and the latest block height seen.
func (a *HaskoinAPI) Transactions(ctx context.Context, accounts []string, options *TxOptions) (int64, []*bitcoin.Tx, error) {
	var rawLists [][]*bitcoin.Tx
	for _, accountsChunk := range chunkStrings(accounts, haskoinBatchSize) {
		url := fmt.Sprintf("%s/bch/address/transactions/full?addresses=%s",
			a.baseURL, strings.Join(accountsChunk, ","))
		var entries []haskoinTx
		if err := a.client.GetJSON(ctx, url, &entries); err != nil {
			return 0, nil, err
		}
		txs := make([]*bitcoin.Tx, 0, len(entries))
		for i := range entries {
			tx, err := deserializeHaskoinTx(&entries[i])
			if err != nil {
				return 0, nil, err
			}
			txs = append(txs, tx)
		}
		rawLists = append(rawLists, txs)
	}
	latestBlock, kept := filterBitcoinTxs(rawLists, options)
	return latestBlock, kept, nil
}

func deserializeHaskoinTx(data *haskoinTx) (*bitcoin.Tx, error) {
	tx := &bitcoin.Tx{
		TxID:        data.TxID,
		Timestamp:   secondsToMS(data.Time),
		BlockHeight: data.Block.Height,
		Fee:         bitcoin.SatoshisToBTC(data.Fee),
	}
	for i := range data.Inputs {
		txIO, err := deserializeHaskoinTxIO(&data.Inputs[i], bitcoin.DirectionInput)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, *txIO)
	}
	for i := range data.Outputs {
		txIO, err := deserializeHaskoinTxIO(&data.Outputs[i], bitcoin.DirectionOutput)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, *txIO)
	}
	return tx, nil
}

func deserializeHaskoinTxIO(data *haskoinTxIO, direction bitcoin.TxIODirection) (*bitcoin.TxIO, error) {
	script, err := hex.DecodeString(data.PkScript)
	if err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "decoding haskoin script hex")}
	}
	return &bitcoin.TxIO{
		Value:     bitcoin.SatoshisToBTC(data.Value),
		Script:    script,
		Address:   data.Address,
		Direction: direction,
	}, nil
}
