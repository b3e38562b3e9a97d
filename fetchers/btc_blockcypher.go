package fetchers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/folionet/foliod/chain/bitcoin"
)

const (
	blockcypherBaseURL   = "https://api.blockcypher.com/v1/btc/main"
	blockcypherBatchSize = 3
	blockcypherTxLimit   = 50
	blockcypherTxIOLimit = 20
)

// BlockcypherAPI adapts blockcypher.com. It serves the transaction stream
// with block-height pagination; balances and activity probes are left to the
// other providers.
type BlockcypherAPI struct {
	client  *Client
	baseURL string
	apiKey  string
}

// NewBlockcypherAPI creates the adapter on a shared client.
func NewBlockcypherAPI(client *Client, apiKey string) *BlockcypherAPI {
	return &BlockcypherAPI{client: client, baseURL: blockcypherBaseURL, apiKey: apiKey}
}

type blockcypherAddrEntry struct {
	Address string           `json:"address"`
	Txs     []blockcypherTx  `json:"txs"`
	HasMore bool             `json:"hasMore"`
}

type blockcypherTx struct {
	Hash        string             `json:"hash"`
	Confirmed   string             `json:"confirmed"`
	BlockHeight int64              `json:"block_height"`
	Fees        int64              `json:"fees"`
	Inputs      []blockcypherTxIO  `json:"inputs"`
	Outputs     []blockcypherTxIO  `json:"outputs"`
	NextInputs  string             `json:"next_inputs"`
	NextOutputs string             `json:"next_outputs"`
}

type blockcypherTxIO struct {
	Value       int64    `json:"value"`
	OutputValue int64    `json:"output_value"`
	Script      string   `json:"script"`
	Addresses   []string `json:"addresses"`
}

// Transactions pages through the accounts' transactions, newest to oldest,
// paginating via before=block_height until each account reports no more.
func (a *BlockcypherAPI) Transactions(ctx context.Context, accounts []string, options *TxOptions) (int64, []*bitcoin.Tx, error) {
	accountTxLists := make(map[string][]*bitcoin.Tx)
	limits := fmt.Sprintf("limit=%d&txlimit=%d", blockcypherTxLimit, blockcypherTxIOLimit)
	for _, accountsChunk := range chunkStrings(accounts, blockcypherBatchSize) {
		remaining := append([]string{}, accountsChunk...)
		var beforeHeight int64
		for len(remaining) > 0 {
			url := fmt.Sprintf("%s/addrs/%s/full?%s", a.baseURL, strings.Join(remaining, ";"), limits)
			if beforeHeight != 0 {
				url += fmt.Sprintf("&before=%d", beforeHeight)
			}
			if a.apiKey != "" {
				url += "&token=" + a.apiKey
			}

			// The endpoint answers with a single object for one
			// account and a list for several.
			var rawResponse json.RawMessage
			if err := a.client.GetJSON(ctx, url, &rawResponse); err != nil {
				return 0, nil, err
			}
			entries, err := decodeBlockcypherEntries(rawResponse)
			if err != nil {
				return 0, nil, err
			}

			for _, entry := range entries {
				for i := range entry.Txs {
					tx, err := a.processRawTx(ctx, &entry.Txs[i])
					if err != nil {
						return 0, nil, err
					}
					accountTxLists[entry.Address] = append(accountTxLists[entry.Address], tx)
				}
				if len(entry.Txs) > 0 {
					earliest := entry.Txs[len(entry.Txs)-1].BlockHeight
					if beforeHeight == 0 || earliest < beforeHeight {
						beforeHeight = earliest
					}
				}
				if !entry.HasMore {
					remaining = removeString(remaining, entry.Address)
				}
			}
		}
	}

	rawLists := make([][]*bitcoin.Tx, 0, len(accountTxLists))
	for _, list := range accountTxLists {
		rawLists = append(rawLists, list)
	}
	latestBlock, kept := filterBitcoinTxs(rawLists, options)
	return latestBlock, kept, nil
}

// processRawTx converts a blockcypher tx, following the next_inputs /
// next_outputs urls when the tx has more TxIOs than one page carries.
func (a *BlockcypherAPI) processRawTx(ctx context.Context, data *blockcypherTx) (*bitcoin.Tx, error) {
	inputs := data.Inputs
	nextURL, lastChunk := data.NextInputs, len(data.Inputs)
	for nextURL != "" && lastChunk >= blockcypherTxIOLimit {
		var page blockcypherTx
		if err := a.client.GetJSON(ctx, nextURL, &page); err != nil {
			return nil, err
		}
		inputs = append(inputs, page.Inputs...)
		nextURL, lastChunk = page.NextInputs, len(page.Inputs)
	}
	outputs := data.Outputs
	nextURL, lastChunk = data.NextOutputs, len(data.Outputs)
	for nextURL != "" && lastChunk >= blockcypherTxIOLimit {
		var page blockcypherTx
		if err := a.client.GetJSON(ctx, nextURL, &page); err != nil {
			return nil, err
		}
		outputs = append(outputs, page.Outputs...)
		nextURL, lastChunk = page.NextOutputs, len(page.Outputs)
	}

	var timestamp int64
	if data.Confirmed != "" {
		parsed, err := time.Parse(time.RFC3339, data.Confirmed)
		if err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "parsing blockcypher confirmation time")}
		}
		timestamp = parsed.Unix()
	}

	tx := &bitcoin.Tx{
		TxID:        data.Hash,
		Timestamp:   secondsToMS(timestamp),
		BlockHeight: data.BlockHeight,
		Fee:         bitcoin.SatoshisToBTC(data.Fees),
	}
	for i := range inputs {
		txIO, err := deserializeBlockcypherTxIO(&inputs[i], bitcoin.DirectionInput)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, *txIO)
	}
	for i := range outputs {
		txIO, err := deserializeBlockcypherTxIO(&outputs[i], bitcoin.DirectionOutput)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, *txIO)
	}
	return tx, nil
}

func deserializeBlockcypherTxIO(data *blockcypherTxIO, direction bitcoin.TxIODirection) (*bitcoin.TxIO, error) {
	value := data.Value
	if direction == bitcoin.DirectionInput {
		value = data.OutputValue
	}
	script, err := hex.DecodeString(data.Script)
	if err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "decoding blockcypher script hex")}
	}
	var address string
	if len(data.Addresses) > 0 {
		address = data.Addresses[0]
	}
	txIO := &bitcoin.TxIO{
		Value:     bitcoin.SatoshisToBTC(value),
		Script:    script,
		Address:   address,
		Direction: direction,
	}
	maybeDeriveP2PKAddress(txIO)
	return txIO, nil
}

func decodeBlockcypherEntries(raw json.RawMessage) ([]blockcypherAddrEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var entries []blockcypherAddrEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "decoding blockcypher response list")}
		}
		return entries, nil
	}
	var entry blockcypherAddrEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "decoding blockcypher response")}
	}
	return []blockcypherAddrEntry{entry}, nil
}

func removeString(list []string, value string) []string {
	for i, entry := range list {
		if entry == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
