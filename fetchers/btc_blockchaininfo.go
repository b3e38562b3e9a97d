package fetchers

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain/bitcoin"
)

const (
	blockchainInfoBaseURL   = "https://blockchain.info"
	blockchainInfoBatchSize = 80
	blockchainInfoTxLimit   = 50
)

// BlockchainInfoAPI adapts the blockchain.info explorer. It serves balances,
// activity probes and the full transaction stream (including P2PK outputs,
// whose addresses are derived from the output script).
type BlockchainInfoAPI struct {
	client  *Client
	baseURL string
}

// NewBlockchainInfoAPI creates the adapter on a shared client.
func NewBlockchainInfoAPI(client *Client) *BlockchainInfoAPI {
	return &BlockchainInfoAPI{client: client, baseURL: blockchainInfoBaseURL}
}

type blockchainInfoMultiaddrResponse struct {
	Addresses []struct {
		Address      string `json:"address"`
		FinalBalance int64  `json:"final_balance"`
		TxCount      int    `json:"n_tx"`
	} `json:"addresses"`
	Txs []blockchainInfoTx `json:"txs"`
}

type blockchainInfoTx struct {
	Hash        string `json:"hash"`
	Time        int64  `json:"time"`
	BlockHeight *int64 `json:"block_height"`
	Fee         int64  `json:"fee"`
	VinSz       int    `json:"vin_sz"`
	VoutSz      int    `json:"vout_sz"`
	Inputs      []struct {
		PrevOut blockchainInfoTxIO `json:"prev_out"`
	} `json:"inputs"`
	Out []blockchainInfoTxIO `json:"out"`
}

type blockchainInfoTxIO struct {
	Value  int64  `json:"value"`
	Script string `json:"script"`
	Addr   string `json:"addr"`
}

func (a *BlockchainInfoAPI) multiaddr(ctx context.Context, accounts []string, extraParams string) (*blockchainInfoMultiaddrResponse, error) {
	merged := &blockchainInfoMultiaddrResponse{}
	for _, accountsChunk := range chunkStrings(accounts, blockchainInfoBatchSize) {
		url := fmt.Sprintf("%s/multiaddr?active=%s%s",
			a.baseURL, strings.Join(accountsChunk, "|"), extraParams)
		response := &blockchainInfoMultiaddrResponse{}
		if err := a.client.GetJSON(ctx, url, response); err != nil {
			return nil, err
		}
		merged.Addresses = append(merged.Addresses, response.Addresses...)
		merged.Txs = append(merged.Txs, response.Txs...)
	}
	return merged, nil
}

// Balances returns the confirmed balance of each account.
func (a *BlockchainInfoAPI) Balances(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	response, err := a.multiaddr(ctx, accounts, "")
	if err != nil {
		return nil, err
	}
	balances := make(map[string]decimal.Decimal, len(response.Addresses))
	for _, entry := range response.Addresses {
		balances[entry.Address] = bitcoin.SatoshisToBTC(entry.FinalBalance)
	}
	return balances, nil
}

// HasActivity reports which accounts have any transactions, together with
// their balances.
func (a *BlockchainInfoAPI) HasActivity(ctx context.Context, accounts []string) (map[string]Activity, error) {
	response, err := a.multiaddr(ctx, accounts, "")
	if err != nil {
		return nil, err
	}
	activity := make(map[string]Activity, len(response.Addresses))
	for _, entry := range response.Addresses {
		activity[entry.Address] = Activity{
			HasTransactions: entry.TxCount != 0,
			Balance:         bitcoin.SatoshisToBTC(entry.FinalBalance),
		}
	}
	return activity, nil
}

// Transactions returns the confirmed transactions of the accounts inside the
// options window and the latest block height seen.
func (a *BlockchainInfoAPI) Transactions(ctx context.Context, accounts []string, options *TxOptions) (int64, []*bitcoin.Tx, error) {
	var txs []*bitcoin.Tx
	for _, accountsChunk := range chunkStrings(accounts, blockchainInfoBatchSize) {
		offset := 0
		for {
			url := fmt.Sprintf("%s/multiaddr?active=%s&n=%d&offset=%d",
				a.baseURL, strings.Join(accountsChunk, "|"), blockchainInfoTxLimit, offset)
			response := &blockchainInfoMultiaddrResponse{}
			if err := a.client.GetJSON(ctx, url, response); err != nil {
				return 0, nil, err
			}
			for i := range response.Txs {
				tx, err := deserializeBlockchainInfoTx(&response.Txs[i])
				if err != nil {
					return 0, nil, err
				}
				txs = append(txs, tx)
			}
			if len(response.Txs) < blockchainInfoTxLimit {
				break // all txs have been queried
			}
			offset += blockchainInfoTxLimit
		}
	}
	latestBlock, kept := filterBitcoinTxs([][]*bitcoin.Tx{txs}, options)
	return latestBlock, kept, nil
}

func deserializeBlockchainInfoTx(data *blockchainInfoTx) (*bitcoin.Tx, error) {
	inputs := make([]bitcoin.TxIO, 0, len(data.Inputs))
	for _, vin := range data.Inputs {
		txIO, err := deserializeBlockchainInfoTxIO(&vin.PrevOut, bitcoin.DirectionInput)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, *txIO)
	}
	outputs := make([]bitcoin.TxIO, 0, len(data.Out))
	for i := range data.Out {
		txIO, err := deserializeBlockchainInfoTxIO(&data.Out[i], bitcoin.DirectionOutput)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *txIO)
	}

	var blockHeight int64
	if data.BlockHeight != nil {
		blockHeight = *data.BlockHeight
	}

	// This api omits TxIOs that don't directly affect the queried
	// addresses. When counts don't match, per-output sender attribution
	// is impossible.
	multiIO := data.VinSz > 1 && data.VoutSz > 1 &&
		(len(data.Inputs) != data.VinSz || len(data.Out) != data.VoutSz)

	return &bitcoin.Tx{
		TxID:        data.Hash,
		Timestamp:   secondsToMS(data.Time),
		BlockHeight: blockHeight,
		Fee:         bitcoin.SatoshisToBTC(data.Fee),
		Inputs:      inputs,
		Outputs:     outputs,
		MultiIO:     multiIO,
	}, nil
}

func deserializeBlockchainInfoTxIO(data *blockchainInfoTxIO, direction bitcoin.TxIODirection) (*bitcoin.TxIO, error) {
	script, err := hex.DecodeString(data.Script)
	if err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "decoding blockchain.info script hex")}
	}
	txIO := &bitcoin.TxIO{
		Value:     bitcoin.SatoshisToBTC(data.Value),
		Script:    script,
		Address:   data.Addr,
		Direction: direction,
	}
	maybeDeriveP2PKAddress(txIO)
	return txIO, nil
}

// maybeDeriveP2PKAddress fills in the address of a P2PK TxIO, which explorer
// responses leave empty.
func maybeDeriveP2PKAddress(txIO *bitcoin.TxIO) {
	if txIO.Address != "" || bitcoin.ClassifyScript(txIO.Script) != bitcoin.ScriptP2PK {
		return
	}
	address, err := bitcoin.DeriveP2PKAddress(txIO.Script)
	if err != nil {
		log.Warnf("Failed to derive address from p2pk script: %s", err)
		return
	}
	txIO.Address = address
}
