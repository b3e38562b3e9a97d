package fetchers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain/bitcoin"
)

const (
	blockstreamBaseURL  = "https://blockstream.info/api"
	mempoolSpaceBaseURL = "https://mempool.space/api"
)

// EsploraAPI adapts blockstream.info and mempool.space, whose APIs are nearly
// identical. It serves balances and activity probes; its transaction stream
// doesn't handle P2PK txs properly, so that operation is unsupported.
type EsploraAPI struct {
	client  *Client
	baseURL string
}

// NewBlockstreamAPI creates the adapter for blockstream.info.
func NewBlockstreamAPI(client *Client) *EsploraAPI {
	return &EsploraAPI{client: client, baseURL: blockstreamBaseURL}
}

// NewMempoolSpaceAPI creates the adapter for mempool.space.
func NewMempoolSpaceAPI(client *Client) *EsploraAPI {
	return &EsploraAPI{client: client, baseURL: mempoolSpaceBaseURL}
}

type esploraAddressResponse struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int   `json:"tx_count"`
	} `json:"chain_stats"`
}

// Balances returns the confirmed balance of each account.
func (a *EsploraAPI) Balances(ctx context.Context, accounts []string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		response := &esploraAddressResponse{}
		url := fmt.Sprintf("%s/address/%s", a.baseURL, account)
		if err := a.client.GetJSON(ctx, url, response); err != nil {
			return nil, err
		}
		funded := bitcoin.SatoshisToBTC(response.ChainStats.FundedTxoSum)
		spent := bitcoin.SatoshisToBTC(response.ChainStats.SpentTxoSum)
		balances[account] = funded.Sub(spent)
	}
	return balances, nil
}

// HasActivity reports which accounts have any transactions, together with
// their balances.
func (a *EsploraAPI) HasActivity(ctx context.Context, accounts []string) (map[string]Activity, error) {
	activity := make(map[string]Activity, len(accounts))
	for _, account := range accounts {
		response := &esploraAddressResponse{}
		url := fmt.Sprintf("%s/address/%s", a.baseURL, account)
		if err := a.client.GetJSON(ctx, url, response); err != nil {
			return nil, err
		}
		funded := bitcoin.SatoshisToBTC(response.ChainStats.FundedTxoSum)
		spent := bitcoin.SatoshisToBTC(response.ChainStats.SpentTxoSum)
		activity[account] = Activity{
			HasTransactions: response.ChainStats.TxCount != 0,
			Balance:         funded.Sub(spent),
		}
	}
	return activity, nil
}

// Transactions is unsupported: this API doesn't handle p2pk txs properly.
func (a *EsploraAPI) Transactions(context.Context, []string, *TxOptions) (int64, []*bitcoin.Tx, error) {
	return 0, nil, ErrUnsupported
}
