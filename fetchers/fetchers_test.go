package fetchers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
)

func newTestClient() *Client {
	client := NewClient(5*time.Second, 10)
	return client
}

func TestEsploraBalances(t *testing.T) {
	const address = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/address/"+address, r.URL.Path)
		fmt.Fprint(w, `{"chain_stats":{"funded_txo_sum":366022,"spent_txo_sum":336534,"tx_count":14}}`)
	}))
	defer server.Close()

	api := &EsploraAPI{client: newTestClient(), baseURL: server.URL}
	balances, err := api.Balances(context.Background(), []string{address})
	require.NoError(t, err)
	require.Equal(t, "0.00029488", balances[address].String())

	activity, err := api.HasActivity(context.Background(), []string{address})
	require.NoError(t, err)
	require.True(t, activity[address].HasTransactions)

	_, _, err = api.Transactions(context.Background(), []string{address}, nil)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestBlockchainInfoTransactions(t *testing.T) {
	const address = "bc1qpeuhg6gcs4gdze7cmp3tmu9yjzkp7edtt6f4k4"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/multiaddr", r.URL.Path)
		require.Contains(t, r.URL.Query().Get("active"), address)
		fmt.Fprint(w, `{
			"addresses": [{"address": "`+address+`", "final_balance": 29488, "n_tx": 2}],
			"txs": [{
				"hash": "821a49c9e315a03c7c7f2ab9f82d38caa622df7d331a11102af09bb0316fda2e",
				"time": 1754493473, "block_height": 908880, "fee": 612,
				"vin_sz": 1, "vout_sz": 1,
				"inputs": [{"prev_out": {"value": 49593, "script": "0014000102030405060708090a0b0c0d0e0f10111213", "addr": "`+address+`"}}],
				"out": [{"value": 48981, "script": "0014000102030405060708090a0b0c0d0e0f10111214", "addr": "bc1qother"}]
			}, {
				"hash": "f6bcea42da69ec935e13c29241f15a72e055219549403ffe1aef251a306581e6",
				"time": 1754493540, "block_height": null, "fee": 423,
				"vin_sz": 1, "vout_sz": 1,
				"inputs": [{"prev_out": {"value": 26084, "script": "0014000102030405060708090a0b0c0d0e0f10111213", "addr": "`+address+`"}}],
				"out": [{"value": 25661, "script": "0014000102030405060708090a0b0c0d0e0f10111215", "addr": "bc1qthird"}]
			}]
		}`)
	}))
	defer server.Close()

	api := &BlockchainInfoAPI{client: newTestClient(), baseURL: server.URL}
	latestBlock, txs, err := api.Transactions(context.Background(), []string{address}, nil)
	require.NoError(t, err)

	// The unconfirmed tx is dropped; the confirmed one is kept.
	require.Len(t, txs, 1)
	require.Equal(t, int64(908880), latestBlock)
	require.Equal(t, "821a49c9e315a03c7c7f2ab9f82d38caa622df7d331a11102af09bb0316fda2e", txs[0].TxID)
	require.Equal(t, chain.TimestampMS(1754493473000), txs[0].Timestamp)
	require.Equal(t, "0.00000612", txs[0].Fee.String())
	require.Equal(t, address, txs[0].Inputs[0].Address)
}

func TestBlockchainInfoP2PKAddressDerivation(t *testing.T) {
	// The genesis coinbase P2PK script: the API carries no address for it.
	const p2pkScript = "4104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb6" +
		"49f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac"
	txIO, err := deserializeBlockchainInfoTxIO(&blockchainInfoTxIO{
		Value:  5000000000,
		Script: p2pkScript,
	}, bitcoin.DirectionOutput)
	require.NoError(t, err)
	require.Equal(t, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", txIO.Address)
}

func TestEtherscanRateLimitMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`)
	}))
	defer server.Close()

	api := NewEtherscanAPI(newTestClient(), server.URL, "", chain.Ethereum)
	_, _, err := api.Transactions(context.Background(), []string{"0x9531C059098e3d194fF87FebB587aB07B30B1306"}, nil)
	require.Error(t, err)
	_, rateLimited := IsRateLimited(err)
	require.True(t, rateLimited, "the in-band marker must surface as a rate limit: %v", err)
}

func TestEtherscanCryptocompareStyleMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Response":"Error","Message":"You are over your rate limit please upgrade your account!"}`)
	}))
	defer server.Close()

	api := NewEtherscanAPI(newTestClient(), server.URL, "", chain.Ethereum)
	_, _, err := api.Transactions(context.Background(), []string{"0x9531C059098e3d194fF87FebB587aB07B30B1306"}, nil)
	require.Error(t, err)
	_, rateLimited := IsRateLimited(err)
	require.True(t, rateLimited)
}

func TestClientErrorClassification(t *testing.T) {
	t.Run("http 429", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		var target interface{}
		err := newTestClient().GetJSON(context.Background(), server.URL, &target)
		retryAfter, rateLimited := IsRateLimited(err)
		require.True(t, rateLimited)
		require.Equal(t, 7*time.Second, retryAfter)
	})

	t.Run("malformed json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"broken`)
		}))
		defer server.Close()

		var target interface{}
		err := newTestClient().GetJSON(context.Background(), server.URL, &target)
		require.True(t, IsBadResponse(err))
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		var target interface{}
		err := newTestClient().GetJSON(context.Background(), server.URL, &target)
		require.True(t, IsNetwork(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		var target interface{}
		err := newTestClient().GetJSON(context.Background(), "http://127.0.0.1:1/nothing", &target)
		require.True(t, IsNetwork(err))
	})
}

func TestSubgraphQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"data":{"pools":[{"address":"0xb08197C9561516AA2E9ED0E4a8E3593D3CbeC39e","symbol":"BPT"}]}}`)
	}))
	defer server.Close()

	subgraph := NewSubgraphClient(newTestClient(), server.URL)
	pools, err := subgraph.BalancerPools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, "BPT", pools[0].Symbol)
}

func TestSubgraphErrorSurfacesAsBadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"syntax error"}]}`)
	}))
	defer server.Close()

	subgraph := NewSubgraphClient(newTestClient(), server.URL)
	_, err := subgraph.BalancerPools(context.Background())
	require.True(t, IsBadResponse(err))
}
