package fetchers

import (
	"context"
	"encoding/json"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
)

const etherscanPageLimit = 10000

// EtherscanAPI adapts an etherscan-family EVM explorer. It serves the normal
// and internal transaction streams and, through the proxy module, the receipt
// logs of individual transactions.
type EtherscanAPI struct {
	client  *Client
	baseURL string
	apiKey  string
	chain   chain.Chain
}

// NewEtherscanAPI creates the adapter for one EVM chain.
func NewEtherscanAPI(client *Client, baseURL, apiKey string, c chain.Chain) *EtherscanAPI {
	return &EtherscanAPI{client: client, baseURL: baseURL, apiKey: apiKey, chain: c}
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`

	// Some providers signal errors in a cryptocompare-style envelope with
	// HTTP 200.
	Response     string `json:"Response"`
	ResponseText string `json:"Message"`
}

// query performs one explorer call and decodes its result, translating the
// in-band rate-limit markers the explorer returns with HTTP 200.
func (a *EtherscanAPI) query(ctx context.Context, params url.Values, target interface{}) error {
	params.Set("apikey", a.apiKey)
	requestURL := a.baseURL + "?" + params.Encode()
	envelope := &etherscanEnvelope{}
	if err := a.client.GetJSON(ctx, requestURL, envelope); err != nil {
		return err
	}
	if envelope.Response == "Error" {
		if strings.Contains(strings.ToLower(envelope.ResponseText), "limit") {
			return &RateLimitedError{RetryAfter: defaultRetryAfter}
		}
		return &BadResponseError{Err: errors.Errorf("explorer error: %s", envelope.ResponseText)}
	}
	if envelope.Status == "0" {
		resultText := strings.Trim(string(envelope.Result), `"`)
		if strings.Contains(strings.ToLower(resultText), "rate limit") {
			return &RateLimitedError{RetryAfter: defaultRetryAfter}
		}
		if envelope.Message == "No transactions found" {
			return json.Unmarshal([]byte("[]"), target)
		}
		return &BadResponseError{Err: errors.Errorf("explorer error: %s: %s", envelope.Message, resultText)}
	}
	if err := json.Unmarshal(envelope.Result, target); err != nil {
		return &BadResponseError{Err: errors.Wrap(err, "decoding explorer result")}
	}
	return nil
}

type etherscanTxEntry struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Hash        string `json:"hash"`
	Nonce       string `json:"nonce"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	GasUsed     string `json:"gasUsed"`
	GasPrice    string `json:"gasPrice"`
	IsError     string `json:"isError"`
}

// Transactions returns the confirmed transactions of the accounts inside the
// options window, receipt logs included, and the latest block seen.
func (a *EtherscanAPI) Transactions(ctx context.Context, accounts []string, options *TxOptions) (int64, []*evm.Transaction, error) {
	var (
		latestBlock int64
		txs         []*evm.Transaction
	)
	seen := make(map[common.Hash]struct{})
	for _, account := range accounts {
		for _, action := range []string{"txlist", "txlistinternal"} {
			entries, err := a.listTransactions(ctx, account, action, options)
			if err != nil {
				return 0, nil, err
			}
			for i := range entries {
				tx, err := a.deserializeTx(&entries[i])
				if err != nil {
					return 0, nil, err
				}
				if _, ok := seen[tx.TxHash]; ok {
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
				if err := a.attachReceipt(ctx, tx); err != nil {
					return 0, nil, err
				}
				seen[tx.TxHash] = struct{}{}
				txs = append(txs, tx)
				if tx.BlockNumber > latestBlock {
					latestBlock = tx.BlockNumber
				}
			}
		}
	}
	return latestBlock, txs, nil
}

func (a *EtherscanAPI) listTransactions(ctx context.Context, account, action string, options *TxOptions) ([]etherscanTxEntry, error) {
	var all []etherscanTxEntry
	startBlock := int64(0)
	if options != nil && options.FromBlock > 0 {
		startBlock = options.FromBlock
	}
	for {
		params := url.Values{}
		params.Set("module", "account")
		params.Set("action", action)
		params.Set("address", account)
		params.Set("startblock", strconv.FormatInt(startBlock, 10))
		params.Set("endblock", "latest")
		params.Set("sort", "asc")
		var page []etherscanTxEntry
		if err := a.query(ctx, params, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < etherscanPageLimit {
			return all, nil
		}
		// The explorer caps each response; resume from the last block
		// seen. The overlap is deduplicated by the caller.
		lastBlock, err := strconv.ParseInt(page[len(page)-1].BlockNumber, 10, 64)
		if err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "parsing block number")}
		}
		startBlock = lastBlock
	}
}

func (a *EtherscanAPI) deserializeTx(entry *etherscanTxEntry) (*evm.Transaction, error) {
	blockNumber, err := strconv.ParseInt(entry.BlockNumber, 10, 64)
	if err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "parsing block number")}
	}
	timestamp, err := strconv.ParseInt(entry.TimeStamp, 10, 64)
	if err != nil {
		return nil, &BadResponseError{Err: errors.Wrap(err, "parsing timestamp")}
	}
	value, ok := new(big.Int).SetString(entry.Value, 10)
	if !ok {
		return nil, &BadResponseError{Err: errors.Errorf("parsing tx value %q", entry.Value)}
	}
	gasPrice := new(big.Int)
	if entry.GasPrice != "" {
		if gasPrice, ok = new(big.Int).SetString(entry.GasPrice, 10); !ok {
			return nil, &BadResponseError{Err: errors.Errorf("parsing gas price %q", entry.GasPrice)}
		}
	}
	var gasUsed uint64
	if entry.GasUsed != "" {
		if gasUsed, err = strconv.ParseUint(entry.GasUsed, 10, 64); err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "parsing gas used")}
		}
	}
	var nonce uint64
	if entry.Nonce != "" {
		if nonce, err = strconv.ParseUint(entry.Nonce, 10, 64); err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "parsing nonce")}
		}
	}

	tx := &evm.Transaction{
		Chain:             a.chain,
		TxHash:            common.HexToHash(entry.Hash),
		BlockNumber:       blockNumber,
		Timestamp:         secondsToMS(timestamp),
		From:              common.HexToAddress(entry.From),
		Value:             value,
		GasUsed:           gasUsed,
		EffectiveGasPrice: gasPrice,
		Nonce:             nonce,
		Success:           entry.IsError != "1",
	}
	if entry.To != "" {
		to := common.HexToAddress(entry.To)
		tx.To = &to
	}
	return tx, nil
}

type etherscanReceipt struct {
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	Status            string `json:"status"`
	Logs              []struct {
		Address  string   `json:"address"`
		Topics   []string `json:"topics"`
		Data     string   `json:"data"`
		LogIndex string   `json:"logIndex"`
	} `json:"logs"`
}

// attachReceipt fetches the transaction receipt through the proxy module and
// fills in the logs and the effective gas data.
func (a *EtherscanAPI) attachReceipt(ctx context.Context, tx *evm.Transaction) error {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_getTransactionReceipt")
	params.Set("txhash", tx.TxHash.Hex())
	params.Set("apikey", a.apiKey)
	requestURL := a.baseURL + "?" + params.Encode()

	var envelope struct {
		Result *etherscanReceipt `json:"result"`
	}
	if err := a.client.GetJSON(ctx, requestURL, &envelope); err != nil {
		return err
	}
	if envelope.Result == nil {
		return &BadResponseError{Err: errors.Errorf("no receipt for tx %s", tx.TxHash.Hex())}
	}
	receipt := envelope.Result

	if receipt.GasUsed != "" {
		gasUsed, err := hexutil.DecodeUint64(receipt.GasUsed)
		if err != nil {
			return &BadResponseError{Err: errors.Wrap(err, "parsing receipt gas used")}
		}
		tx.GasUsed = gasUsed
	}
	if receipt.EffectiveGasPrice != "" {
		price, err := hexutil.DecodeBig(receipt.EffectiveGasPrice)
		if err != nil {
			return &BadResponseError{Err: errors.Wrap(err, "parsing effective gas price")}
		}
		tx.EffectiveGasPrice = price
	}
	if receipt.Status != "" {
		tx.Success = receipt.Status == "0x1"
	}

	tx.Logs = tx.Logs[:0]
	for _, rawLog := range receipt.Logs {
		logIndex, err := hexutil.DecodeUint64(rawLog.LogIndex)
		if err != nil {
			return &BadResponseError{Err: errors.Wrap(err, "parsing log index")}
		}
		data, err := hexutil.Decode(rawLog.Data)
		if err != nil {
			return &BadResponseError{Err: errors.Wrap(err, "parsing log data")}
		}
		logRecord := evm.Log{
			Address:  common.HexToAddress(rawLog.Address),
			Data:     data,
			LogIndex: uint(logIndex),
		}
		for _, topic := range rawLog.Topics {
			logRecord.Topics = append(logRecord.Topics, common.HexToHash(topic))
		}
		tx.Logs = append(tx.Logs, logRecord)
	}
	return nil
}

// Balances returns the native-currency balance of each account.
func (a *EtherscanAPI) Balances(ctx context.Context, accounts []string) (map[string]*big.Int, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "balancemulti")
	params.Set("address", strings.Join(accounts, ","))
	params.Set("tag", "latest")
	var entries []struct {
		Account string `json:"account"`
		Balance string `json:"balance"`
	}
	if err := a.query(ctx, params, &entries); err != nil {
		return nil, err
	}
	balances := make(map[string]*big.Int, len(entries))
	for _, entry := range entries {
		balance, ok := new(big.Int).SetString(entry.Balance, 10)
		if !ok {
			return nil, &BadResponseError{Err: errors.Errorf("parsing balance %q", entry.Balance)}
		}
		balances[entry.Account] = balance
	}
	return balances, nil
}

// Logs queries the explorer's standalone log endpoint for a contract address
// in a block range. Used for protocol-level data outside any tracked tx.
func (a *EtherscanAPI) Logs(ctx context.Context, contract common.Address, fromBlock, toBlock int64, topic0 common.Hash) ([]evm.Log, error) {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("address", contract.Hex())
	params.Set("fromBlock", strconv.FormatInt(fromBlock, 10))
	params.Set("toBlock", strconv.FormatInt(toBlock, 10))
	if (topic0 != common.Hash{}) {
		params.Set("topic0", topic0.Hex())
	}
	var entries []struct {
		Address  string   `json:"address"`
		Topics   []string `json:"topics"`
		Data     string   `json:"data"`
		LogIndex string   `json:"logIndex"`
	}
	if err := a.query(ctx, params, &entries); err != nil {
		return nil, err
	}
	logs := make([]evm.Log, 0, len(entries))
	for _, entry := range entries {
		data, err := hexutil.Decode(entry.Data)
		if err != nil {
			return nil, &BadResponseError{Err: errors.Wrap(err, "parsing log data")}
		}
		logIndex := uint64(0)
		if entry.LogIndex != "" && entry.LogIndex != "0x" {
			if logIndex, err = hexutil.DecodeUint64(entry.LogIndex); err != nil {
				return nil, &BadResponseError{Err: errors.Wrap(err, "parsing log index")}
			}
		}
		logRecord := evm.Log{
			Address:  common.HexToAddress(entry.Address),
			Data:     data,
			LogIndex: uint(logIndex),
		}
		for _, topic := range entry.Topics {
			logRecord.Topics = append(logRecord.Topics, common.HexToHash(topic))
		}
		logs = append(logs, logRecord)
	}
	return logs, nil
}
