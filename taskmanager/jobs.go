package taskmanager

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/dbaccess"
	"github.com/folionet/foliod/fetchers"
	"github.com/folionet/foliod/notifications"
)

// bitcoinSchemaVersion stamps bitcoin-family decodes; the bitcoin normalizer
// has no pluggable registry, so this only advances with the normalizer
// itself.
const bitcoinSchemaVersion = 1

const (
	subtypeBitcoin = "bitcoin"
	subtypeEvm     = "evm"
)

// notifyMissingAPIKeyOnce tells the user a service needs a key they have not
// configured. Not fatal; emitted once per service per process.
func (tm *TaskManager) notifyMissingAPIKeyOnce(service string) {
	tm.mu.Lock()
	alreadyNotified := tm.missingKeyNotified[service]
	tm.missingKeyNotified[service] = true
	tm.mu.Unlock()
	if alreadyNotified || tm.hub == nil {
		return
	}
	tm.hub.Broadcast(notifications.NewMissingAPIKey(service))
}

func (tm *TaskManager) notifyStatus(addresses []string, chainName, subtype, status string) {
	if tm.hub == nil {
		return
	}
	tm.hub.Broadcast(notifications.NewTransactionStatus(addresses, chainName, subtype, status))
}

// queryWindow resolves the wall-clock window of a transactions job: the
// explicit window when forced through the API, otherwise from the configured
// initial lookback (default genesis) to now.
func (tm *TaskManager) queryWindow(window *dbaccess.Interval) dbaccess.Interval {
	if window != nil {
		return *window
	}
	now := time.Now().UnixMilli()
	start := int64(0)
	if tm.cfg.InitialLookbackSecs > 0 {
		start = now - int64(tm.cfg.InitialLookbackSecs)*1000
		if start < 0 {
			start = 0
		}
	}
	return dbaccess.Interval{Start: start, End: now}
}

func (tm *TaskManager) bitcoinTrackedSet(chainName string) (map[string]struct{}, error) {
	accounts, err := tm.db.Accounts(chainName)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		tracked[account.Canonical] = struct{}{}
	}
	return tracked, nil
}

// queryBitcoinTransactions pulls the missing ranges of one address, persists
// the raw transactions, and decodes what is new.
func (tm *TaskManager) queryBitcoinTransactions(
	ctx context.Context,
	service *BitcoinChainService,
	canonical string,
	window *dbaccess.Interval,
) error {

	chainName := service.Chain.String()
	fingerprint := chain.TransactionsFingerprint(service.Chain, canonical)
	fullWindow := tm.queryWindow(window)
	missing, err := tm.db.MissingRanges(fingerprint, fullWindow.Start, fullWindow.End)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	tracked, err := tm.bitcoinTrackedSet(chainName)
	if err != nil {
		return err
	}
	isTracked := func(address string) bool {
		_, ok := tracked[address]
		return ok
	}

	addresses := []string{canonical}
	tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusQueryingTransactionsStarted)
	for _, interval := range missing {
		if err := ctx.Err(); err != nil {
			tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusQueryingTransactionsFinished)
			return err
		}
		latestBlock, txs, err := service.Coordinator.Transactions(ctx, addresses, &fetchers.TxOptions{
			FromTimestamp: chain.TimestampMS(interval.Start),
			ToTimestamp:   chain.TimestampMS(interval.End),
		})
		if err != nil {
			tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusQueryingTransactionsFinished)
			return err
		}

		records := make([]dbaccess.RawTxRecord, 0, len(txs))
		for _, tx := range txs {
			payload, err := json.Marshal(tx)
			if err != nil {
				return errors.Wrap(err, "serializing raw transaction")
			}
			records = append(records, dbaccess.RawTxRecord{
				TxID:            tx.TxID,
				Block:           tx.BlockHeight,
				TimestampMS:     int64(tx.Timestamp),
				Fee:             tx.Fee.String(),
				Payload:         payload,
				LinkedAddresses: bitcoinLinkedAddresses(tx, isTracked, canonical),
			})
		}
		interval := interval
		if _, err := tm.db.InsertRawTransactions(chainName, records, fingerprint, &interval); err != nil {
			tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusQueryingTransactionsFinished)
			return err
		}
		if latestBlock > 0 {
			if err := tm.db.SetSetting("last_block:"+fingerprint, strconv.FormatInt(latestBlock, 10)); err != nil {
				log.Warnf("Failed to store last block of %s: %s", fingerprint, err)
			}
		}
	}
	tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusQueryingTransactionsFinished)

	tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusDecodingTransactionsStarted)
	err = tm.decodeBitcoinBatch(ctx, service, isTracked)
	tm.notifyStatus(addresses, chainName, subtypeBitcoin, notifications.StatusDecodingTransactionsFinished)
	return err
}

func bitcoinLinkedAddresses(tx *bitcoin.Tx, isTracked func(string) bool, always string) []string {
	seen := map[string]struct{}{always: {}}
	linked := []string{always}
	for _, txIO := range append(append([]bitcoin.TxIO{}, tx.Inputs...), tx.Outputs...) {
		if txIO.Address == "" || !isTracked(txIO.Address) {
			continue
		}
		if _, ok := seen[txIO.Address]; ok {
			continue
		}
		seen[txIO.Address] = struct{}{}
		linked = append(linked, txIO.Address)
	}
	return linked
}

// decodePendingBitcoin rescans the raw store for un-decoded or stale-schema
// transactions of a chain.
func (tm *TaskManager) decodePendingBitcoin(ctx context.Context, service *BitcoinChainService) error {
	tracked, err := tm.bitcoinTrackedSet(service.Chain.String())
	if err != nil {
		return err
	}
	isTracked := func(address string) bool {
		_, ok := tracked[address]
		return ok
	}
	return tm.decodeBitcoinBatch(ctx, service, isTracked)
}

func (tm *TaskManager) decodeBitcoinBatch(
	ctx context.Context,
	service *BitcoinChainService,
	isTracked func(string) bool,
) error {
	chainName := service.Chain.String()
	rows, err := tm.db.PendingDecode(chainName, bitcoinSchemaVersion, decodeBatchSize)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := &rows[i]
		tx := &bitcoin.Tx{}
		if err := json.Unmarshal(row.Payload, tx); err != nil {
			log.Errorf("Failed to deserialize stored %s tx %s: %s", chainName, row.TxID, err)
			continue
		}
		eventList, err := service.Normalizer.NormalizeTransaction(tx, isTracked)
		if err != nil {
			// A normalizer failure aborts this tx only.
			log.Errorf("Failed to normalize %s tx %s: %s", chainName, row.TxID, err)
			if tm.aggregator != nil {
				tm.aggregator.Warning("Failed to decode a " + chainName + " transaction. Check logs for more details")
			}
			continue
		}
		identifier := service.Chain.EventIdentifierPrefix() + row.TxID
		if err := tm.db.ReplaceEventsForIdentifier(identifier, eventList); err != nil {
			return err
		}
		if err := tm.db.MarkDecoded(chainName, row.TxID, bitcoinSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// queryEvmTransactions pulls the missing ranges of one EVM address, persists
// the raw transactions with their receipts, and decodes what is new.
func (tm *TaskManager) queryEvmTransactions(
	ctx context.Context,
	service *EvmChainService,
	address string,
	window *dbaccess.Interval,
) error {

	chainName := service.Chain.String()
	if tm.cfg.EtherscanAPIKey == "" {
		tm.notifyMissingAPIKeyOnce("etherscan")
	}

	fingerprint := chain.TransactionsFingerprint(service.Chain, address)
	fullWindow := tm.queryWindow(window)
	missing, err := tm.db.MissingRanges(fingerprint, fullWindow.Start, fullWindow.End)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	tracked, err := tm.evmTrackedSet(chainName)
	if err != nil {
		return err
	}
	isTracked := func(candidate common.Address) bool {
		_, ok := tracked[candidate]
		return ok
	}

	addresses := []string{address}
	tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusQueryingTransactionsStarted)
	for _, interval := range missing {
		if err := ctx.Err(); err != nil {
			tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusQueryingTransactionsFinished)
			return err
		}
		_, txs, err := service.Coordinator.Transactions(ctx, addresses, &fetchers.TxOptions{
			FromTimestamp: chain.TimestampMS(interval.Start),
			ToTimestamp:   chain.TimestampMS(interval.End),
		})
		if err != nil {
			tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusQueryingTransactionsFinished)
			return err
		}

		records := make([]dbaccess.RawTxRecord, 0, len(txs))
		for _, tx := range txs {
			payload, err := json.Marshal(tx)
			if err != nil {
				return errors.Wrap(err, "serializing raw transaction")
			}
			records = append(records, dbaccess.RawTxRecord{
				TxID:            tx.TxHash.Hex(),
				Block:           tx.BlockNumber,
				TimestampMS:     int64(tx.Timestamp),
				Fee:             tx.GasFee().String(),
				Payload:         payload,
				LinkedAddresses: evmLinkedAddresses(tx, isTracked, address),
			})
		}
		interval := interval
		if _, err := tm.db.InsertRawTransactions(chainName, records, fingerprint, &interval); err != nil {
			tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusQueryingTransactionsFinished)
			return err
		}
	}
	tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusQueryingTransactionsFinished)

	tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusDecodingTransactionsStarted)
	err = tm.decodeEvmBatch(ctx, service, isTracked)
	tm.notifyStatus(addresses, chainName, subtypeEvm, notifications.StatusDecodingTransactionsFinished)
	return err
}

func (tm *TaskManager) evmTrackedSet(chainName string) (map[common.Address]struct{}, error) {
	accounts, err := tm.db.Accounts(chainName)
	if err != nil {
		return nil, err
	}
	tracked := make(map[common.Address]struct{}, len(accounts))
	for _, account := range accounts {
		tracked[common.HexToAddress(account.Canonical)] = struct{}{}
	}
	return tracked, nil
}

func evmLinkedAddresses(tx *evm.Transaction, isTracked func(common.Address) bool, always string) []string {
	seen := map[string]struct{}{always: {}}
	linked := []string{always}
	add := func(candidate common.Address) {
		if !isTracked(candidate) {
			return
		}
		hexAddress := candidate.Hex()
		if _, ok := seen[hexAddress]; ok {
			return
		}
		seen[hexAddress] = struct{}{}
		linked = append(linked, hexAddress)
	}
	add(tx.From)
	if tx.To != nil {
		add(*tx.To)
	}
	for i := range tx.Logs {
		logRecord := &tx.Logs[i]
		if logRecord.Topic0() == evm.TransferTopic && len(logRecord.Topics) >= 3 {
			add(evm.TopicAddress(logRecord.Topics[1]))
			add(evm.TopicAddress(logRecord.Topics[2]))
		}
	}
	return linked
}

// decodePendingEvm rescans the raw store for un-decoded or stale-schema
// transactions of a chain, re-decoding events produced under an older
// registry version.
func (tm *TaskManager) decodePendingEvm(ctx context.Context, service *EvmChainService) error {
	tracked, err := tm.evmTrackedSet(service.Chain.String())
	if err != nil {
		return err
	}
	isTracked := func(candidate common.Address) bool {
		_, ok := tracked[candidate]
		return ok
	}
	return tm.decodeEvmBatch(ctx, service, isTracked)
}

func (tm *TaskManager) decodeEvmBatch(
	ctx context.Context,
	service *EvmChainService,
	isTracked func(common.Address) bool,
) error {
	chainName := service.Chain.String()
	schemaVersion := service.Registry.SchemaVersion()
	rows, err := tm.db.PendingDecode(chainName, schemaVersion, decodeBatchSize)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := &rows[i]
		tx := &evm.Transaction{}
		if err := json.Unmarshal(row.Payload, tx); err != nil {
			log.Errorf("Failed to deserialize stored %s tx %s: %s", chainName, row.TxID, err)
			continue
		}
		eventList, err := service.Normalizer.NormalizeTransaction(tx, isTracked)
		if err != nil {
			log.Errorf("Failed to normalize %s tx %s: %s", chainName, row.TxID, err)
			if tm.aggregator != nil {
				tm.aggregator.Warning("Failed to decode a " + chainName + " transaction. Check logs for more details")
			}
			continue
		}
		identifier := service.Chain.EventIdentifierPrefix() + row.TxID
		if err := tm.db.ReplaceEventsForIdentifier(identifier, eventList); err != nil {
			return err
		}
		if err := tm.db.MarkDecoded(chainName, row.TxID, schemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// refreshBalances refreshes on-chain balances with TTL-cached results.
func (tm *TaskManager) refreshBalances(ctx context.Context) error {
	for _, service := range tm.btcServices {
		accounts, err := tm.db.Accounts(service.Chain.String())
		if err != nil {
			return err
		}
		var stale []string
		for _, account := range accounts {
			if _, ok := tm.balanceCache.Get(service.Chain.String() + ":" + account.Canonical); !ok {
				stale = append(stale, account.Canonical)
			}
		}
		if len(stale) == 0 {
			continue
		}
		balances, err := service.Coordinator.Balances(ctx, stale)
		if err != nil {
			log.Warnf("Failed to refresh %s balances: %s", service.Chain, err)
			continue
		}
		for address, balance := range balances {
			tm.balanceCache.Add(service.Chain.String()+":"+address, balance)
		}
	}
	for _, service := range tm.evmServices {
		accounts, err := tm.db.Accounts(service.Chain.String())
		if err != nil {
			return err
		}
		var stale []string
		for _, account := range accounts {
			if _, ok := tm.balanceCache.Get(service.Chain.String() + ":" + account.Canonical); !ok {
				stale = append(stale, account.Canonical)
			}
		}
		if len(stale) == 0 {
			continue
		}
		balances, err := service.Coordinator.Balances(ctx, stale)
		if err != nil {
			log.Warnf("Failed to refresh %s balances: %s", service.Chain, err)
			continue
		}
		for address, balance := range balances {
			tm.balanceCache.Add(service.Chain.String()+":"+address, evm.WeiToEther(balance))
		}
	}
	return nil
}

// refreshPremium re-validates the configured premium credentials.
func (tm *TaskManager) refreshPremium(ctx context.Context) error {
	if err := tm.premium.Refresh(ctx); err != nil {
		log.Warnf("Premium credentials refresh failed: %s", err)
		if tm.aggregator != nil {
			tm.aggregator.Warning("Could not refresh the premium credentials. Premium features are disabled until the next successful refresh")
		}
		return nil
	}
	tm.mu.Lock()
	tm.lastPremiumRefresh = time.Now()
	tm.mu.Unlock()
	return nil
}
