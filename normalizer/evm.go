package normalizer

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/events"
)

// GasCounterparty tags gas fee events.
const GasCounterparty = "gas"

// Messenger surfaces user-visible warnings, e.g. when a decoder fails and a
// transaction keeps its generic events.
type Messenger interface {
	Warning(message string)
}

// EvmNormalizer turns raw EVM transactions and their receipt logs into
// history events, routing each log through the decoder registry.
type EvmNormalizer struct {
	chain     chain.Chain
	registry  *decoder.Registry
	messenger Messenger
}

// NewEvmNormalizer creates a normalizer for one EVM chain. messenger may be
// nil.
func NewEvmNormalizer(c chain.Chain, registry *decoder.Registry, messenger Messenger) *EvmNormalizer {
	return &EvmNormalizer{chain: c, registry: registry, messenger: messenger}
}

// NormalizeTransaction emits the ordered history events of one transaction.
// Decoder failures never abort the transaction: the affected log keeps its
// preliminary generic event and a warning is surfaced.
func (n *EvmNormalizer) NormalizeTransaction(
	tx *evm.Transaction,
	isTracked func(common.Address) bool,
) ([]*events.HistoryEvent, error) {

	identifier := n.chain.EventIdentifierPrefix() + tx.TxHash.Hex()
	location := n.chain.Location()
	nativeAsset := n.chain.NativeAsset()

	var decoded []*events.HistoryEvent
	nextSequence := uint64(0)
	appendEvent := func(event *events.HistoryEvent) *events.HistoryEvent {
		event.EventIdentifier = identifier
		event.Timestamp = tx.Timestamp
		event.Location = location
		event.SequenceIndex = nextSequence
		nextSequence++
		decoded = append(decoded, event)
		return event
	}

	// There is always exactly one gas fee event for a tracked sender.
	if isTracked(tx.From) {
		gasFee := tx.GasFee()
		appendEvent(&events.HistoryEvent{
			EventType:     events.TypeSpend,
			EventSubtype:  events.SubtypeFee,
			Asset:         nativeAsset,
			Amount:        gasFee,
			LocationLabel: tx.From.Hex(),
			Counterparty:  GasCounterparty,
			Notes:         fmt.Sprintf("Burn %s %s for gas", gasFee, nativeAsset),
		})
	}

	if !tx.Success {
		// A reverted transaction only costs its sender the gas.
		return decoded, nil
	}

	if tx.Value != nil && tx.Value.Sign() > 0 {
		if event := n.transferEvent(
			tx.From, tx.To, nativeAsset, evm.WeiToEther(tx.Value), isTracked,
		); event != nil {
			appendEvent(event)
		}
	}

	var pendingActionItems []decoder.ActionItem
	matchedCounterparties := make(map[string]struct{})
	logs := append([]evm.Log(nil), tx.Logs...)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].LogIndex < logs[j].LogIndex })

	for i := range logs {
		logRecord := &logs[i]

		if logRecord.Topic0() == evm.TransferTopic && len(logRecord.Topics) >= 3 {
			token := n.registry.Tokens().GetOrCreate(logRecord.Address)
			from := evm.TopicAddress(logRecord.Topics[1])
			to := evm.TopicAddress(logRecord.Topics[2])
			amount := evm.TokenAmount(new(big.Int).SetBytes(logRecord.Data), token.Decimals)
			toPtr := &to
			if event := n.transferEvent(from, toPtr, token.Identifier, amount, isTracked); event != nil {
				for itemIdx := range pendingActionItems {
					if pendingActionItems[itemIdx].Matches(event) {
						pendingActionItems[itemIdx].Apply(event)
						pendingActionItems = append(
							pendingActionItems[:itemIdx], pendingActionItems[itemIdx+1:]...)
						break
					}
				}
				appendEvent(event)
			}
		}

		for _, decodeFn := range n.registry.DecodersForLog(logRecord.Address, logRecord.Topic0()) {
			output, err := n.decodeSafely(decodeFn, &decoder.Context{
				Tx:            tx,
				Log:           logRecord,
				DecodedEvents: decoded,
				AllLogs:       logs,
				IsTracked:     isTracked,
				Tokens:        n.registry.Tokens(),
			})
			if err != nil {
				// The log keeps its preliminary generic event.
				log.Errorf("Decoding log %d of transaction %s failed: %+v",
					logRecord.LogIndex, tx.TxHash.Hex(), err)
				if n.messenger != nil {
					n.messenger.Warning(fmt.Sprintf(
						"Decoding of transaction %s in %s failed. Check logs for more details",
						tx.TxHash.Hex(), location))
				}
				continue
			}
			for _, event := range output.NewEvents {
				appendEvent(event)
			}
			pendingActionItems = append(pendingActionItems, output.ActionItems...)
			if output.MatchedCounterparty != "" {
				matchedCounterparties[output.MatchedCounterparty] = struct{}{}
			}
		}
	}

	for _, rule := range n.registry.PostRulesFor(matchedCounterparties) {
		decoded = n.runPostRuleSafely(rule, tx, decoded, logs)
	}

	resequence(decoded)
	return decoded, nil
}

// transferEvent classifies a value transfer depending on which sides are
// tracked. Returns nil when neither side is.
func (n *EvmNormalizer) transferEvent(
	from common.Address,
	to *common.Address,
	asset string,
	amount decimal.Decimal,
	isTracked func(common.Address) bool,
) *events.HistoryEvent {

	trackedFrom := isTracked(from)
	trackedTo := to != nil && isTracked(*to)
	if !trackedFrom && !trackedTo {
		return nil
	}

	symbol := n.assetSymbol(asset)
	event := &events.HistoryEvent{
		EventSubtype: events.SubtypeNone,
		Asset:        asset,
		Amount:       amount,
	}
	switch {
	case trackedFrom && trackedTo:
		event.EventType = events.TypeTransfer
		event.LocationLabel = from.Hex()
		event.Address = to.Hex()
		event.Notes = fmt.Sprintf("Transfer %s %s to %s", amount, symbol, to.Hex())
	case trackedFrom:
		event.EventType = events.TypeSpend
		event.LocationLabel = from.Hex()
		if to != nil {
			event.Address = to.Hex()
			event.Notes = fmt.Sprintf("Send %s %s to %s", amount, symbol, to.Hex())
		} else {
			event.Notes = fmt.Sprintf("Send %s %s", amount, symbol)
		}
	default:
		event.EventType = events.TypeReceive
		event.LocationLabel = to.Hex()
		event.Address = from.Hex()
		event.Notes = fmt.Sprintf("Receive %s %s from %s", amount, symbol, from.Hex())
	}
	return event
}

func (n *EvmNormalizer) assetSymbol(identifier string) string {
	if identifier == n.chain.NativeAsset() {
		return identifier
	}
	const marker = "/erc20:"
	for i := 0; i+len(marker) <= len(identifier); i++ {
		if identifier[i:i+len(marker)] == marker {
			return n.registry.Tokens().GetOrCreate(
				common.HexToAddress(identifier[i+len(marker):])).Symbol
		}
	}
	return identifier
}

func (n *EvmNormalizer) decodeSafely(fn decoder.Fn, ctx *decoder.Context) (output decoder.Output, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			output = decoder.DefaultOutput
			err = fmt.Errorf("decoder panicked: %v", recovered)
		}
	}()
	return fn(ctx)
}

func (n *EvmNormalizer) runPostRuleSafely(
	rule decoder.PostRuleFn,
	tx *evm.Transaction,
	decoded []*events.HistoryEvent,
	logs []evm.Log,
) (result []*events.HistoryEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Errorf("Post processing of decoded events of %s failed: %v", tx.TxHash.Hex(), recovered)
			if n.messenger != nil {
				n.messenger.Warning(fmt.Sprintf(
					"Post processing of decoded events in %s failed. Check logs for more details",
					n.chain.Location()))
			}
			result = decoded
		}
	}()
	return rule(tx, decoded, logs)
}

// resequence assigns fresh dense sequence indexes 0..n-1 preserving the final
// order the decoders and post rules established.
func resequence(decoded []*events.HistoryEvent) {
	sort.SliceStable(decoded, func(i, j int) bool {
		return decoded[i].SequenceIndex < decoded[j].SequenceIndex
	})
	for i, event := range decoded {
		event.SequenceIndex = uint64(i)
	}
}
