package balancerv2

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/events"
)

// Counterparty is the protocol tag attached to Balancer v2 events.
const Counterparty = "balancer-v2"

// VaultAddress is the Balancer v2 vault, identical on every chain.
var VaultAddress = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")

var (
	swapTopic = common.BytesToHash(crypto.Keccak256(
		[]byte("Swap(bytes32,address,address,uint256,uint256)")))
	poolBalanceChangedTopic = common.BytesToHash(crypto.Keccak256(
		[]byte("PoolBalanceChanged(bytes32,address,address[],int256[],uint256[])")))
)

// Decoder decodes Balancer v2 vault activity: swaps, pool joins and exits.
type Decoder struct {
	chain         chain.Chain
	wrappedNative common.Address
	tokens        *decoder.TokenRegistry
}

// Register wires the decoder into the registry. wrappedNative is the chain's
// wrapped native token; swaps wrap/unwrap the native asset around the vault,
// so vault-side token amounts must be matched against native-asset transfer
// events too.
func Register(registry *decoder.Registry, c chain.Chain, wrappedNative common.Address) {
	d := &Decoder{chain: c, wrappedNative: wrappedNative, tokens: registry.Tokens()}
	registry.RegisterAddressDecoder(VaultAddress, d.decodeVaultEvents)
	registry.RegisterPostRule(Counterparty, 0, d.handlePostDecoding)
	registry.RegisterCounterparty(decoder.CounterpartyDetails{
		Identifier: Counterparty,
		Label:      "Balancer V2",
		Image:      "balancer.svg",
	})
}

func (d *Decoder) decodeVaultEvents(ctx *decoder.Context) (decoder.Output, error) {
	switch ctx.Log.Topic0() {
	case swapTopic:
		return decoder.Output{MatchedCounterparty: Counterparty}, nil
	case poolBalanceChangedTopic:
		return d.decodeJoinOrExit(ctx)
	}
	return decoder.DefaultOutput, nil
}

// decodeJoinOrExit rewrites the preliminary transfer events of a pool join or
// exit into their semantic forms.
func (d *Decoder) decodeJoinOrExit(ctx *decoder.Context) (decoder.Output, error) {
	zeroAddress := evm.ZeroAddress.Hex()
	vault := VaultAddress.Hex()
	var sendEvents, receiveEvents []*events.HistoryEvent
	for _, event := range ctx.DecodedEvents {
		symbol := SymbolOf(d.tokens, event.Asset)
		switch {
		case event.EventType == events.TypeSpend &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == zeroAddress:
			// exit pool: return wrapped token
			event.EventSubtype = events.SubtypeReturnWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Return %s %s to a Balancer v2 pool", event.Amount, symbol)
			sendEvents = append(sendEvents, event)

		case event.EventType == events.TypeReceive &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == vault:
			// exit pool: withdraw token
			event.EventType = events.TypeWithdrawal
			event.EventSubtype = events.SubtypeRedeemWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf(
				"Receive %s %s after removing liquidity from a Balancer v2 pool",
				event.Amount, symbol)
			receiveEvents = append(receiveEvents, event)

		case event.EventType == events.TypeReceive &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == zeroAddress:
			// join pool: receive wrapped token
			event.EventSubtype = events.SubtypeReceiveWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Receive %s %s from a Balancer v2 pool", event.Amount, symbol)
			receiveEvents = append(receiveEvents, event)

		case event.EventType == events.TypeSpend &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == vault:
			// join pool: deposit token
			event.EventType = events.TypeDeposit
			event.EventSubtype = events.SubtypeDepositForWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Deposit %s %s to a Balancer v2 pool", event.Amount, symbol)
			sendEvents = append(sendEvents, event)
		}
	}

	// The receive event must come after the sends before grouping them in
	// OrderWrappedGroups.
	decoder.MaybeReshuffleEvents(append(sendEvents, receiveEvents...), ctx.DecodedEvents)
	return decoder.Output{MatchedCounterparty: Counterparty}, nil
}

// handlePostDecoding decodes swaps and orders pool join/exit events. Swap
// tx logs are created at the tx start containing token and amount
// information, followed by transfer executions, so the tokens and amounts of
// all swap logs are matched against the events.
func (d *Decoder) handlePostDecoding(tx *evm.Transaction, decodedEvents []*events.HistoryEvent, allLogs []evm.Log) []*events.HistoryEvent {
	d.decodeSwaps(tx, decodedEvents, allLogs)
	OrderWrappedGroups(d.tokens, Counterparty, decodedEvents)
	return decodedEvents
}

type tokenAmount struct {
	asset  string
	amount string
}

func (d *Decoder) decodeSwaps(tx *evm.Transaction, decodedEvents []*events.HistoryEvent, allLogs []evm.Log) {
	spent := make(map[tokenAmount]struct{})
	received := make(map[tokenAmount]struct{})
	sawSwap := false
	for i := range allLogs {
		logRecord := &allLogs[i]
		if logRecord.Topic0() != swapTopic || len(logRecord.Topics) < 4 || len(logRecord.Data) < 64 {
			continue
		}
		sawSwap = true
		fromToken := d.tokens.GetOrCreate(evm.TopicAddress(logRecord.Topics[2]))
		toToken := d.tokens.GetOrCreate(evm.TopicAddress(logRecord.Topics[3]))
		amountIn := evm.TokenAmount(new(big.Int).SetBytes(logRecord.Data[0:32]), fromToken.Decimals)
		amountOut := evm.TokenAmount(new(big.Int).SetBytes(logRecord.Data[32:64]), toToken.Decimals)
		spent[tokenAmount{fromToken.Identifier, amountIn.String()}] = struct{}{}
		received[tokenAmount{toToken.Identifier, amountOut.String()}] = struct{}{}
	}
	if !sawSwap {
		return
	}

	nativeAsset := d.chain.NativeAsset()
	wrappedIdentifier := evm.AssetIdentifier(d.chain, d.wrappedNative)
	vault := VaultAddress.Hex()
	var spendEvent, receiveEvent *events.HistoryEvent
	for _, event := range decodedEvents {
		if event.EventSubtype != events.SubtypeNone || event.Address != vault {
			continue // not associated with a balancer swap
		}
		// Native assets are wrapped/unwrapped before/after the swap, so
		// the swap log shows the wrapped token while the user transfers
		// the native asset.
		asset := event.Asset
		if asset == nativeAsset {
			asset = wrappedIdentifier
		}
		key := tokenAmount{asset, event.Amount.String()}
		if _, ok := spent[key]; ok && event.EventType == events.TypeSpend {
			event.EventType = events.TypeTrade
			event.EventSubtype = events.SubtypeSpend
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Swap %s %s via Balancer v2",
				event.Amount, SymbolOf(d.tokens, event.Asset))
			spendEvent = event
		} else if _, ok := received[key]; ok && event.EventType == events.TypeReceive {
			event.EventType = events.TypeTrade
			event.EventSubtype = events.SubtypeReceive
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Receive %s %s as the result of a swap via Balancer v2",
				event.Amount, SymbolOf(d.tokens, event.Asset))
			receiveEvent = event
		}
	}

	if spendEvent == nil || receiveEvent == nil {
		log.Errorf("Failed to find both in and out events for a Balancer v2 swap in %s", tx.TxHash.Hex())
		return
	}
	decoder.MaybeReshuffleEvents(
		[]*events.HistoryEvent{spendEvent, receiveEvent}, decodedEvents)
}

// OrderWrappedGroups orders wrapped-token groups for accurate accounting.
// OUT events precede IN events: deposits before the LP token receipt, the LP
// token return before withdrawals. The wrapped-token leg gets the count of
// its asset legs in extra data so the accounting engine can pair them later.
// Small amounts of a deposited asset coming back after an asymmetric join
// flip to refunds.
func OrderWrappedGroups(tokens *decoder.TokenRegistry, counterparty string, decodedEvents []*events.HistoryEvent) {
	var depositEvents, receiveWrapped, returnWrapped, withdrawalEvents []*events.HistoryEvent
	for _, event := range decodedEvents {
		if event.Counterparty != counterparty {
			continue
		}
		switch event.EventSubtype {
		case events.SubtypeDepositForWrapped:
			depositEvents = append(depositEvents, event)
		case events.SubtypeReceiveWrapped:
			receiveWrapped = append(receiveWrapped, event)
		case events.SubtypeReturnWrapped:
			returnWrapped = append(returnWrapped, event)
		case events.SubtypeRedeemWrapped:
			withdrawalEvents = append(withdrawalEvents, event)
		}
	}

	if len(receiveWrapped) == 1 && len(depositEvents) > 0 {
		depositedAssets := make(map[string]struct{}, len(depositEvents))
		for _, event := range depositEvents {
			depositedAssets[event.Asset] = struct{}{}
		}
		for _, event := range decodedEvents {
			if event.EventType != events.TypeReceive ||
				event.EventSubtype != events.SubtypeNone {
				continue
			}
			if _, ok := depositedAssets[event.Asset]; ok {
				event.EventType = events.TypeWithdrawal
				event.EventSubtype = events.SubtypeRefund
				event.Counterparty = counterparty
				event.Notes = fmt.Sprintf("Refund of %s %s from the pool deposit",
					event.Amount, SymbolOf(tokens, event.Asset))
			}
		}

		receiveWrapped[0].ExtraData = map[string]interface{}{
			"deposit_events_num": len(depositEvents),
		}
		decoder.MaybeReshuffleEvents(
			append(depositEvents, receiveWrapped[0]), decodedEvents)
	}
	if len(returnWrapped) == 1 && len(withdrawalEvents) > 0 {
		returnWrapped[0].ExtraData = map[string]interface{}{
			"withdrawal_events_num": len(withdrawalEvents),
		}
		decoder.MaybeReshuffleEvents(
			append([]*events.HistoryEvent{returnWrapped[0]}, withdrawalEvents...), decodedEvents)
	}
}

// SymbolOf renders an asset identifier as a symbol for notes, resolving
// token identifiers through the token registry.
func SymbolOf(tokens *decoder.TokenRegistry, identifier string) string {
	const marker = "/erc20:"
	if idx := strings.Index(identifier, marker); idx >= 0 {
		return tokens.GetOrCreate(common.HexToAddress(identifier[idx+len(marker):])).Symbol
	}
	return identifier
}
