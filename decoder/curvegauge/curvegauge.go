package curvegauge

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/decoder/balancerv2"
	"github.com/folionet/foliod/events"
)

// Counterparty is the protocol tag attached to Curve gauge events.
const Counterparty = "curve"

var (
	depositTopic  = common.BytesToHash(crypto.Keccak256([]byte("Deposit(address,uint256)")))
	withdrawTopic = common.BytesToHash(crypto.Keccak256([]byte("Withdraw(address,uint256)")))
)

// Decoder decodes Curve gauge deposits, withdrawals and CRV reward claims.
// The gauge set comes from the protocol subgraph and can be refreshed while
// running.
type Decoder struct {
	chain    chain.Chain
	crvToken common.Address
	tokens   *decoder.TokenRegistry

	mu     sync.RWMutex
	gauges map[common.Address]struct{}
}

// Register wires the decoder into the registry for the given initial gauge
// set and returns it so the gauge list can be refreshed from the subgraph.
func Register(registry *decoder.Registry, c chain.Chain, gauges []common.Address, crvToken common.Address) *Decoder {
	d := &Decoder{
		chain:    c,
		crvToken: crvToken,
		tokens:   registry.Tokens(),
		gauges:   make(map[common.Address]struct{}),
	}
	d.SetGauges(gauges)
	for _, gauge := range gauges {
		registry.RegisterAddressDecoder(gauge, d.DecodeGaugeEvent)
	}
	// Reward claims only emit a transfer on the CRV contract, so a
	// topic-wide fallback catches them.
	registry.RegisterTopicDecoder(evm.TransferTopic, d.decodeRewardClaim)
	registry.RegisterPostRule(Counterparty, 0, d.orderGaugeEvents)
	registry.RegisterCounterparty(decoder.CounterpartyDetails{
		Identifier: Counterparty,
		Label:      "Curve",
		Image:      "curve.svg",
	})
	return d
}

// SetGauges replaces the known gauge set.
func (d *Decoder) SetGauges(gauges []common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gauges = make(map[common.Address]struct{}, len(gauges))
	for _, gauge := range gauges {
		d.gauges[gauge] = struct{}{}
	}
}

func (d *Decoder) isGauge(address common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.gauges[address]
	return ok
}

// DecodeGaugeEvent rewrites the LP-token transfer into the gauge and the
// gauge receipt mint (or the reverse on withdrawal) into their semantic
// forms.
func (d *Decoder) DecodeGaugeEvent(ctx *decoder.Context) (decoder.Output, error) {
	topic := ctx.Log.Topic0()
	if topic != depositTopic && topic != withdrawTopic {
		return decoder.DefaultOutput, nil
	}

	gauge := ctx.Log.Address
	gaugeHex := gauge.Hex()
	zeroAddress := evm.ZeroAddress.Hex()
	gaugeToken := evm.AssetIdentifier(d.chain, gauge)
	for _, event := range ctx.DecodedEvents {
		symbol := balancerv2.SymbolOf(d.tokens, event.Asset)
		switch {
		case topic == depositTopic &&
			event.EventType == events.TypeSpend &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == gaugeHex:
			event.EventType = events.TypeDeposit
			event.EventSubtype = events.SubtypeDepositForWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Deposit %s %s into %s curve gauge",
				event.Amount, symbol, gaugeHex)

		case topic == depositTopic &&
			event.EventType == events.TypeReceive &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == zeroAddress &&
			event.Asset == gaugeToken:
			event.EventSubtype = events.SubtypeReceiveWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Receive %s %s after depositing in %s curve gauge",
				event.Amount, symbol, gaugeHex)

		case topic == withdrawTopic &&
			event.EventType == events.TypeSpend &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == zeroAddress &&
			event.Asset == gaugeToken:
			event.EventSubtype = events.SubtypeReturnWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Return %s %s to %s curve gauge",
				event.Amount, symbol, gaugeHex)

		case topic == withdrawTopic &&
			event.EventType == events.TypeReceive &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == gaugeHex:
			event.EventType = events.TypeWithdrawal
			event.EventSubtype = events.SubtypeRedeemWrapped
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Withdraw %s %s from %s curve gauge",
				event.Amount, symbol, gaugeHex)
		}
	}
	return decoder.Output{MatchedCounterparty: Counterparty}, nil
}

// decodeRewardClaim rewrites a CRV transfer out of a gauge into a staking
// reward.
func (d *Decoder) decodeRewardClaim(ctx *decoder.Context) (decoder.Output, error) {
	if ctx.Log.Address != d.crvToken || len(ctx.Log.Topics) < 3 {
		return decoder.DefaultOutput, nil
	}
	from := evm.TopicAddress(ctx.Log.Topics[1])
	if !d.isGauge(from) {
		return decoder.DefaultOutput, nil
	}

	fromHex := from.Hex()
	crvIdentifier := evm.AssetIdentifier(d.chain, d.crvToken)
	for _, event := range ctx.DecodedEvents {
		if event.EventType == events.TypeReceive &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == fromHex &&
			event.Asset == crvIdentifier {
			event.EventType = events.TypeStaking
			event.EventSubtype = events.SubtypeReward
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf("Claim %s %s rewards from %s curve gauge",
				event.Amount, balancerv2.SymbolOf(d.tokens, event.Asset), fromHex)
			return decoder.Output{MatchedCounterparty: Counterparty}, nil
		}
	}
	return decoder.DefaultOutput, nil
}

// orderGaugeEvents orders the wrapped-token legs of gauge deposits and
// withdrawals.
func (d *Decoder) orderGaugeEvents(_ *evm.Transaction, decodedEvents []*events.HistoryEvent, _ []evm.Log) []*events.HistoryEvent {
	balancerv2.OrderWrappedGroups(d.tokens, Counterparty, decodedEvents)
	return decodedEvents
}
