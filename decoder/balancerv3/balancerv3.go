package balancerv3

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/decoder/balancerv2"
	"github.com/folionet/foliod/events"
)

// Counterparty is the protocol tag attached to Balancer v3 events.
const Counterparty = "balancer-v3"

// VaultAddress is the Balancer v3 vault.
var VaultAddress = common.HexToAddress("0xbA1333333333a1BA1108E8412f11850A5C319bA9")

var (
	liquidityAddedTopic = common.BytesToHash(crypto.Keccak256(
		[]byte("LiquidityAdded(address,address,uint8,uint256,uint256[],uint256[])")))
	liquidityRemovedTopic = common.BytesToHash(crypto.Keccak256(
		[]byte("LiquidityRemoved(address,address,uint8,uint256,uint256[],uint256[])")))

	// totalSupply, amounts, swapFeeAmountsRaw
	liquidityDataArguments abi.Arguments
)

func init() {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint256ArrayType, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	liquidityDataArguments = abi.Arguments{
		{Type: uint256Type},
		{Type: uint256ArrayType},
		{Type: uint256ArrayType},
	}
}

// PoolTokensFn resolves a Balancer v3 pool to its underlying token contracts.
// Backed by the protocol subgraph metadata.
type PoolTokensFn func(pool common.Address) []common.Address

// Decoder decodes Balancer v3 vault liquidity events.
type Decoder struct {
	chain      chain.Chain
	poolTokens PoolTokensFn
	tokens     *decoder.TokenRegistry
}

// Register wires the decoder into the registry.
func Register(registry *decoder.Registry, c chain.Chain, poolTokens PoolTokensFn) {
	d := &Decoder{chain: c, poolTokens: poolTokens, tokens: registry.Tokens()}
	registry.RegisterAddressDecoder(VaultAddress, d.decodeLiquidityEvent)
	registry.RegisterPostRule(Counterparty, 0, d.orderLPEvents)
	registry.RegisterCounterparty(decoder.CounterpartyDetails{
		Identifier: Counterparty,
		Label:      "Balancer V3",
		Image:      "balancer.svg",
	})
}

// decodeLiquidityEvent decodes liquidity events (inflow & outflow) for
// Balancer v3 pools. The pool-token leg has already been decoded from its
// mint/burn transfer, so it is rewritten in place; the asset legs arrive as
// later transfer logs, so they are pre-declared as action items.
func (d *Decoder) decodeLiquidityEvent(ctx *decoder.Context) (decoder.Output, error) {
	topic := ctx.Log.Topic0()
	if topic != liquidityAddedTopic && topic != liquidityRemovedTopic {
		return decoder.DefaultOutput, nil
	}

	var (
		poolTokenEventType    events.EventType
		poolTokenEventSubtype events.EventSubtype
		poolTokenNotes        string
		fromEventType         events.EventType
		toEventType           events.EventType
		toEventSubtype        events.EventSubtype
		toNotes               string
	)
	if topic == liquidityAddedTopic {
		poolTokenEventType = events.TypeReceive
		poolTokenEventSubtype = events.SubtypeReceiveWrapped
		poolTokenNotes = "Receive %s %s from a Balancer v3 pool"
		fromEventType = events.TypeSpend
		toEventType = events.TypeDeposit
		toEventSubtype = events.SubtypeDepositForWrapped
		toNotes = "Deposit %s %s to a Balancer v3 pool"
	} else {
		poolTokenEventType = events.TypeSpend
		poolTokenEventSubtype = events.SubtypeReturnWrapped
		poolTokenNotes = "Return %s %s to a Balancer v3 pool"
		fromEventType = events.TypeReceive
		toEventType = events.TypeWithdrawal
		toEventSubtype = events.SubtypeRedeemWrapped
		toNotes = "Withdraw %s %s from a Balancer v3 pool"
	}

	lpTokenAddress := evm.TopicAddress(ctx.Log.Topics[1])
	lpTokenIdentifier := evm.AssetIdentifier(d.chain, lpTokenAddress)
	zeroAddress := evm.ZeroAddress.Hex()
	var poolTokenEvent *events.HistoryEvent
	for _, event := range ctx.DecodedEvents {
		if event.EventType == poolTokenEventType &&
			event.EventSubtype == events.SubtypeNone &&
			event.Address == zeroAddress &&
			event.Asset == lpTokenIdentifier {
			event.EventSubtype = poolTokenEventSubtype
			event.Counterparty = Counterparty
			event.Notes = fmt.Sprintf(poolTokenNotes,
				event.Amount, balancerv2.SymbolOf(d.tokens, event.Asset))
			poolTokenEvent = event
		}
	}
	if poolTokenEvent == nil {
		log.Errorf("Failed to find balancer v3 pool token event in transaction %s",
			ctx.Tx.TxHash.Hex())
		return decoder.DefaultOutput, nil
	}

	unpacked, err := liquidityDataArguments.Unpack(ctx.Log.Data)
	if err != nil {
		return decoder.DefaultOutput, err
	}
	amountsRaw, ok := unpacked[1].([]*big.Int)
	if !ok {
		return decoder.DefaultOutput, fmt.Errorf("unexpected liquidity amounts type %T", unpacked[1])
	}

	var actionItems []decoder.ActionItem
	for i, tokenAddress := range d.poolTokens(lpTokenAddress) {
		if i >= len(amountsRaw) || amountsRaw[i].Sign() == 0 {
			continue
		}
		token := d.tokens.GetOrCreate(tokenAddress)
		amount := evm.TokenAmount(amountsRaw[i], token.Decimals)
		actionItems = append(actionItems, decoder.ActionItem{
			FromEventType:    fromEventType,
			FromEventSubtype: events.SubtypeNone,
			Asset:            token.Identifier,
			Amount:           amount,
			ToEventType:      toEventType,
			ToEventSubtype:   toEventSubtype,
			ToNotes:          fmt.Sprintf(toNotes, amount, token.Symbol),
			ToCounterparty:   Counterparty,
		})
	}

	return decoder.Output{ActionItems: actionItems, MatchedCounterparty: Counterparty}, nil
}

// orderLPEvents orders liquidity provision events for proper display and
// accounting: deposits before the pool-token receipt, the pool-token return
// before withdrawals.
func (d *Decoder) orderLPEvents(_ *evm.Transaction, decodedEvents []*events.HistoryEvent, _ []evm.Log) []*events.HistoryEvent {
	balancerv2.OrderWrappedGroups(d.tokens, Counterparty, decodedEvents)
	return decodedEvents
}
