package normalizer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
	"github.com/folionet/foliod/events"
)

func init() {
	// Fee shares are pro-rata divisions that must survive exact-sum checks
	// over amounts with many significant digits.
	if decimal.DivisionPrecision < 80 {
		decimal.DivisionPrecision = 80
	}
}

// BitcoinNormalizer turns raw bitcoin-family transactions into history
// events.
type BitcoinNormalizer struct {
	chain chain.Chain

	// displayFn maps a canonical address to the form shown to the user.
	// These differ only for Bitcoin Cash.
	displayFn func(string) string
}

// NewBitcoinNormalizer creates a normalizer for one bitcoin-family chain.
// displayFn may be nil when canonical and display forms coincide.
func NewBitcoinNormalizer(c chain.Chain, displayFn func(string) string) *BitcoinNormalizer {
	if displayFn == nil {
		displayFn = func(address string) string { return address }
	}
	return &BitcoinNormalizer{chain: c, displayFn: displayFn}
}

// addressFlow accumulates the per-address value flow of one side of a tx in
// first-seen order.
type addressFlow struct {
	order  []string
	totals map[string]decimal.Decimal
}

func newAddressFlow() *addressFlow {
	return &addressFlow{totals: make(map[string]decimal.Decimal)}
}

func (f *addressFlow) add(address string, value decimal.Decimal) {
	if _, ok := f.totals[address]; !ok {
		f.order = append(f.order, address)
	}
	f.totals[address] = f.totals[address].Add(value)
}

func (f *addressFlow) subtract(address string, value decimal.Decimal) {
	f.totals[address] = f.totals[address].Sub(value)
}

// active returns the addresses with a positive remaining value, in first-seen
// order.
func (f *addressFlow) active() []string {
	var active []string
	for _, address := range f.order {
		if f.totals[address].IsPositive() {
			active = append(active, address)
		}
	}
	return active
}

// NormalizeTransaction emits the history events of one raw transaction for
// the given set of tracked addresses. Transactions without tracked
// participants, and unconfirmed transactions, produce no events.
func (n *BitcoinNormalizer) NormalizeTransaction(
	tx *bitcoin.Tx,
	isTracked func(address string) bool,
) ([]*events.HistoryEvent, error) {

	if !tx.Confirmed() {
		return nil, nil
	}

	tracked := false
	for _, txIOs := range [][]bitcoin.TxIO{tx.Inputs, tx.Outputs} {
		for _, txIO := range txIOs {
			if txIO.Address != "" && isTracked(txIO.Address) {
				tracked = true
			}
		}
	}
	if !tracked {
		return nil, nil
	}

	inputs := newAddressFlow()
	for _, txIO := range tx.Inputs {
		inputs.add(txIO.Address, txIO.Value)
	}
	outputs := newAddressFlow()
	var opReturnPayloads [][]byte
	for i := range tx.Outputs {
		txIO := &tx.Outputs[i]
		if txIO.ScriptClass() == bitcoin.ScriptOpReturn {
			payload, err := bitcoin.OpReturnPayload(txIO.Script)
			if err != nil {
				log.Warnf("Failed to extract op_return payload of tx %s: %s", tx.TxID, err)
				payload = txIO.Script
			}
			opReturnPayloads = append(opReturnPayloads, payload)
			continue
		}
		outputs.add(txIO.Address, txIO.Value)
	}

	// Self-flows cancel: an address on both sides nets out before any
	// event is emitted. An output larger than the same address's input
	// cancels the input entirely.
	for _, address := range inputs.order {
		if address == "" {
			continue
		}
		outputValue, ok := outputs.totals[address]
		if !ok {
			continue
		}
		cancelled := decimal.Min(inputs.totals[address], outputValue)
		inputs.subtract(address, cancelled)
		outputs.subtract(address, cancelled)
	}

	senders := inputs.active()
	receivers := outputs.active()

	// Fee shares are pro-rata to each sender's effective contribution.
	// Shares of untracked senders are still computed so tracked shares
	// aren't inflated; the division remainder lands on the last sender so
	// the shares sum to the fee exactly.
	feeShares := make(map[string]decimal.Decimal, len(senders))
	netContribution := make(map[string]decimal.Decimal, len(senders))
	totalIn := decimal.Zero
	for _, sender := range senders {
		totalIn = totalIn.Add(inputs.totals[sender])
	}
	if len(senders) > 0 {
		distributed := decimal.Zero
		for i, sender := range senders {
			var share decimal.Decimal
			if i == len(senders)-1 {
				share = tx.Fee.Sub(distributed)
			} else {
				share = tx.Fee.Mul(inputs.totals[sender]).Div(totalIn)
				distributed = distributed.Add(share)
			}
			feeShares[sender] = share
			netContribution[sender] = inputs.totals[sender].Sub(share)
		}
	}

	builder := &eventBuilder{
		identifier: n.chain.EventIdentifierPrefix() + tx.TxID,
		timestamp:  tx.Timestamp,
		location:   n.chain.Location(),
		asset:      n.chain.NativeAsset(),
	}

	for _, sender := range senders {
		if sender == "" || !isTracked(sender) || !feeShares[sender].IsPositive() {
			continue
		}
		builder.append(&events.HistoryEvent{
			EventType:     events.TypeSpend,
			EventSubtype:  events.SubtypeFee,
			Amount:        feeShares[sender],
			LocationLabel: n.displayFn(sender),
			Notes: fmt.Sprintf("Spend %s %s for fees",
				feeShares[sender], builder.asset),
		})
	}

	manyToMany := tx.MultiIO || (len(senders) > 1 && len(receivers) > 1)
	switch {
	case manyToMany:
		n.emitManyToMany(builder, isTracked, senders, receivers, outputs, netContribution)
	case len(senders) > 1 && len(receivers) == 1:
		n.emitManyToOne(builder, isTracked, senders, receivers[0], netContribution)
	default:
		n.emitOneToMany(builder, isTracked, senders, receivers, outputs)
	}

	for _, payload := range opReturnPayloads {
		builder.appendAt(opReturnPosition(builder), &events.HistoryEvent{
			EventType:    events.TypeInformational,
			EventSubtype: events.SubtypeNone,
			Amount:       decimal.Zero,
			Notes:        opReturnNotes(payload),
		})
	}

	return builder.finish(), nil
}

// emitOneToMany handles the zero- or single-sender case: one event per
// output, paired with the sender.
func (n *BitcoinNormalizer) emitOneToMany(
	builder *eventBuilder,
	isTracked func(string) bool,
	senders []string,
	receivers []string,
	outputs *addressFlow,
) {
	var sender string
	if len(senders) > 0 {
		sender = senders[0]
	}
	senderTracked := sender != "" && isTracked(sender)

	for _, receiver := range receivers {
		amount := outputs.totals[receiver]
		receiverTracked := receiver != "" && isTracked(receiver)
		switch {
		case senderTracked && receiverTracked:
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeTransfer,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(sender),
				Notes: fmt.Sprintf("Transfer %s %s to %s",
					amount, builder.asset, n.displayFn(receiver)),
			})
		case senderTracked:
			notes := fmt.Sprintf("Send %s %s", amount, builder.asset)
			if receiver != "" {
				notes = fmt.Sprintf("Send %s %s to %s", amount, builder.asset, n.displayFn(receiver))
			}
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeSpend,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(sender),
				Notes:         notes,
			})
		case receiverTracked:
			notes := fmt.Sprintf("Receive %s %s", amount, builder.asset)
			if sender != "" {
				notes = fmt.Sprintf("Receive %s %s from %s", amount, builder.asset, n.displayFn(sender))
			}
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeReceive,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(receiver),
				Notes:         notes,
			})
		}
	}
}

// emitManyToOne handles several senders paying one receiver: one event per
// sender with its pro-rata contribution net of the fee share.
func (n *BitcoinNormalizer) emitManyToOne(
	builder *eventBuilder,
	isTracked func(string) bool,
	senders []string,
	receiver string,
	netContribution map[string]decimal.Decimal,
) {
	receiverTracked := receiver != "" && isTracked(receiver)
	for _, sender := range senders {
		amount := netContribution[sender]
		senderTracked := sender != "" && isTracked(sender)
		switch {
		case senderTracked && receiverTracked:
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeTransfer,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(sender),
				Notes: fmt.Sprintf("Transfer %s %s to %s",
					amount, builder.asset, n.displayFn(receiver)),
			})
		case senderTracked:
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeSpend,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(sender),
				Notes: fmt.Sprintf("Send %s %s to %s",
					amount, builder.asset, n.displayFn(receiver)),
			})
		case receiverTracked && sender != "":
			builder.append(&events.HistoryEvent{
				EventType:     events.TypeReceive,
				EventSubtype:  events.SubtypeNone,
				Amount:        amount,
				LocationLabel: n.displayFn(receiver),
				Notes: fmt.Sprintf("Receive %s %s from %s",
					amount, builder.asset, n.displayFn(sender)),
			})
		}
	}
}

// emitManyToMany handles transactions where senders cannot be paired with
// outputs, including explorer responses with omitted TxIOs: per tracked
// sender one spend of its net contribution naming all external receivers, per
// tracked receiver one receive of the full output value naming all senders.
func (n *BitcoinNormalizer) emitManyToMany(
	builder *eventBuilder,
	isTracked func(string) bool,
	senders []string,
	receivers []string,
	outputs *addressFlow,
	netContribution map[string]decimal.Decimal,
) {
	receiverList := n.displayList(receivers)
	senderList := n.displayList(senders)

	for _, sender := range senders {
		if sender == "" || !isTracked(sender) {
			continue
		}
		notes := fmt.Sprintf("Send %s %s", netContribution[sender], builder.asset)
		if receiverList != "" {
			notes += " to " + receiverList
		}
		builder.append(&events.HistoryEvent{
			EventType:     events.TypeSpend,
			EventSubtype:  events.SubtypeNone,
			Amount:        netContribution[sender],
			LocationLabel: n.displayFn(sender),
			Notes:         notes,
		})
	}
	for _, receiver := range receivers {
		if receiver == "" || !isTracked(receiver) {
			continue
		}
		notes := fmt.Sprintf("Receive %s %s", outputs.totals[receiver], builder.asset)
		if senderList != "" {
			notes += " from " + senderList
		}
		builder.append(&events.HistoryEvent{
			EventType:     events.TypeReceive,
			EventSubtype:  events.SubtypeNone,
			Amount:        outputs.totals[receiver],
			LocationLabel: n.displayFn(receiver),
			Notes:         notes,
		})
	}
}

func (n *BitcoinNormalizer) displayList(addresses []string) string {
	var named []string
	for _, address := range addresses {
		if address != "" {
			named = append(named, n.displayFn(address))
		}
	}
	return strings.Join(named, ", ")
}

func opReturnNotes(payload []byte) string {
	if bitcoin.IsPrintableText(payload) {
		return fmt.Sprintf("Store text on the blockchain: %s", payload)
	}
	return fmt.Sprintf("Store data on the blockchain: %s", hex.EncodeToString(payload))
}

// opReturnPosition places an informational event right after the fee events,
// mirroring where the data output sits in the originating transactions.
func opReturnPosition(builder *eventBuilder) int {
	position := 0
	for _, event := range builder.events {
		if event.EventSubtype == events.SubtypeFee {
			position++
			continue
		}
		break
	}
	return position
}

// eventBuilder accumulates the events of one transaction and assigns the
// shared identification fields plus dense sequence indexes at the end.
type eventBuilder struct {
	identifier string
	timestamp  chain.TimestampMS
	location   string
	asset      string
	events     []*events.HistoryEvent
}

func (b *eventBuilder) append(event *events.HistoryEvent) {
	b.events = append(b.events, event)
}

func (b *eventBuilder) appendAt(position int, event *events.HistoryEvent) {
	if position >= len(b.events) {
		b.events = append(b.events, event)
		return
	}
	b.events = append(b.events[:position+1], b.events[position:]...)
	b.events[position] = event
}

func (b *eventBuilder) finish() []*events.HistoryEvent {
	for i, event := range b.events {
		event.EventIdentifier = b.identifier
		event.SequenceIndex = uint64(i)
		event.Timestamp = b.timestamp
		event.Location = b.location
		if event.Asset == "" {
			event.Asset = b.asset
		}
	}
	return b.events
}
