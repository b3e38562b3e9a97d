package decoder

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/events"
)

// Context is what a decoder function sees: the transaction, the log being
// decoded, the events decoded so far (mutable), all receipt logs, and lookups
// for tracked addresses and token metadata.
type Context struct {
	Tx            *evm.Transaction
	Log           *evm.Log
	DecodedEvents []*events.HistoryEvent
	AllLogs       []evm.Log
	IsTracked     func(common.Address) bool
	Tokens        *TokenRegistry
}

// ActionItem is a deferred instruction produced by a decoder: when a later
// preliminary event matches (type, subtype, asset, amount), rewrite it as
// described.
type ActionItem struct {
	FromEventType    events.EventType
	FromEventSubtype events.EventSubtype
	Asset            string
	Amount           decimal.Decimal

	ToEventType    events.EventType
	ToEventSubtype events.EventSubtype
	ToNotes        string
	ToCounterparty string
	ToExtraData    map[string]interface{}
}

// Matches reports whether a preliminary event is the one this action item was
// scheduled for.
func (item *ActionItem) Matches(event *events.HistoryEvent) bool {
	return event.EventType == item.FromEventType &&
		event.EventSubtype == item.FromEventSubtype &&
		event.Asset == item.Asset &&
		event.Amount.Equal(item.Amount)
}

// Apply rewrites the matched event in place.
func (item *ActionItem) Apply(event *events.HistoryEvent) {
	event.EventType = item.ToEventType
	event.EventSubtype = item.ToEventSubtype
	if item.ToNotes != "" {
		event.Notes = item.ToNotes
	}
	if item.ToCounterparty != "" {
		event.Counterparty = item.ToCounterparty
	}
	if item.ToExtraData != nil {
		event.ExtraData = item.ToExtraData
	}
}

// Output is what a decoder function returns.
type Output struct {
	NewEvents           []*events.HistoryEvent
	ActionItems         []ActionItem
	MatchedCounterparty string
}

// DefaultOutput is the empty decoding output.
var DefaultOutput = Output{}

// Fn is a decoder function. It may mutate the events decoded so far through
// the context.
type Fn func(ctx *Context) (Output, error)

// PostRuleFn runs once per transaction after all log-level decoders, for a
// counterparty one of them matched.
type PostRuleFn func(tx *evm.Transaction, decodedEvents []*events.HistoryEvent, allLogs []evm.Log) []*events.HistoryEvent

// CounterpartyDetails describes a protocol tag for display purposes.
type CounterpartyDetails struct {
	Identifier string
	Label      string
	Image      string
}

// MaybeReshuffleEvents updates the sequence indexes of orderedEvents to be in
// ascending order above every untouched event of the list, preserving the
// given order. Nil entries are skipped. The final dense resequencing happens
// later in the decoding process.
func MaybeReshuffleEvents(orderedEvents []*events.HistoryEvent, eventsList []*events.HistoryEvent) {
	actual := make([]*events.HistoryEvent, 0, len(orderedEvents))
	for _, event := range orderedEvents {
		if event != nil {
			actual = append(actual, event)
		}
	}
	if len(actual) <= 1 {
		return // nothing to do
	}

	inActual := func(event *events.HistoryEvent) bool {
		for _, candidate := range actual {
			if candidate == event {
				return true
			}
		}
		return false
	}

	maxSequenceIndex := -1
	for _, event := range eventsList {
		if !inActual(event) && int(event.SequenceIndex) > maxSequenceIndex {
			maxSequenceIndex = int(event.SequenceIndex)
		}
	}
	for idx, event := range actual {
		event.SequenceIndex = uint64(maxSequenceIndex + idx + 1)
	}
}
