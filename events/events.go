package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
)

// EventType is the coarse classification of a history event.
type EventType string

// All recognized event types.
const (
	TypeSpend         EventType = "spend"
	TypeReceive       EventType = "receive"
	TypeTransfer      EventType = "transfer"
	TypeDeposit       EventType = "deposit"
	TypeWithdrawal    EventType = "withdrawal"
	TypeTrade         EventType = "trade"
	TypeStaking       EventType = "staking"
	TypeInformational EventType = "informational"
)

// EventSubtype refines the event type.
type EventSubtype string

// All recognized event subtypes.
const (
	SubtypeNone              EventSubtype = "none"
	SubtypeFee               EventSubtype = "fee"
	SubtypeDepositAsset      EventSubtype = "deposit asset"
	SubtypeRemoveAsset       EventSubtype = "remove asset"
	SubtypeDepositForWrapped EventSubtype = "deposit for wrapped"
	SubtypeRedeemWrapped     EventSubtype = "redeem wrapped"
	SubtypeReceiveWrapped    EventSubtype = "receive wrapped"
	SubtypeReturnWrapped     EventSubtype = "return wrapped"
	SubtypePaybackDebt       EventSubtype = "payback debt"
	SubtypeGenerateDebt      EventSubtype = "generate debt"
	SubtypeReward            EventSubtype = "reward"
	SubtypeRefund            EventSubtype = "refund"
	SubtypeBurn              EventSubtype = "burn"
	SubtypeGovernance        EventSubtype = "governance"
	SubtypeSpend             EventSubtype = "spend"
	SubtypeReceive           EventSubtype = "receive"
)

var validTypes = map[EventType]struct{}{
	TypeSpend: {}, TypeReceive: {}, TypeTransfer: {}, TypeDeposit: {},
	TypeWithdrawal: {}, TypeTrade: {}, TypeStaking: {}, TypeInformational: {},
}

// TypeFromString parses an event type as it appears in API filters.
func TypeFromString(s string) (EventType, error) {
	if _, ok := validTypes[EventType(s)]; !ok {
		return "", errors.Errorf("unknown event type %q", s)
	}
	return EventType(s), nil
}

// HistoryEvent is the normalized, chain-agnostic record of a ledger-affecting
// action. Events sharing an EventIdentifier belong to one logical operation
// and are totally ordered by SequenceIndex.
type HistoryEvent struct {
	EventIdentifier string
	SequenceIndex   uint64
	Timestamp       chain.TimestampMS
	Location        string
	EventType       EventType
	EventSubtype    EventSubtype
	Asset           string
	Amount          decimal.Decimal
	LocationLabel   string
	Notes           string
	Counterparty    string
	Address         string
	ExtraData       map[string]interface{}
}

// Equal reports whether two events are identical in every field. Amounts are
// compared by value, not by internal representation.
func (e *HistoryEvent) Equal(other *HistoryEvent) bool {
	if e.EventIdentifier != other.EventIdentifier ||
		e.SequenceIndex != other.SequenceIndex ||
		e.Timestamp != other.Timestamp ||
		e.Location != other.Location ||
		e.EventType != other.EventType ||
		e.EventSubtype != other.EventSubtype ||
		e.Asset != other.Asset ||
		!e.Amount.Equal(other.Amount) ||
		e.LocationLabel != other.LocationLabel ||
		e.Notes != other.Notes ||
		e.Counterparty != other.Counterparty ||
		e.Address != other.Address {
		return false
	}
	a, _ := json.Marshal(e.ExtraData)
	b, _ := json.Marshal(other.ExtraData)
	return string(a) == string(b)
}

// SerializeExtraData renders the extra data map for storage. Returns an empty
// string when there is none.
func (e *HistoryEvent) SerializeExtraData() (string, error) {
	if len(e.ExtraData) == 0 {
		return "", nil
	}
	data, err := json.Marshal(e.ExtraData)
	if err != nil {
		return "", errors.Wrap(err, "serializing event extra data")
	}
	return string(data), nil
}

// DeserializeExtraData parses the stored extra data representation.
func DeserializeExtraData(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.Wrap(err, "deserializing event extra data")
	}
	return out, nil
}

// Filter restricts event queries. Zero values mean "no restriction".
type Filter struct {
	FromTimestamp   chain.TimestampMS
	ToTimestamp     chain.TimestampMS
	Location        string
	LocationLabel   string
	EventTypes      []EventType
	EventIdentifier string
	IncludeIgnored  bool
	Limit           int
	Offset          int
}
