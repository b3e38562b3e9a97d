package decoder

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/folionet/foliod/events"
)

func TestMaybeReshuffleEvents(t *testing.T) {
	eventA := &events.HistoryEvent{SequenceIndex: 1}
	eventB := &events.HistoryEvent{SequenceIndex: 2}
	eventC := &events.HistoryEvent{SequenceIndex: 3}
	all := []*events.HistoryEvent{eventA, eventB, eventC}

	// Reorder C before B: both land above the untouched maximum (1).
	MaybeReshuffleEvents([]*events.HistoryEvent{eventC, eventB}, all)
	require.Equal(t, uint64(1), eventA.SequenceIndex)
	require.Equal(t, uint64(2), eventC.SequenceIndex)
	require.Equal(t, uint64(3), eventB.SequenceIndex)
}

func TestMaybeReshuffleEventsSingleIsNoop(t *testing.T) {
	eventA := &events.HistoryEvent{SequenceIndex: 5}
	MaybeReshuffleEvents([]*events.HistoryEvent{eventA, nil}, []*events.HistoryEvent{eventA})
	require.Equal(t, uint64(5), eventA.SequenceIndex)
}

func TestActionItemMatchAndApply(t *testing.T) {
	item := ActionItem{
		FromEventType:    events.TypeSpend,
		FromEventSubtype: events.SubtypeNone,
		Asset:            "eip155:1/erc20:0x6B175474E89094C44Da98b954EedeAC495271d0F",
		Amount:           decimal.NewFromInt(5),
		ToEventType:      events.TypeDeposit,
		ToEventSubtype:   events.SubtypeDepositForWrapped,
		ToNotes:          "Deposit 5 DAI to a pool",
		ToCounterparty:   "balancer-v3",
	}

	mismatched := &events.HistoryEvent{
		EventType:    events.TypeSpend,
		EventSubtype: events.SubtypeNone,
		Asset:        item.Asset,
		Amount:       decimal.NewFromInt(6),
	}
	require.False(t, item.Matches(mismatched))

	matched := &events.HistoryEvent{
		EventType:    events.TypeSpend,
		EventSubtype: events.SubtypeNone,
		Asset:        item.Asset,
		Amount:       decimal.NewFromInt(5),
		Notes:        "Send 5 DAI to 0xBA12...",
	}
	require.True(t, item.Matches(matched))

	item.Apply(matched)
	require.Equal(t, events.TypeDeposit, matched.EventType)
	require.Equal(t, events.SubtypeDepositForWrapped, matched.EventSubtype)
	require.Equal(t, "Deposit 5 DAI to a pool", matched.Notes)
	require.Equal(t, "balancer-v3", matched.Counterparty)
}
