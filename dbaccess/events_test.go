package dbaccess

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/events"
)

func TestEventModelRoundtrip(t *testing.T) {
	amount, err := decimal.NewFromString(
		"0.000439532918617111274039817269189555016637527494219164175737409057582764649483955")
	if err != nil {
		t.Fatalf("Failed to parse amount: %s", err)
	}
	original := &events.HistoryEvent{
		EventIdentifier: "btc_4a367acdeeaaf4bca2d9ae81d4cf4c42ac0f8131f52dc53222ff17189e2099b1",
		SequenceIndex:   2,
		Timestamp:       1749114440000,
		Location:        "bitcoin",
		EventType:       events.TypeSpend,
		EventSubtype:    events.SubtypeFee,
		Asset:           "BTC",
		Amount:          amount,
		LocationLabel:   "bc1qyy30guv6m5ez7ntj0ayr08u23w3k5s8vg3elmxdzlh8a3xskupyqn2lp5w",
		Notes:           "Spend some BTC for fees",
		Counterparty:    "",
		ExtraData:       map[string]interface{}{"deposit_events_num": float64(2)},
	}

	model, err := eventToModel(original)
	if err != nil {
		t.Fatalf("eventToModel: %s", err)
	}
	restored, err := modelToEvent(model)
	if err != nil {
		t.Fatalf("modelToEvent: %s", err)
	}
	if !restored.Equal(original) {
		t.Fatalf("Roundtrip changed the event:\noriginal %+v\nrestored %+v", original, restored)
	}
	// The full-precision amount must survive the string column.
	if restored.Amount.String() != original.Amount.String() {
		t.Errorf("Amount precision lost: %s != %s", restored.Amount, original.Amount)
	}
}
