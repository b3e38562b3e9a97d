package notifications

import (
	"encoding/json"
	"testing"
)

func TestTransactionStatusMessageShape(t *testing.T) {
	message := NewTransactionStatus(
		[]string{"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"},
		"BTC", "bitcoin", StatusQueryingTransactionsStarted)

	encoded, err := json.Marshal(message)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	expected := `{"type":"transaction_status","data":{` +
		`"addresses":["bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"],` +
		`"chain":"BTC","subtype":"bitcoin","status":"querying_transactions_started"}}`
	if string(encoded) != expected {
		t.Errorf("Unexpected frame:\ngot      %s\nexpected %s", encoded, expected)
	}
}

func TestAggregatorSuppressesConsecutiveDuplicates(t *testing.T) {
	hub := NewHub()
	subscriber := &client{send: make(chan Message, clientQueueSize)}
	hub.clients[subscriber] = struct{}{}
	aggregator := NewAggregator(hub)
	aggregator.Warning("provider x failed")
	aggregator.Warning("provider x failed")
	aggregator.Error("provider y failed")
	aggregator.Warning("provider x failed")

	expected := []UserMessageData{
		{Verbosity: VerbosityWarning, Message: "provider x failed"},
		{Verbosity: VerbosityError, Message: "provider y failed"},
		{Verbosity: VerbosityWarning, Message: "provider x failed"},
	}
	if len(subscriber.send) != len(expected) {
		t.Fatalf("Got %d broadcast messages, expected %d", len(subscriber.send), len(expected))
	}
	for i, want := range expected {
		got := <-subscriber.send
		if got.Type != "message" || got.Data != want {
			t.Errorf("Message %d: got %+v, expected %+v", i, got, want)
		}
	}
}
