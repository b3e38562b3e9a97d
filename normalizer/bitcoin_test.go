package normalizer

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/shopspring/decimal"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/bitcoin"
	"github.com/folionet/foliod/events"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("Failed to parse decimal %q: %s", value, err)
	}
	return parsed
}

func trackedSet(addresses ...string) func(string) bool {
	set := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		set[address] = struct{}{}
	}
	return func(address string) bool {
		_, ok := set[address]
		return ok
	}
}

func checkEvents(t *testing.T, got, expected []*events.HistoryEvent) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("Got %d events, expected %d.\nGot: %s\nExpected: %s",
			len(got), len(expected), spew.Sdump(got), spew.Sdump(expected))
	}
	for i := range expected {
		if !got[i].Equal(expected[i]) {
			t.Fatalf("Event %d mismatch.\nGot: %s\nExpected: %s",
				i, spew.Sdump(got[i]), spew.Sdump(expected[i]))
		}
	}
}

func TestOneInputOneOutput(t *testing.T) {
	const (
		txID     = "e47f43692083b6b4bb3d4d6150acd3c016b09fb841e4055e1f5bb8ad44858bc6"
		address1 = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
		address2 = "1G3MiaKdccQmiTr4gYSKmrCVDaLQ5nvBRp"
	)
	tx := &bitcoin.Tx{
		TxID:        txID,
		Timestamp:   1686238076000,
		BlockHeight: 793320,
		Fee:         dec(t, "0.00002492"),
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.00003929"), Address: address1, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "0.00001437"), Address: address2, Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	identifier := "btc_" + txID

	feeEvent := &events.HistoryEvent{
		EventIdentifier: identifier,
		SequenceIndex:   0,
		Timestamp:       1686238076000,
		Location:        "bitcoin",
		EventType:       events.TypeSpend,
		EventSubtype:    events.SubtypeFee,
		Asset:           "BTC",
		Amount:          dec(t, "0.00002492"),
		LocationLabel:   address1,
		Notes:           "Spend 0.00002492 BTC for fees",
	}

	t.Run("only input tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address1))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{feeEvent, {
			EventIdentifier: identifier,
			SequenceIndex:   1,
			Timestamp:       1686238076000,
			Location:        "bitcoin",
			EventType:       events.TypeSpend,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          dec(t, "0.00001437"),
			LocationLabel:   address1,
			Notes:           "Send 0.00001437 BTC to " + address2,
		}})
	})

	t.Run("only output tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address2))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{{
			EventIdentifier: identifier,
			SequenceIndex:   0,
			Timestamp:       1686238076000,
			Location:        "bitcoin",
			EventType:       events.TypeReceive,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          dec(t, "0.00001437"),
			LocationLabel:   address2,
			Notes:           "Receive 0.00001437 BTC from " + address1,
		}})
	})

	t.Run("both tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address1, address2))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{feeEvent, {
			EventIdentifier: identifier,
			SequenceIndex:   1,
			Timestamp:       1686238076000,
			Location:        "bitcoin",
			EventType:       events.TypeTransfer,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          dec(t, "0.00001437"),
			LocationLabel:   address1,
			Notes:           "Transfer 0.00001437 BTC to " + address2,
		}})
	})
}

// TestTwoInputsOneOutput exercises both the self-transfer cancellation (one
// output returns change to an input address) and the exact pro-rata fee and
// amount split over several senders.
func TestTwoInputsOneOutput(t *testing.T) {
	const (
		txID     = "4a367acdeeaaf4bca2d9ae81d4cf4c42ac0f8131f52dc53222ff17189e2099b1"
		address1 = "bc1qyy30guv6m5ez7ntj0ayr08u23w3k5s8vg3elmxdzlh8a3xskupyqn2lp5w"
		address2 = "3G2W5fwfsXfgVJrBc9gxTYfHi6C9zUdtVd"
		address3 = "bc1qwqdg6squsna38e46795at95yu9atm8azzmyvckulcc7kytlcckxswvvzej"
	)
	fee := dec(t, "0.00048")
	tx := &bitcoin.Tx{
		TxID:        txID,
		Timestamp:   1749114440000,
		BlockHeight: 899910,
		Fee:         fee,
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.5"), Address: address1, Direction: bitcoin.DirectionInput},
			{Value: dec(t, "0.5"), Address: address1, Direction: bitcoin.DirectionInput},
			{Value: dec(t, "0.34889303"), Address: address1, Direction: bitcoin.DirectionInput},
			{Value: dec(t, "0.11958697"), Address: address2, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "1.418"), Address: address3, Direction: bitcoin.DirectionOutput},
			// change back to address1, cancelling part of its input
			{Value: dec(t, "0.05"), Address: address1, Direction: bitcoin.DirectionOutput},
		},
	}

	// Effective contributions after the self-flow cancels.
	effective1 := dec(t, "1.29889303")
	effective2 := dec(t, "0.11958697")
	totalIn := effective1.Add(effective2)
	feeShare1 := fee.Mul(effective1).Div(totalIn)
	feeShare2 := fee.Sub(feeShare1)
	transfer1 := effective1.Sub(feeShare1)
	transfer2 := effective2.Sub(feeShare2)

	// The shares must reassemble the original values without rounding
	// loss.
	if !feeShare1.Add(feeShare2).Equal(fee) {
		t.Fatalf("Fee shares don't sum to the fee: %s + %s != %s", feeShare1, feeShare2, fee)
	}
	if !transfer1.Add(transfer2).Equal(dec(t, "1.418")) {
		t.Fatalf("Transfer amounts don't sum to the output: %s + %s", transfer1, transfer2)
	}

	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	identifier := "btc_" + txID

	t.Run("all tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address1, address2, address3))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{{
			EventIdentifier: identifier,
			SequenceIndex:   0,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeSpend,
			EventSubtype:    events.SubtypeFee,
			Asset:           "BTC",
			Amount:          feeShare1,
			LocationLabel:   address1,
			Notes:           "Spend " + feeShare1.String() + " BTC for fees",
		}, {
			EventIdentifier: identifier,
			SequenceIndex:   1,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeSpend,
			EventSubtype:    events.SubtypeFee,
			Asset:           "BTC",
			Amount:          feeShare2,
			LocationLabel:   address2,
			Notes:           "Spend " + feeShare2.String() + " BTC for fees",
		}, {
			EventIdentifier: identifier,
			SequenceIndex:   2,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeTransfer,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          transfer1,
			LocationLabel:   address1,
			Notes:           "Transfer " + transfer1.String() + " BTC to " + address3,
		}, {
			EventIdentifier: identifier,
			SequenceIndex:   3,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeTransfer,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          transfer2,
			LocationLabel:   address2,
			Notes:           "Transfer " + transfer2.String() + " BTC to " + address3,
		}})
	})

	t.Run("only output tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address3))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{{
			EventIdentifier: identifier,
			SequenceIndex:   0,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeReceive,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          transfer1,
			LocationLabel:   address3,
			Notes:           "Receive " + transfer1.String() + " BTC from " + address1,
		}, {
			EventIdentifier: identifier,
			SequenceIndex:   1,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeReceive,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          transfer2,
			LocationLabel:   address3,
			Notes:           "Receive " + transfer2.String() + " BTC from " + address2,
		}})
	})

	t.Run("one sender tracked", func(t *testing.T) {
		got, err := normalizer.NormalizeTransaction(tx, trackedSet(address2))
		if err != nil {
			t.Fatalf("NormalizeTransaction: %s", err)
		}
		checkEvents(t, got, []*events.HistoryEvent{{
			EventIdentifier: identifier,
			SequenceIndex:   0,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeSpend,
			EventSubtype:    events.SubtypeFee,
			Asset:           "BTC",
			Amount:          feeShare2,
			LocationLabel:   address2,
			Notes:           "Spend " + feeShare2.String() + " BTC for fees",
		}, {
			EventIdentifier: identifier,
			SequenceIndex:   1,
			Timestamp:       1749114440000,
			Location:        "bitcoin",
			EventType:       events.TypeSpend,
			EventSubtype:    events.SubtypeNone,
			Asset:           "BTC",
			Amount:          transfer2,
			LocationLabel:   address2,
			Notes:           "Send " + transfer2.String() + " BTC to " + address3,
		}})
	})
}

func TestOpReturn(t *testing.T) {
	const (
		txID     = "eb4d2def800c4993928a6f8cc3dd350933a1fb71e6706902025f29a061e5547f"
		address1 = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
		address2 = "bc1qjl5yclpqvqclq4elhl5g2f0fhwytesmk9nqzd0"
	)
	payload := []byte("#FreeSamourai")
	opReturnScript := append([]byte{0x6a, byte(len(payload))}, payload...)
	tx := &bitcoin.Tx{
		TxID:        txID,
		Timestamp:   1729677861000,
		BlockHeight: 866964,
		Fee:         dec(t, "0.00001000"),
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.00007"), Address: address1, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: decimal.Zero, Script: opReturnScript, Direction: bitcoin.DirectionOutput},
			{Value: dec(t, "0.00006"), Address: address2, Direction: bitcoin.DirectionOutput},
		},
	}

	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet(address1))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	identifier := "btc_" + txID
	checkEvents(t, got, []*events.HistoryEvent{{
		EventIdentifier: identifier,
		SequenceIndex:   0,
		Timestamp:       1729677861000,
		Location:        "bitcoin",
		EventType:       events.TypeSpend,
		EventSubtype:    events.SubtypeFee,
		Asset:           "BTC",
		Amount:          dec(t, "0.00001000"),
		LocationLabel:   address1,
		Notes:           "Spend 0.00001 BTC for fees",
	}, {
		EventIdentifier: identifier,
		SequenceIndex:   1,
		Timestamp:       1729677861000,
		Location:        "bitcoin",
		EventType:       events.TypeInformational,
		EventSubtype:    events.SubtypeNone,
		Asset:           "BTC",
		Amount:          decimal.Zero,
		Notes:           "Store text on the blockchain: #FreeSamourai",
	}, {
		EventIdentifier: identifier,
		SequenceIndex:   2,
		Timestamp:       1729677861000,
		Location:        "bitcoin",
		EventType:       events.TypeSpend,
		EventSubtype:    events.SubtypeNone,
		Asset:           "BTC",
		Amount:          dec(t, "0.00006"),
		LocationLabel:   address1,
		Notes:           "Send 0.00006 BTC to " + address2,
	}})
}

func TestOpReturnBinaryPayload(t *testing.T) {
	payload := []byte{0xa0, 0xa1, 0xa2}
	script := append([]byte{0x6a, byte(len(payload))}, payload...)
	tx := &bitcoin.Tx{
		TxID:        "42c4fabe072e70eae555cb41e34291ee5c9ff205c3e5704e230339abc912b339",
		Timestamp:   1749216296000,
		BlockHeight: 900071,
		Fee:         decimal.Zero,
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.0001"), Address: "17rQ1edty4CxuLHCgtvQ9kxwwpwhGrg4d9", Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: decimal.Zero, Script: script, Direction: bitcoin.DirectionOutput},
			{Value: dec(t, "0.0001"), Address: "other", Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet("17rQ1edty4CxuLHCgtvQ9kxwwpwhGrg4d9"))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	if len(got) != 2 {
		t.Fatalf("Got %d events, expected 2: %s", len(got), spew.Sdump(got))
	}
	if got[0].Notes != "Store data on the blockchain: a0a1a2" {
		t.Errorf("Unexpected op_return notes: %q", got[0].Notes)
	}
}

// TestP2PK checks that a transaction without fee produces no fee event and
// that P2PK outputs (whose address was derived from the script at fetch
// time) decode like any other spend.
func TestP2PK(t *testing.T) {
	const (
		txID     = "1db6251a9afce7025a2061a19e63c700dffc3bec368bd1883decfac353357a9d"
		address1 = "1PJJygLB42VsaTgo2twFPgRT8CNz1bpGNE"
		address2 = "15WvMGm9qG1wDb54TMcvgzZsfvz9KdxzoN"
	)
	tx := &bitcoin.Tx{
		TxID:        txID,
		Timestamp:   1313042188000,
		BlockHeight: 140329,
		Fee:         decimal.Zero,
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "50.00000000"), Address: address1, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "50.00000000"), Address: address2, Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet(address1))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	checkEvents(t, got, []*events.HistoryEvent{{
		EventIdentifier: "btc_" + txID,
		SequenceIndex:   0,
		Timestamp:       1313042188000,
		Location:        "bitcoin",
		EventType:       events.TypeSpend,
		EventSubtype:    events.SubtypeNone,
		Asset:           "BTC",
		Amount:          dec(t, "50.00000000"),
		LocationLabel:   address1,
		Notes:           "Send 50 BTC to " + address2,
	}})
}

func TestManyToMany(t *testing.T) {
	const (
		sender1   = "bc1qpeuhg6gcs4gdze7cmp3tmu9yjzkp7edtt6f4k4"
		sender2   = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
		receiver1 = "bc1qxdw4t0uvnztl6jxuxvvpnsmx9fg4w7qxv5tgm4"
		receiver2 = "1HZwkjkeaoZfTSaJxDw6aKkxp45agDiEzN"
	)
	fee := dec(t, "0.0001")
	tx := &bitcoin.Tx{
		TxID:        "cccd3a9ce6c59fd0b5ae4244cb9b239387efa31c96e0d45c0c0b82c0d7ee3bd8",
		Timestamp:   1711929790000,
		BlockHeight: 837615,
		Fee:         fee,
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.003"), Address: sender1, Direction: bitcoin.DirectionInput},
			{Value: dec(t, "0.001"), Address: sender2, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "0.0015"), Address: receiver1, Direction: bitcoin.DirectionOutput},
			{Value: dec(t, "0.0024"), Address: receiver2, Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(
		tx, trackedSet(sender1, sender2, receiver1, receiver2))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}

	// fees for both senders, one spend per sender, one receive per
	// receiver
	if len(got) != 6 {
		t.Fatalf("Got %d events, expected 6: %s", len(got), spew.Sdump(got))
	}
	feeSum := got[0].Amount.Add(got[1].Amount)
	if !feeSum.Equal(fee) {
		t.Errorf("Fee shares sum to %s, expected %s", feeSum, fee)
	}
	spendSum := got[2].Amount.Add(got[3].Amount)
	receiveSum := got[4].Amount.Add(got[5].Amount)
	if !spendSum.Equal(dec(t, "0.0039")) || !receiveSum.Equal(dec(t, "0.0039")) {
		t.Errorf("Spend/receive sums don't conserve value: spends %s, receives %s", spendSum, receiveSum)
	}
	for i, event := range got[2:4] {
		if event.EventType != events.TypeSpend {
			t.Errorf("Event %d: expected a spend, got %s", i+2, event.EventType)
		}
	}
	for i, event := range got[4:6] {
		if event.EventType != events.TypeReceive {
			t.Errorf("Event %d: expected a receive, got %s", i+4, event.EventType)
		}
	}
	expectedNotes := "Receive 0.0015 BTC from " + sender1 + ", " + sender2
	if got[4].Notes != expectedNotes {
		t.Errorf("Unexpected receive notes: %q, expected %q", got[4].Notes, expectedNotes)
	}
}

func TestUnconfirmedTxSkipped(t *testing.T) {
	tx := &bitcoin.Tx{
		TxID:      "f6bcea42da69ec935e13c29241f15a72e055219549403ffe1aef251a306581e6",
		Timestamp: 1754493540000,
		Fee:       dec(t, "0.00000423"),
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.001"), Address: "addr", Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "0.0009"), Address: "other", Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet("addr"))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no events for an unconfirmed tx, got %s", spew.Sdump(got))
	}
}

func TestNoTrackedParticipants(t *testing.T) {
	tx := &bitcoin.Tx{
		TxID:        "e47f43692083b6b4bb3d4d6150acd3c016b09fb841e4055e1f5bb8ad44858bc6",
		Timestamp:   1686238076000,
		BlockHeight: 793320,
		Fee:         dec(t, "0.00002492"),
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.001"), Address: "nobody", Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "0.0009"), Address: "anybody", Direction: bitcoin.DirectionOutput},
		},
	}
	normalizer := NewBitcoinNormalizer(chain.Bitcoin, nil)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet("somethingelse"))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("Expected no events without tracked participants, got %s", spew.Sdump(got))
	}
}

// TestDisplayForm checks that bitcoin cash events echo the address form the
// user entered while decoding runs on the canonical form.
func TestDisplayForm(t *testing.T) {
	const (
		canonical = "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
		display   = "qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
	)
	tx := &bitcoin.Tx{
		TxID:        "2033435de7ce307341231e818ed937cd3a5e8597381fd83a7e5b0234f61b38d3",
		Timestamp:   1749216962000,
		BlockHeight: 850000,
		Fee:         dec(t, "0.00001"),
		Inputs: []bitcoin.TxIO{
			{Value: dec(t, "0.5"), Address: canonical, Direction: bitcoin.DirectionInput},
		},
		Outputs: []bitcoin.TxIO{
			{Value: dec(t, "0.49999"), Address: "bitcoincash:other", Direction: bitcoin.DirectionOutput},
		},
	}
	displayFn := func(address string) string {
		if address == canonical {
			return display
		}
		return address
	}
	normalizer := NewBitcoinNormalizer(chain.BitcoinCash, displayFn)
	got, err := normalizer.NormalizeTransaction(tx, trackedSet(canonical))
	if err != nil {
		t.Fatalf("NormalizeTransaction: %s", err)
	}
	if len(got) != 2 {
		t.Fatalf("Got %d events, expected 2: %s", len(got), spew.Sdump(got))
	}
	if got[0].LocationLabel != display || got[1].LocationLabel != display {
		t.Errorf("Events don't carry the display form: %q, %q",
			got[0].LocationLabel, got[1].LocationLabel)
	}
	if got[0].Location != "bitcoin cash" || got[0].Asset != "BCH" {
		t.Errorf("Unexpected location/asset: %q/%q", got[0].Location, got[0].Asset)
	}
}
