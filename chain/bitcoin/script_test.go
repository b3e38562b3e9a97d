package bitcoin

import (
	"encoding/hex"
	"testing"
)

// The genesis block coinbase pubkey, the best-known P2PK output in existence.
const genesisPubkeyHex = "04678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb6" +
	"49f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5f"

func genesisP2PKScript(t *testing.T) []byte {
	t.Helper()
	pubkey, err := hex.DecodeString(genesisPubkeyHex)
	if err != nil {
		t.Fatalf("Failed to decode pubkey hex: %s", err)
	}
	script := append([]byte{byte(len(pubkey))}, pubkey...)
	return append(script, 0xac)
}

func TestClassifyScript(t *testing.T) {
	tests := []struct {
		name     string
		script   []byte
		expected ScriptType
	}{
		{"empty", nil, ScriptOther},
		{"op_return", []byte{0x6a, 0x03, 0x01, 0x02, 0x03}, ScriptOpReturn},
		{"p2pk uncompressed", genesisP2PKScript(t), ScriptP2PK},
		{"p2pkh", mustHex(t, "76a914000000000000000000000000000000000000000088ac"), ScriptOther},
		{"p2wpkh", mustHex(t, "00140000000000000000000000000000000000000000"), ScriptOther},
	}
	for _, test := range tests {
		if got := ClassifyScript(test.script); got != test.expected {
			t.Errorf("%s: ClassifyScript returned %d, expected %d", test.name, got, test.expected)
		}
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	decoded, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Failed to decode hex %q: %s", s, err)
	}
	return decoded
}

func TestDeriveP2PKAddress(t *testing.T) {
	address, err := DeriveP2PKAddress(genesisP2PKScript(t))
	if err != nil {
		t.Fatalf("DeriveP2PKAddress: %s", err)
	}
	// The P2PKH encoding of the genesis coinbase pubkey.
	const expected = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	if address != expected {
		t.Errorf("DeriveP2PKAddress returned %s, expected %s", address, expected)
	}

	if _, err := DeriveP2PKAddress([]byte{0x6a}); err == nil {
		t.Error("DeriveP2PKAddress accepted a non-p2pk script")
	}
}

func TestOpReturnPayload(t *testing.T) {
	tests := []struct {
		name     string
		script   []byte
		expected string
	}{
		{
			name:     "single push",
			script:   append([]byte{0x6a, 0x0d}, []byte("#FreeSamourai")...),
			expected: "#FreeSamourai",
		},
		{
			name:     "multiple pushbytes",
			script:   []byte{0x6a, 0x01, 'a', 0x01, 'b', 0x01, 'c'},
			expected: "abc",
		},
		{
			name:     "pushdata1",
			script:   append([]byte{0x6a, 0x4c, 0x0f}, []byte("learnmeabitcoin")...),
			expected: "learnmeabitcoin",
		},
	}
	for _, test := range tests {
		payload, err := OpReturnPayload(test.script)
		if err != nil {
			t.Errorf("%s: OpReturnPayload: %s", test.name, err)
			continue
		}
		if string(payload) != test.expected {
			t.Errorf("%s: OpReturnPayload returned %q, expected %q", test.name, payload, test.expected)
		}
	}

	if _, err := OpReturnPayload([]byte{0x6a, 0x10, 0x01}); err == nil {
		t.Error("OpReturnPayload accepted a truncated push")
	}
}

func TestIsPrintableText(t *testing.T) {
	if !IsPrintableText([]byte("#FreeSamourai")) {
		t.Error("printable ascii reported as non-printable")
	}
	if IsPrintableText([]byte{0xa0, 0xa1}) {
		t.Error("binary payload reported as printable")
	}
	if IsPrintableText(nil) {
		t.Error("empty payload reported as printable")
	}
}

func TestSatoshisToBTC(t *testing.T) {
	if got := SatoshisToBTC(1437); got.String() != "0.00001437" {
		t.Errorf("SatoshisToBTC(1437) = %s", got)
	}
	if got := SatoshisToBTC(5000000000); got.String() != "50" {
		t.Errorf("SatoshisToBTC(5000000000) = %s", got)
	}
}
