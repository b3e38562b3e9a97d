package bitcoin

import (
	"encoding/binary"
	"unicode"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// ScriptType is the classification of a bitcoin output script. There are
// more standard classes, but only the ones needing special treatment are
// distinguished: P2PK carries no embedded address (it must be derived from
// the public key) and OP_RETURN is data-only.
type ScriptType uint8

const (
	// ScriptOther covers all scripts without special handling.
	ScriptOther ScriptType = iota
	// ScriptP2PK is a legacy pay-to-public-key script.
	ScriptP2PK
	// ScriptOpReturn stores data on chain and transfers no value.
	ScriptOpReturn
)

const (
	opReturn    = 0x6a
	opPushData1 = 0x4c
	opPushData2 = 0x4d
	opPushData4 = 0x4e
	opCheckSig  = 0xac
)

// ClassifyScript detects the script classes that require special handling.
func ClassifyScript(script []byte) ScriptType {
	if len(script) == 0 {
		return ScriptOther
	}
	if script[0] == opReturn {
		return ScriptOpReturn
	}
	// P2PK: a single push of a 33 or 65 byte public key followed by
	// OP_CHECKSIG.
	if (len(script) == 35 && script[0] == 33 || len(script) == 67 && script[0] == 65) &&
		script[len(script)-1] == opCheckSig {
		return ScriptP2PK
	}
	return ScriptOther
}

// DeriveP2PKAddress derives the base58check address of a P2PK output script
// from the public key embedded in it.
func DeriveP2PKAddress(script []byte) (string, error) {
	if ClassifyScript(script) != ScriptP2PK {
		return "", errors.New("script is not pay-to-public-key")
	}
	pubkey := script[1 : len(script)-1]
	addr, err := btcutil.NewAddressPubKey(pubkey, &chaincfg.MainNetParams)
	if err != nil {
		return "", errors.Wrap(err, "deriving address from p2pk script")
	}
	return addr.AddressPubKeyHash().EncodeAddress(), nil
}

// OpReturnPayload extracts and concatenates the data pushes of an OP_RETURN
// script.
func OpReturnPayload(script []byte) ([]byte, error) {
	if ClassifyScript(script) != ScriptOpReturn {
		return nil, errors.New("script is not op_return")
	}
	var payload []byte
	i := 1
	for i < len(script) {
		op := int(script[i])
		i++
		var size int
		switch {
		case op >= 1 && op <= 75:
			size = op
		case op == opPushData1:
			if i >= len(script) {
				return nil, errors.New("truncated OP_PUSHDATA1")
			}
			size = int(script[i])
			i++
		case op == opPushData2:
			if i+2 > len(script) {
				return nil, errors.New("truncated OP_PUSHDATA2")
			}
			size = int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2
		case op == opPushData4:
			if i+4 > len(script) {
				return nil, errors.New("truncated OP_PUSHDATA4")
			}
			size = int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
		default:
			// Not a data push. Nothing more to extract.
			return payload, nil
		}
		if i+size > len(script) {
			return nil, errors.New("push size exceeds script length")
		}
		payload = append(payload, script[i:i+size]...)
		i += size
	}
	return payload, nil
}

// IsPrintableText reports whether the payload decodes as printable UTF-8 and
// should be rendered as text rather than hex.
func IsPrintableText(payload []byte) bool {
	if len(payload) == 0 || !utf8.Valid(payload) {
		return false
	}
	for _, r := range string(payload) {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
