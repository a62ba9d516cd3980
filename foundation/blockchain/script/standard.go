package script

import (
	"encoding/binary"
	"errors"

	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// PayToPubKeyHash returns the standard lock script paying to the 20 byte
// public key hash:
//
//	OP_DUP OP_HASH160 <pkh> OP_EQUALVERIFY OP_CHECKMLDSASIG
func PayToPubKeyHash(pkh []byte) ([]byte, error) {
	if len(pkh) != signature.PubKeyHashSize {
		return nil, errors.New("invalid pubkey hash length")
	}

	return NewBuilder().
		AddOp(OpDup).
		AddOp(OpHash160).
		AddData(pkh).
		AddOp(OpEqualVerify).
		AddOp(OpCheckMLDSASig).
		Script()
}

// SignatureScript returns the unlock script for a pay-to-pubkey-hash output.
func SignatureScript(sig []byte, pubKey []byte) ([]byte, error) {
	return NewBuilder().AddData(sig).AddData(pubKey).Script()
}

// ExtractPubKeyHash returns the public key hash of a pay-to-pubkey-hash lock
// script, or false when the script has a different shape.
func ExtractPubKeyHash(lock []byte) ([]byte, bool) {
	ins, err := Parse(lock)
	if err != nil || len(ins) != 5 {
		return nil, false
	}

	if ins[0].Op != OpDup || ins[1].Op != OpHash160 || ins[3].Op != OpEqualVerify || ins[4].Op != OpCheckMLDSASig {
		return nil, false
	}

	if len(ins[2].Data) != signature.PubKeyHashSize {
		return nil, false
	}

	return ins[2].Data, true
}

// =============================================================================

// ErrNoHeight is returned when a coinbase script does not start with the
// block height.
var ErrNoHeight = errors.New("coinbase script missing height")

// CoinbaseScript returns a coinbase signature script that commits to the
// block height followed by optional extra data. The height push keeps
// coinbase transaction ids unique across blocks.
func CoinbaseScript(height uint32, extra []byte) ([]byte, error) {
	h := binary.LittleEndian.AppendUint32(nil, height)

	b := NewBuilder().AddData(h)
	if len(extra) > 0 {
		b.AddData(extra)
	}

	return b.Script()
}

// CoinbaseHeight extracts the height a coinbase script commits to.
func CoinbaseHeight(sigScript []byte) (uint32, error) {
	ins, err := Parse(sigScript)
	if err != nil {
		return 0, err
	}

	if len(ins) == 0 || len(ins[0].Data) != 4 {
		return 0, ErrNoHeight
	}

	return binary.LittleEndian.Uint32(ins[0].Data), nil
}
