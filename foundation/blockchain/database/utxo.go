package database

import (
	"encoding/binary"
	"fmt"
)

// UTXO is an unspent output record. Records are created when their
// transaction is applied and deleted when spent. They are never mutated.
type UTXO struct {
	OutPoint OutPoint `json:"outpoint"`
	Output   TxOut    `json:"output"`
	Height   uint32   `json:"height"`
	Coinbase bool     `json:"coinbase"`
}

// IsMature reports whether the output may be spent in a block at height.
// Only coinbase outputs are subject to maturity.
func (u UTXO) IsMature(height uint32, maturity uint32) bool {
	if !u.Coinbase {
		return true
	}
	return height >= u.Height && height-u.Height >= maturity
}

// String implements the fmt.Stringer interface for logging.
func (u UTXO) String() string {
	return fmt.Sprintf("%s value[%d] height[%d] coinbase[%t]", u.OutPoint, u.Output.Value, u.Height, u.Coinbase)
}

// NewUTXOs returns the records created by the outputs of a transaction
// applied at height.
func NewUTXOs(tx Tx, height uint32) []UTXO {
	txid := tx.ID()
	coinbase := tx.IsCoinbase()

	utxos := make([]UTXO, len(tx.Outputs))
	for i, out := range tx.Outputs {
		utxos[i] = UTXO{
			OutPoint: OutPoint{TxID: txid, Index: uint32(i)},
			Output:   out,
			Height:   height,
			Coinbase: coinbase,
		}
	}

	return utxos
}

// =============================================================================

// EncodeUTXO returns the storage encoding of a record's value part:
// height(4) + flags(1) + value(8) + script.
func EncodeUTXO(u UTXO) []byte {
	b := make([]byte, 0, 13+len(u.Output.PkScript))
	b = binary.BigEndian.AppendUint32(b, u.Height)
	if u.Coinbase {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.BigEndian.AppendUint64(b, u.Output.Value)
	return append(b, u.Output.PkScript...)
}

// DecodeUTXO reverses EncodeUTXO for the given outpoint.
func DecodeUTXO(op OutPoint, raw []byte) (UTXO, error) {
	if len(raw) < 13 {
		return UTXO{}, fmt.Errorf("%w: utxo record of %d bytes", ErrMalformed, len(raw))
	}

	script := make([]byte, len(raw)-13)
	copy(script, raw[13:])

	return UTXO{
		OutPoint: op,
		Height:   binary.BigEndian.Uint32(raw[0:]),
		Coinbase: raw[4] == 1,
		Output: TxOut{
			Value:    binary.BigEndian.Uint64(raw[5:]),
			PkScript: script,
		},
	}, nil
}
