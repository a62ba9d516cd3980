package database

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/wire"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Structural limits for a transaction.
const (
	MinTxVersion  = 1
	MaxTxInputs   = 1000
	MaxTxOutputs  = 1000
	NullIndex     = math.MaxUint32
	pver          = 0
	maxDecodeSize = 32 << 20
)

// ErrMalformed is returned when raw bytes can't be decoded into a value.
var ErrMalformed = errors.New("malformed encoding")

// =============================================================================

// OutPoint references a specific output of a prior transaction.
type OutPoint struct {
	TxID  signature.Hash `json:"txid"`
	Index uint32         `json:"index"`
}

// NullOutPoint is the sentinel a coinbase input refers to.
var NullOutPoint = OutPoint{Index: NullIndex}

// IsNull reports whether this is the coinbase sentinel.
func (op OutPoint) IsNull() bool {
	return op.Index == NullIndex && op.TxID.IsZero()
}

// String implements the fmt.Stringer interface for logging.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Index)
}

// TxIn claims a prior output.
type TxIn struct {
	PrevOut   OutPoint      `json:"prev_out"`
	SigScript hexutil.Bytes `json:"sig_script"`
	Sequence  uint32        `json:"sequence"`
}

// TxOut is a spendable amount locked by a script.
type TxOut struct {
	Value    uint64        `json:"value"`
	PkScript hexutil.Bytes `json:"pk_script"`
}

// Tx is a value transfer from a set of inputs to a set of outputs.
type Tx struct {
	Version  uint32  `json:"version"`
	Inputs   []TxIn  `json:"inputs"`
	Outputs  []TxOut `json:"outputs"`
	LockTime uint32  `json:"lock_time"`
	ForkID   uint8   `json:"fork_id"`
}

// IsCoinbase reports whether the transaction has the shape of a coinbase:
// a single input spending the null outpoint.
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsNull()
}

// TotalOut sums the output values. It fails on overflow.
func (tx Tx) TotalOut() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, errors.New("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// Encode returns the canonical wire encoding of the transaction.
func (tx Tx) Encode() []byte {
	var buf bytes.Buffer
	tx.encode(&buf, false)
	return buf.Bytes()
}

// Size is the number of bytes in the wire encoding.
func (tx Tx) Size() int {
	n := 4 + wire.VarIntSerializeSize(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		n += signature.HashSize + 4 + wire.VarIntSerializeSize(uint64(len(in.SigScript))) + len(in.SigScript) + 4
	}

	n += wire.VarIntSerializeSize(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		n += 8 + wire.VarIntSerializeSize(uint64(len(out.PkScript))) + len(out.PkScript)
	}

	return n + 4 + 1
}

// ID returns the transaction id: the double SHA-512 of the encoding.
func (tx Tx) ID() signature.Hash {
	return signature.DoubleSum(tx.Encode())
}

// SignableBytes returns the encoding with every signature script emptied.
// This is the content every input signature commits to.
func (tx Tx) SignableBytes() []byte {
	var buf bytes.Buffer
	tx.encode(&buf, true)
	return buf.Bytes()
}

// SignatureHash returns the message the signature of the input at index must
// cover. It binds the transaction contents and the input position so a
// signature can't be replayed on another input or transaction.
func (tx Tx) SignatureHash(index int) []byte {
	data := binary.LittleEndian.AppendUint32(tx.SignableBytes(), uint32(index))
	h := signature.DoubleSum(data)
	return h.Bytes()
}

// Hash implements the merkle Hashable interface.
func (tx Tx) Hash() ([]byte, error) {
	h := tx.ID()
	return h.Bytes(), nil
}

// Equals implements the merkle Hashable interface.
func (tx Tx) Equals(other Tx) bool {
	return tx.ID().Equal(other.ID())
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s[in:%d out:%d]", tx.ID(), len(tx.Inputs), len(tx.Outputs))
}

func (tx Tx) encode(w *bytes.Buffer, signable bool) {
	writeUint32(w, tx.Version)

	wire.WriteVarInt(w, pver, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		w.Write(in.PrevOut.TxID[:])
		writeUint32(w, in.PrevOut.Index)
		if signable {
			wire.WriteVarInt(w, pver, 0)
		} else {
			wire.WriteVarBytes(w, pver, in.SigScript)
		}
		writeUint32(w, in.Sequence)
	}

	wire.WriteVarInt(w, pver, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		w.Write(binary.LittleEndian.AppendUint64(nil, out.Value))
		wire.WriteVarBytes(w, pver, out.PkScript)
	}

	writeUint32(w, tx.LockTime)
	w.WriteByte(tx.ForkID)
}

// DecodeTx parses a transaction from its wire encoding.
func DecodeTx(raw []byte) (Tx, error) {
	r := bytes.NewReader(raw)

	tx, err := readTx(r)
	if err != nil {
		return Tx{}, err
	}

	if r.Len() != 0 {
		return Tx{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}

	return tx, nil
}

func readTx(r *bytes.Reader) (Tx, error) {
	var tx Tx
	var err error

	if tx.Version, err = readUint32(r); err != nil {
		return Tx{}, err
	}

	nIn, err := readCount(r, MaxTxInputs)
	if err != nil {
		return Tx{}, err
	}

	tx.Inputs = make([]TxIn, nIn)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if _, err := io.ReadFull(r, in.PrevOut.TxID[:]); err != nil {
			return Tx{}, fmt.Errorf("%w: %s", ErrMalformed, err)
		}
		if in.PrevOut.Index, err = readUint32(r); err != nil {
			return Tx{}, err
		}
		if in.SigScript, err = readBytes(r); err != nil {
			return Tx{}, err
		}
		if in.Sequence, err = readUint32(r); err != nil {
			return Tx{}, err
		}
	}

	nOut, err := readCount(r, MaxTxOutputs)
	if err != nil {
		return Tx{}, err
	}

	tx.Outputs = make([]TxOut, nOut)
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		var v [8]byte
		if _, err := io.ReadFull(r, v[:]); err != nil {
			return Tx{}, fmt.Errorf("%w: %s", ErrMalformed, err)
		}
		out.Value = binary.LittleEndian.Uint64(v[:])
		if out.PkScript, err = readBytes(r); err != nil {
			return Tx{}, err
		}
	}

	if tx.LockTime, err = readUint32(r); err != nil {
		return Tx{}, err
	}

	if tx.ForkID, err = r.ReadByte(); err != nil {
		return Tx{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	return tx, nil
}

// =============================================================================

// CheckStructure performs the context free checks on a transaction.
func (tx Tx) CheckStructure(lim Limits) error {
	if tx.Version < MinTxVersion {
		return fmt.Errorf("unsupported transaction version %d", tx.Version)
	}

	if len(tx.Inputs) == 0 {
		return errors.New("transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return errors.New("transaction has no outputs")
	}
	if len(tx.Inputs) > MaxTxInputs {
		return fmt.Errorf("too many inputs %d", len(tx.Inputs))
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return fmt.Errorf("too many outputs %d", len(tx.Outputs))
	}

	if size := tx.Size(); size > lim.MaxTxSize {
		return fmt.Errorf("transaction size %d exceeds %d", size, lim.MaxTxSize)
	}

	if tx.ForkID != lim.ForkID {
		return fmt.Errorf("fork id %d does not match network %d", tx.ForkID, lim.ForkID)
	}

	if _, err := tx.TotalOut(); err != nil {
		return err
	}

	for i, out := range tx.Outputs {
		if len(out.PkScript) > lim.MaxScriptSize {
			return fmt.Errorf("output %d script too large", i)
		}
	}

	coinbase := tx.IsCoinbase()
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if len(in.SigScript) > lim.MaxScriptSize {
			return fmt.Errorf("input %d script too large", i)
		}
		if !coinbase && in.PrevOut.IsNull() {
			return fmt.Errorf("input %d spends the null outpoint", i)
		}
		if _, exists := seen[in.PrevOut]; exists {
			return fmt.Errorf("input %d spends %s twice", i, in.PrevOut)
		}
		seen[in.PrevOut] = struct{}{}
	}

	return nil
}

// =============================================================================

func writeUint32(w *bytes.Buffer, v uint32) {
	w.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readCount(r *bytes.Reader, limit uint64) (int, error) {
	n, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if n > limit || n > uint64(r.Len()) {
		return 0, fmt.Errorf("%w: count %d too large", ErrMalformed, n)
	}
	return int(n), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if n > maxDecodeSize || n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: length %d too large", ErrMalformed, n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return b, nil
}
