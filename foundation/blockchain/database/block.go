package database

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btpc/consensus/foundation/blockchain/merkle"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// HeaderSize is the size of the canonical header encoding.
const HeaderSize = 4 + signature.HashSize + signature.HashSize + 4 + 4 + 4

// MinBlockVersion is the lowest accepted header version.
const MinBlockVersion = 1

// Limits carries the size rules of a network that the structural checks
// need.
type Limits struct {
	MaxBlockSize  int
	MaxTxSize     int
	MaxScriptSize int
	ForkID        uint8
}

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Version    uint32         `json:"version"`
	PrevBlock  signature.Hash `json:"prev_block"`  // Hash of the previous block in the chain.
	MerkleRoot signature.Hash `json:"merkle_root"` // Root of the merkle tree of transaction ids.
	Timestamp  uint32         `json:"timestamp"`   // Seconds since the unix epoch.
	Bits       uint32         `json:"bits"`        // Compact encoding of the difficulty target.
	Nonce      uint32         `json:"nonce"`       // Value identified to solve the hash solution.
}

// Encode returns the canonical 144 byte header encoding.
func (bh BlockHeader) Encode() []byte {
	b := make([]byte, 0, HeaderSize)
	b = binary.LittleEndian.AppendUint32(b, bh.Version)
	b = append(b, bh.PrevBlock[:]...)
	b = append(b, bh.MerkleRoot[:]...)
	b = binary.LittleEndian.AppendUint32(b, bh.Timestamp)
	b = binary.LittleEndian.AppendUint32(b, bh.Bits)
	b = binary.LittleEndian.AppendUint32(b, bh.Nonce)
	return b
}

// Hash returns the double SHA-512 of the header encoding. Only the header is
// hashed so the chain can be checked from headers alone.
func (bh BlockHeader) Hash() signature.Hash {
	return signature.DoubleSum(bh.Encode())
}

// DecodeHeader parses a header from its canonical encoding.
func DecodeHeader(raw []byte) (BlockHeader, error) {
	if len(raw) != HeaderSize {
		return BlockHeader{}, fmt.Errorf("%w: header size %d", ErrMalformed, len(raw))
	}

	var bh BlockHeader
	bh.Version = binary.LittleEndian.Uint32(raw[0:])
	copy(bh.PrevBlock[:], raw[4:])
	copy(bh.MerkleRoot[:], raw[4+signature.HashSize:])

	rest := raw[4+2*signature.HashSize:]
	bh.Timestamp = binary.LittleEndian.Uint32(rest[0:])
	bh.Bits = binary.LittleEndian.Uint32(rest[4:])
	bh.Nonce = binary.LittleEndian.Uint32(rest[8:])

	return bh, nil
}

// =============================================================================

// Block represents a header and the ordered transactions it commits to. The
// first transaction is the coinbase.
type Block struct {
	Header BlockHeader `json:"header"`
	Txs    []Tx        `json:"txs"`
}

// Hash returns the unique hash for the block.
func (b Block) Hash() signature.Hash {
	return b.Header.Hash()
}

// Coinbase returns the first transaction of the block.
func (b Block) Coinbase() (Tx, bool) {
	if len(b.Txs) == 0 {
		return Tx{}, false
	}
	return b.Txs[0], true
}

// Encode returns the wire encoding: header, tx count, transactions.
func (b Block) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(b.Header.Encode())
	wire.WriteVarInt(&buf, pver, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		tx.encode(&buf, false)
	}
	return buf.Bytes()
}

// Size returns the number of bytes in the wire encoding.
func (b Block) Size() int {
	n := HeaderSize + wire.VarIntSerializeSize(uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		n += tx.Size()
	}
	return n
}

// DecodeBlock parses a block from its wire encoding.
func DecodeBlock(raw []byte) (Block, error) {
	if len(raw) < HeaderSize {
		return Block{}, fmt.Errorf("%w: short block", ErrMalformed)
	}

	bh, err := DecodeHeader(raw[:HeaderSize])
	if err != nil {
		return Block{}, err
	}

	r := bytes.NewReader(raw[HeaderSize:])
	n, err := readCount(r, uint64(r.Len()))
	if err != nil {
		return Block{}, err
	}

	txs := make([]Tx, n)
	for i := range txs {
		if txs[i], err = readTx(r); err != nil {
			return Block{}, err
		}
	}

	if r.Len() != 0 {
		return Block{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}

	return Block{Header: bh, Txs: txs}, nil
}

// CalcMerkleRoot computes the merkle root of the transaction ids.
func CalcMerkleRoot(txs []Tx) (signature.Hash, error) {
	tree, err := merkle.NewTree(txs)
	if err != nil {
		return signature.Hash{}, err
	}

	var root signature.Hash
	copy(root[:], tree.MerkleRoot)
	return root, nil
}

// CheckStructure performs the context free checks on a block.
func (b Block) CheckStructure(lim Limits) error {
	if b.Header.Version < MinBlockVersion {
		return fmt.Errorf("unsupported block version %d", b.Header.Version)
	}

	if len(b.Txs) == 0 {
		return errors.New("block has no transactions")
	}

	if !b.Txs[0].IsCoinbase() {
		return ErrNoCoinbase
	}

	for i, tx := range b.Txs {
		if i > 0 && tx.IsCoinbase() {
			return fmt.Errorf("transaction %d is a second coinbase", i)
		}
		if err := tx.CheckStructure(lim); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	if size := b.Size(); size > lim.MaxBlockSize {
		return fmt.Errorf("block size %d exceeds %d", size, lim.MaxBlockSize)
	}

	root, err := CalcMerkleRoot(b.Txs)
	if err != nil {
		return err
	}

	if !root.Equal(b.Header.MerkleRoot) {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Header.MerkleRoot, root)
	}

	return nil
}

// ErrNoCoinbase is returned when the first transaction of a block is not a
// coinbase.
var ErrNoCoinbase = errors.New("first transaction is not a coinbase")

// =============================================================================

// BlockData represents what is written to storage for each block.
type BlockData struct {
	Hash   signature.Hash `json:"hash"`
	Height uint32         `json:"height"`
	Header BlockHeader    `json:"header"`
	Txs    []Tx           `json:"txs"`
}

// NewBlockData constructs the value to serialize to storage.
func NewBlockData(block Block, height uint32) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Height: height,
		Header: block.Header,
		Txs:    block.Txs,
	}
}

// ToBlock converts stored block data back into a block, checking the stored
// hash still matches the header.
func ToBlock(bd BlockData) (Block, error) {
	b := Block{Header: bd.Header, Txs: bd.Txs}
	if h := b.Hash(); !h.Equal(bd.Hash) {
		return Block{}, fmt.Errorf("stored hash mismatch at height %d", bd.Height)
	}
	return b, nil
}
