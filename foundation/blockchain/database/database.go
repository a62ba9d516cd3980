// Package database handles the block and transaction data model and the
// lower level support for maintaining the chain of accepted blocks.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Set of error variables for the chain store.
var (
	ErrNotFound        = errors.New("block not found")
	ErrGenesisMismatch = errors.New("stored genesis does not match network genesis")
	ErrNotNextBlock    = errors.New("block does not extend the chain tip")
	ErrEndOfChain      = errors.New("end of chain")
)

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Storage interface {
	Write(blockData BlockData) error
	GetBlock(height uint32) (BlockData, error)
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// DatabaseIterator walks the stored blocks converting them into blocks.
type DatabaseIterator struct {
	iterator Iterator
}

// Next retrieves the next block from storage.
func (di *DatabaseIterator) Next() (Block, error) {
	blockData, err := di.iterator.Next()
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// Done returns the end of chain value.
func (di *DatabaseIterator) Done() bool {
	return di.iterator.Done()
}

// =============================================================================

// Database manages the chain of accepted blocks. Headers are indexed in
// memory by height for the ancestor lookups validation needs.
type Database struct {
	mu      sync.RWMutex
	genesis Block
	storage Storage
	headers []BlockHeader
	heights map[signature.Hash]uint32
	latest  Block
}

// New constructs a chain database over the storage. An empty store is seeded
// with the genesis block. A store whose first block is not the genesis block
// is rejected.
func New(genesis Block, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		genesis: genesis,
		storage: storage,
		heights: make(map[signature.Hash]uint32),
	}

	iter := storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := db.index(block, blockData.Height); err != nil {
			return nil, err
		}
	}

	if len(db.headers) == 0 {
		ev("database: New: seeding genesis block[%s]", genesis.Hash())
		if err := storage.Write(NewBlockData(genesis, 0)); err != nil {
			return nil, fmt.Errorf("write genesis: %w", err)
		}
		if err := db.index(genesis, 0); err != nil {
			return nil, err
		}
	}

	ev("database: New: loaded height[%d] tip[%s]", len(db.headers)-1, db.latest.Hash())

	return &db, nil
}

// index adds the block at height to the in memory indexes. Blocks must be
// indexed in height order and link to the previous block.
func (db *Database) index(block Block, height uint32) error {
	if int(height) != len(db.headers) {
		return fmt.Errorf("block at height %d is out of order, expected %d", height, len(db.headers))
	}

	hash := block.Hash()

	switch height {
	case 0:
		if !hash.Equal(db.genesis.Hash()) {
			return ErrGenesisMismatch
		}
	default:
		prev := db.headers[height-1].Hash()
		if !block.Header.PrevBlock.Equal(prev) {
			return fmt.Errorf("block at height %d does not link to its parent", height)
		}
	}

	db.headers = append(db.headers, block.Header)
	db.heights[hash] = height
	db.latest = block

	return nil
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// Reset re-initializes the chain back to the genesis block.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	db.headers = nil
	db.heights = make(map[signature.Hash]uint32)
	db.latest = Block{}

	if err := db.storage.Write(NewBlockData(db.genesis, 0)); err != nil {
		return err
	}

	return db.index(db.genesis, 0)
}

// Write appends a block that extends the current tip.
func (db *Database) Write(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !block.Header.PrevBlock.Equal(db.latest.Hash()) {
		return ErrNotNextBlock
	}

	height := uint32(len(db.headers))
	if err := db.storage.Write(NewBlockData(block, height)); err != nil {
		return err
	}

	return db.index(block, height)
}

// LatestBlock returns the block at the chain tip.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latest
}

// Tip returns the hash and height of the chain tip.
func (db *Database) Tip() (signature.Hash, uint32) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latest.Hash(), uint32(len(db.headers) - 1)
}

// HeaderByHeight returns the header at height.
func (db *Database) HeaderByHeight(height uint32) (BlockHeader, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if int(height) >= len(db.headers) {
		return BlockHeader{}, ErrNotFound
	}

	return db.headers[height], nil
}

// HeightOf returns the height of the block with the hash.
func (db *Database) HeightOf(hash signature.Hash) (uint32, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	h, ok := db.heights[hash]
	return h, ok
}

// Ancestors returns up to n headers ending at height, oldest first.
func (db *Database) Ancestors(height uint32, n int) []BlockHeader {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if int(height) >= len(db.headers) || n <= 0 {
		return nil
	}

	start := int(height) + 1 - n
	if start < 0 {
		start = 0
	}

	out := make([]BlockHeader, int(height)+1-start)
	copy(out, db.headers[start:height+1])
	return out
}

// GetBlock reads the full block at height from storage.
func (db *Database) GetBlock(height uint32) (Block, error) {
	db.mu.RLock()
	known := int(height) < len(db.headers)
	db.mu.RUnlock()

	if !known {
		return Block{}, ErrNotFound
	}

	blockData, err := db.storage.GetBlock(height)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}

// ForEach returns an iterator to walk through all the stored blocks starting
// with the genesis block.
func (db *Database) ForEach() *DatabaseIterator {
	return &DatabaseIterator{iterator: db.storage.ForEach()}
}
