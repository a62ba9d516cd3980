package storage

import (
	"sync"

	"github.com/btpc/consensus/foundation/blockchain/database"
)

// Memory keeps the chain in memory. It is used by tests and by nodes that
// don't need the chain to survive a restart.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
}

// NewMemory constructs an empty in memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Close has nothing to release.
func (m *Memory) Close() error {
	return nil
}

// Write stores the block data at its height, replacing anything above it.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := int(blockData.Height)
	if h > len(m.blocks) {
		return database.ErrNotNextBlock
	}

	m.blocks = append(m.blocks[:h], blockData)
	return nil
}

// GetBlock returns the block data at height.
func (m *Memory) GetBlock(height uint32) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if int(height) >= len(m.blocks) {
		return database.BlockData{}, database.ErrNotFound
	}

	return m.blocks[height], nil
}

// ForEach returns an iterator over the stored blocks.
func (m *Memory) ForEach() database.Iterator {
	return &MemoryIterator{mem: m}
}

// Reset removes every block.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	return nil
}

// MemoryIterator walks the in memory chain.
type MemoryIterator struct {
	mem     *Memory
	current uint32
	eoc     bool
}

// Next retrieves the next block.
func (mi *MemoryIterator) Next() (database.BlockData, error) {
	if mi.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	blockData, err := mi.mem.GetBlock(mi.current)
	if err != nil {
		mi.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	mi.current++
	return blockData, nil
}

// Done returns the end of chain value.
func (mi *MemoryIterator) Done() bool {
	return mi.eoc
}
