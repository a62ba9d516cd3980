// Package memory implements the ledger storage in memory.
package memory

import (
	"sort"
	"sync"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/ledger"
)

// Memory keeps the unspent outputs in a map.
type Memory struct {
	mu    sync.RWMutex
	utxos map[database.OutPoint]database.UTXO
	tip   *ledger.Tip
}

// New constructs an empty ledger storage.
func New() *Memory {
	return &Memory{
		utxos: make(map[database.OutPoint]database.UTXO),
	}
}

// Get returns the output or ledger.ErrNotFound.
func (m *Memory) Get(op database.OutPoint) (database.UTXO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	utxo, exists := m.utxos[op]
	if !exists {
		return database.UTXO{}, ledger.ErrNotFound
	}

	return utxo, nil
}

// Has reports whether the output is stored.
func (m *Memory) Has(op database.OutPoint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.utxos[op]
	return exists, nil
}

// Tip returns the last committed block marker.
func (m *Memory) Tip() (ledger.Tip, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.tip == nil {
		return ledger.Tip{}, false, nil
	}
	return *m.tip, true, nil
}

// Apply commits the batch.
func (m *Memory) Apply(batch ledger.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range batch.Remove {
		delete(m.utxos, op)
	}
	for _, utxo := range batch.Store {
		m.utxos[utxo.OutPoint] = utxo
	}
	if batch.Tip != nil {
		tip := *batch.Tip
		m.tip = &tip
	}

	return nil
}

// ForEach calls fn for every output ordered by outpoint.
func (m *Memory) ForEach(fn func(utxo database.UTXO) error) error {
	m.mu.RLock()
	utxos := make([]database.UTXO, 0, len(m.utxos))
	for _, utxo := range m.utxos {
		utxos = append(utxos, utxo)
	}
	m.mu.RUnlock()

	sort.Slice(utxos, func(i, j int) bool {
		a, b := utxos[i].OutPoint, utxos[j].OutPoint
		if c := a.TxID.Compare(b.TxID); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})

	for _, utxo := range utxos {
		if err := fn(utxo); err != nil {
			return err
		}
	}

	return nil
}

// Close has nothing to release.
func (m *Memory) Close() error {
	return nil
}
