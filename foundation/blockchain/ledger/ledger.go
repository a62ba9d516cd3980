// Package ledger maintains the set of unspent transaction outputs. Reads may
// run concurrently. Every observe-then-mutate sequence goes through Update so
// it runs alone and commits as one atomic batch.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// Set of error variables for the ledger.
var (
	ErrNotFound = errors.New("utxo not found")
	ErrExists   = errors.New("utxo already exists")
	ErrStorage  = errors.New("ledger storage unavailable")
)

// Tip marks the last block whose changes were committed to the ledger.
type Tip struct {
	Hash   signature.Hash `json:"hash"`
	Height uint32         `json:"height"`
}

// Batch is the set of changes committed atomically by a storage back end.
type Batch struct {
	Remove []database.OutPoint
	Store  []database.UTXO
	Tip    *Tip
}

// Storage interface represents the behavior required to be implemented by any
// package providing support for persisting the ledger.
type Storage interface {
	Get(op database.OutPoint) (database.UTXO, error)
	Has(op database.OutPoint) (bool, error)
	Tip() (Tip, bool, error)
	Apply(batch Batch) error
	ForEach(fn func(utxo database.UTXO) error) error
	Close() error
}

// Reader provides read access to the ledger.
type Reader interface {
	Get(op database.OutPoint) (database.UTXO, error)
	Exists(op database.OutPoint) (bool, error)
	Tip() (Tip, bool, error)
}

// Txn provides staged write access to the ledger inside Update.
type Txn interface {
	Reader
	Store(utxo database.UTXO) error
	Remove(op database.OutPoint) error
	SetTip(tip Tip)
}

// Stats summarizes the unspent set.
type Stats struct {
	Count uint64 `json:"count"`
	Value uint64 `json:"value"`
}

// =============================================================================

// Ledger manages the unspent outputs on top of a storage back end.
type Ledger struct {
	mu        sync.RWMutex
	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a ledger over the storage.
func New(storage Storage, evHandler func(v string, args ...any)) *Ledger {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Ledger{
		storage:   storage,
		evHandler: ev,
	}
}

// Close releases the storage.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.storage.Close()
}

// View runs fn with read access. Many views may run at the same time but
// never while an Update is committing.
func (l *Ledger) View(fn func(r Reader) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return fn(reader{storage: l.storage})
}

// Update runs fn with exclusive access. Changes staged through the Txn are
// committed in one batch when fn returns nil. Nothing is written when fn
// returns an error.
func (l *Ledger) Update(fn func(txn Txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txn := newTxn(l.storage)
	if err := fn(txn); err != nil {
		return err
	}

	batch := txn.batch()
	if len(batch.Remove) == 0 && len(batch.Store) == 0 && batch.Tip == nil {
		return nil
	}

	if err := l.storage.Apply(batch); err != nil {
		return storageErr(err)
	}

	l.evHandler("ledger: Update: committed: removed[%d] stored[%d]", len(batch.Remove), len(batch.Store))

	return nil
}

// Get returns the unspent output for the outpoint.
func (l *Ledger) Get(op database.OutPoint) (database.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return reader{storage: l.storage}.Get(op)
}

// Exists reports whether the outpoint is unspent.
func (l *Ledger) Exists(op database.OutPoint) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return reader{storage: l.storage}.Exists(op)
}

// Store adds a single unspent output.
func (l *Ledger) Store(utxo database.UTXO) error {
	return l.Update(func(txn Txn) error {
		return txn.Store(utxo)
	})
}

// Remove deletes a single unspent output.
func (l *Ledger) Remove(op database.OutPoint) error {
	return l.Update(func(txn Txn) error {
		return txn.Remove(op)
	})
}

// Tip returns the last block committed to the ledger.
func (l *Ledger) Tip() (Tip, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return reader{storage: l.storage}.Tip()
}

// ForEach calls fn for every unspent output until fn returns an error.
func (l *Ledger) ForEach(fn func(utxo database.UTXO) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.storage.ForEach(fn)
}

// Stats walks the unspent set and returns its size and total value.
func (l *Ledger) Stats() (Stats, error) {
	var stats Stats
	err := l.ForEach(func(utxo database.UTXO) error {
		stats.Count++
		stats.Value += utxo.Output.Value
		return nil
	})
	if err != nil {
		return Stats{}, storageErr(err)
	}

	return stats, nil
}

// =============================================================================

type reader struct {
	storage Storage
}

func (r reader) Get(op database.OutPoint) (database.UTXO, error) {
	utxo, err := r.storage.Get(op)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return database.UTXO{}, fmt.Errorf("%w: %s", ErrNotFound, op)
		}
		return database.UTXO{}, storageErr(err)
	}

	return utxo, nil
}

func (r reader) Exists(op database.OutPoint) (bool, error) {
	ok, err := r.storage.Has(op)
	if err != nil {
		return false, storageErr(err)
	}

	return ok, nil
}

func (r reader) Tip() (Tip, bool, error) {
	tip, ok, err := r.storage.Tip()
	if err != nil {
		return Tip{}, false, storageErr(err)
	}

	return tip, ok, nil
}

// txn stages changes over the storage.
type txn struct {
	reader
	staged map[database.OutPoint]entry
	order  []database.OutPoint
	tip    *Tip
}

// entry is a staged change. A nil utxo marks a removal. persisted records
// whether the output was in storage when it was first staged.
type entry struct {
	utxo      *database.UTXO
	persisted bool
}

func newTxn(storage Storage) *txn {
	return &txn{
		reader: reader{storage: storage},
		staged: make(map[database.OutPoint]entry),
	}
}

func (t *txn) Get(op database.OutPoint) (database.UTXO, error) {
	if e, staged := t.staged[op]; staged {
		if e.utxo == nil {
			return database.UTXO{}, fmt.Errorf("%w: %s", ErrNotFound, op)
		}
		return *e.utxo, nil
	}

	return t.reader.Get(op)
}

func (t *txn) Exists(op database.OutPoint) (bool, error) {
	if e, staged := t.staged[op]; staged {
		return e.utxo != nil, nil
	}

	return t.reader.Exists(op)
}

func (t *txn) Tip() (Tip, bool, error) {
	if t.tip != nil {
		return *t.tip, true, nil
	}

	return t.reader.Tip()
}

func (t *txn) Store(utxo database.UTXO) error {
	exists, err := t.Exists(utxo.OutPoint)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, utxo.OutPoint)
	}

	t.stage(utxo.OutPoint, &utxo, false)
	return nil
}

func (t *txn) Remove(op database.OutPoint) error {
	exists, err := t.Exists(op)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}

	t.stage(op, nil, true)
	return nil
}

func (t *txn) SetTip(tip Tip) {
	t.tip = &tip
}

func (t *txn) stage(op database.OutPoint, u *database.UTXO, persisted bool) {
	e, seen := t.staged[op]
	if !seen {
		t.order = append(t.order, op)
		e.persisted = persisted
	}
	e.utxo = u
	t.staged[op] = e
}

// batch turns the staged changes into removals of persisted outputs and
// insertions of new ones. An output created and spent inside the same
// update never reaches storage.
func (t *txn) batch() Batch {
	var b Batch
	for _, op := range t.order {
		e := t.staged[op]

		switch {
		case e.utxo != nil:
			b.Store = append(b.Store, *e.utxo)
		case e.persisted:
			b.Remove = append(b.Remove, op)
		}
	}
	b.Tip = t.tip

	return b
}

func storageErr(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
