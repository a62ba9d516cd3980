// Package mempool maintains the pool of validated transactions waiting to be
// included in a block.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/mempool/selector"
	"github.com/btpc/consensus/foundation/blockchain/signature"
	"github.com/btpc/consensus/foundation/blockchain/validator"
	"github.com/jellydator/ttlcache/v3"
)

// Set of admission errors.
var (
	ErrDuplicate        = errors.New("transaction already in mempool")
	ErrRecentlyRejected = errors.New("transaction recently rejected")
	ErrTooLarge         = errors.New("transaction too large")
	ErrDoubleSpend      = errors.New("transaction spends an output claimed by a pooled transaction")
	ErrInsufficientFee  = errors.New("transaction fee rate below minimum")
	ErrPoolFull         = errors.New("mempool full")
)

// Default limits used when the configuration leaves them unset.
const (
	DefaultMaxTxs    = 50_000
	DefaultMaxBytes  = 300_000_000
	DefaultRejectTTL = 10 * time.Minute
)

// Entry is a pooled transaction with its fee accounting.
type Entry = selector.Entry

// TxValidator checks a loose transaction against the ledger as if it were
// in the next block and returns its fee.
type TxValidator interface {
	ValidateTransaction(tx database.Tx) (uint64, error)
}

// Config represents the configuration required to construct a mempool.
type Config struct {
	Validator  TxValidator
	Strategy   string
	MaxTxs     int
	MaxBytes   int
	MaxTxSize  int
	MinFeeRate uint64
	RejectTTL  time.Duration
	Now        func() time.Time
	EvHandler  func(v string, args ...any)
}

// Stats summarizes the pool contents.
type Stats struct {
	Count      int    `json:"count"`
	Bytes      int    `json:"bytes"`
	Fees       uint64 `json:"fees"`
	MinFeeRate uint64 `json:"min_fee_rate"`
	MaxFeeRate uint64 `json:"max_fee_rate"`
	Rejected   int    `json:"rejected"`
}

// Mempool represents a cache of validated transactions keyed by transaction
// id with a second index on the outpoints they spend.
type Mempool struct {
	mu        sync.RWMutex
	pool      map[signature.Hash]Entry
	spent     map[database.OutPoint]signature.Hash
	bytes     int
	rejected  *ttlcache.Cache[signature.Hash, string]
	selectFn  selector.Func
	validator TxValidator
	cfg       Config
	evHandler func(v string, args ...any)
}

// New constructs a new mempool using the configured select strategy.
func New(cfg Config) (*Mempool, error) {
	if cfg.Validator == nil {
		return nil, errors.New("mempool requires a transaction validator")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyFeeRate
	}
	if cfg.MaxTxs <= 0 {
		cfg.MaxTxs = DefaultMaxTxs
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.RejectTTL <= 0 {
		cfg.RejectTTL = DefaultRejectTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	mp := Mempool{
		pool:  make(map[signature.Hash]Entry),
		spent: make(map[database.OutPoint]signature.Hash),
		rejected: ttlcache.New[signature.Hash, string](
			ttlcache.WithTTL[signature.Hash, string](cfg.RejectTTL),
			ttlcache.WithDisableTouchOnHit[signature.Hash, string](),
		),
		selectFn:  selectFn,
		validator: cfg.Validator,
		cfg:       cfg,
		evHandler: ev,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Size returns the number of encoded bytes held by the pool.
func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.bytes
}

// Get returns the pooled entry for the transaction id.
func (mp *Mempool) Get(txID signature.Hash) (Entry, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, exists := mp.pool[txID]
	return e, exists
}

// Admit validates the transaction and adds it to the pool. A transaction
// that fails a rule that does not depend on the ledger is remembered for a
// while so a resubmission is turned away without validating it again.
func (mp *Mempool) Admit(tx database.Tx) (Entry, error) {
	txID := tx.ID()
	size := tx.Size()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[txID]; exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicate, txID)
	}

	if item := mp.rejected.Get(txID); item != nil {
		return Entry{}, fmt.Errorf("%w: %s: %s", ErrRecentlyRejected, txID, item.Value())
	}

	if mp.cfg.MaxTxSize > 0 && size > mp.cfg.MaxTxSize {
		mp.reject(txID, "too large")
		return Entry{}, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, size, mp.cfg.MaxTxSize)
	}

	fee, err := mp.validator.ValidateTransaction(tx)
	if err != nil {
		if permanent(err) {
			mp.reject(txID, err.Error())
		}
		return Entry{}, err
	}

	for _, in := range tx.Inputs {
		if owner, exists := mp.spent[in.PrevOut]; exists {
			return Entry{}, fmt.Errorf("%w: %s already spent by %s", ErrDoubleSpend, in.PrevOut, owner)
		}
	}

	e := Entry{
		Tx:      tx,
		ID:      txID,
		Fee:     fee,
		Size:    size,
		FeeRate: selector.FeeRate(fee, size),
		Added:   mp.cfg.Now(),
	}

	if e.FeeRate < mp.cfg.MinFeeRate {
		return Entry{}, fmt.Errorf("%w: rate %d, min %d", ErrInsufficientFee, e.FeeRate, mp.cfg.MinFeeRate)
	}

	if err := mp.makeRoom(e); err != nil {
		return Entry{}, err
	}

	mp.insert(e)
	mp.evHandler("mempool: Admit: tx[%s] fee[%d] rate[%d] count[%d]", txID, fee, e.FeeRate, len(mp.pool))

	return e, nil
}

// Evict removes a transaction from the pool.
func (mp *Mempool) Evict(txID signature.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.remove(txID)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[signature.Hash]Entry)
	mp.spent = make(map[database.OutPoint]signature.Hash)
	mp.bytes = 0
}

// Copy returns the pooled entries ordered by admission time.
func (mp *Mempool) Copy() []Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := mp.entries()
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Added.Equal(entries[j].Added) {
			return entries[i].Added.Before(entries[j].Added)
		}
		return entries[i].ID.Compare(entries[j].ID) < 0
	})

	return entries
}

// SelectForBlock uses the configured select strategy to return the set of
// transactions for the next block. The result fits in maxBytes, holds no
// conflicting spends and is in inclusion order.
func (mp *Mempool) SelectForBlock(maxBytes int) []database.Tx {
	selected := mp.SelectEntries(maxBytes)

	txs := make([]database.Tx, len(selected))
	for i, e := range selected {
		txs[i] = e.Tx
	}

	return txs
}

// SelectEntries is SelectForBlock returning the pooled entries so the caller
// has the fees at hand.
func (mp *Mempool) SelectEntries(maxBytes int) []Entry {
	mp.mu.RLock()
	entries := mp.entries()
	mp.mu.RUnlock()

	return mp.selectFn(entries, maxBytes)
}

// BlockApplied removes the transactions the block included and any pooled
// transaction spending an outpoint the block consumed. The remainder is
// validated again against the new ledger state, outside the pool lock, and
// dropped if it no longer passes. It returns the ids of the removed
// transactions.
func (mp *Mempool) BlockApplied(block database.Block) []signature.Hash {
	removed, remaining := mp.removeIncluded(block)

	var invalid []signature.Hash
	for _, e := range remaining {
		if _, err := mp.validator.ValidateTransaction(e.Tx); err != nil {
			if errors.Is(err, validator.ErrStorageUnavailable) {
				continue
			}
			mp.evHandler("mempool: BlockApplied: evict tx[%s]: %s", e.ID, err)
			invalid = append(invalid, e.ID)
		}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, txID := range invalid {
		if mp.remove(txID) {
			removed = append(removed, txID)
		}
	}

	mp.evHandler("mempool: BlockApplied: block[%s] removed[%d] count[%d]", block.Hash(), len(removed), len(mp.pool))

	return removed
}

// removeIncluded drops the block's transactions and the pooled spends of the
// outpoints it consumed. It returns those ids and a snapshot of what is left.
func (mp *Mempool) removeIncluded(block database.Block) ([]signature.Hash, []Entry) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed []signature.Hash

	for _, tx := range block.Txs {
		txID := tx.ID()
		if mp.remove(txID) {
			removed = append(removed, txID)
		}

		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs {
			if owner, exists := mp.spent[in.PrevOut]; exists {
				mp.remove(owner)
				removed = append(removed, owner)
			}
		}
	}

	return removed, mp.entries()
}

// RemoveExpired drops every transaction that has been pooled longer than
// maxAge and purges expired rejection records.
func (mp *Mempool) RemoveExpired(maxAge time.Duration) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.rejected.DeleteExpired()

	cutoff := mp.cfg.Now().Add(-maxAge)

	var n int
	for txID, e := range mp.pool {
		if e.Added.Before(cutoff) {
			mp.remove(txID)
			n++
		}
	}

	if n > 0 {
		mp.evHandler("mempool: RemoveExpired: removed[%d] count[%d]", n, len(mp.pool))
	}

	return n
}

// Stats returns a summary of the pool.
func (mp *Mempool) Stats() Stats {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	s := Stats{
		Count:    len(mp.pool),
		Bytes:    mp.bytes,
		Rejected: mp.rejected.Len(),
	}

	first := true
	for _, e := range mp.pool {
		s.Fees += e.Fee
		if first || e.FeeRate < s.MinFeeRate {
			s.MinFeeRate = e.FeeRate
		}
		if e.FeeRate > s.MaxFeeRate {
			s.MaxFeeRate = e.FeeRate
		}
		first = false
	}

	return s
}

// =============================================================================

// makeRoom evicts the cheapest entries, oldest first among equals, until the
// newcomer fits. Only entries paying strictly less per byte than the newcomer
// are candidates. Nothing is evicted when enough room can't be made.
func (mp *Mempool) makeRoom(e Entry) error {
	count := len(mp.pool) + 1
	bytes := mp.bytes + e.Size

	if count <= mp.cfg.MaxTxs && bytes <= mp.cfg.MaxBytes {
		return nil
	}

	candidates := mp.entries()
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FeeRate != candidates[j].FeeRate {
			return candidates[i].FeeRate < candidates[j].FeeRate
		}
		return candidates[i].Added.Before(candidates[j].Added)
	})

	var victims []signature.Hash
	for _, c := range candidates {
		if count <= mp.cfg.MaxTxs && bytes <= mp.cfg.MaxBytes {
			break
		}
		if c.FeeRate >= e.FeeRate {
			break
		}
		victims = append(victims, c.ID)
		count--
		bytes -= c.Size
	}

	if count > mp.cfg.MaxTxs || bytes > mp.cfg.MaxBytes {
		return fmt.Errorf("%w: %d txs, %d bytes", ErrPoolFull, len(mp.pool), mp.bytes)
	}

	for _, txID := range victims {
		mp.evHandler("mempool: makeRoom: evict tx[%s] for tx[%s]", txID, e.ID)
		mp.remove(txID)
	}

	return nil
}

// insert adds the entry and indexes its inputs.
func (mp *Mempool) insert(e Entry) {
	mp.pool[e.ID] = e
	mp.bytes += e.Size
	for _, in := range e.Tx.Inputs {
		mp.spent[in.PrevOut] = e.ID
	}
}

// remove drops the entry and its input index records.
func (mp *Mempool) remove(txID signature.Hash) bool {
	e, exists := mp.pool[txID]
	if !exists {
		return false
	}

	delete(mp.pool, txID)
	mp.bytes -= e.Size
	for _, in := range e.Tx.Inputs {
		if mp.spent[in.PrevOut] == txID {
			delete(mp.spent, in.PrevOut)
		}
	}

	return true
}

// permanent reports whether a validation failure holds whatever the ledger
// looks like. Missing or immature inputs and duplicates can change with the
// next block so they are never remembered.
func permanent(err error) bool {
	rej, ok := validator.IsRejection(err)
	if !ok {
		return false
	}

	switch rej.Kind {
	case validator.KindStructural, validator.KindAuthorization:
		return true
	}

	return false
}

// reject remembers the transaction id for the rejection window.
func (mp *Mempool) reject(txID signature.Hash, reason string) {
	mp.rejected.Set(txID, reason, ttlcache.DefaultTTL)
}

// entries returns the pooled entries in no particular order.
func (mp *Mempool) entries() []Entry {
	entries := make([]Entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	return entries
}
