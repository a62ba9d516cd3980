// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"
	"time"

	"github.com/btpc/consensus/foundation/blockchain/database"
	"github.com/btpc/consensus/foundation/blockchain/signature"
)

// List of different select strategies.
const (
	StrategyFeeRate = "feerate"
	StrategyAge     = "age"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFeeRate: feeRateSelect,
	StrategyAge:     ageSelect,
}

// Entry is a pooled transaction with the accounting the strategies need.
type Entry struct {
	Tx      database.Tx
	ID      signature.Hash
	Fee     uint64
	Size    int
	FeeRate uint64
	Added   time.Time
}

// FeeRate returns the fee paid per thousand bytes. Integer arithmetic keeps
// the ordering identical on every node.
func FeeRate(fee uint64, size int) uint64 {
	if size <= 0 {
		return 0
	}
	return fee * 1000 / uint64(size)
}

// Func defines a function that takes the pooled entries and returns the ones
// to include in a block in inclusion order. The selected entries must fit in
// maxBytes and must not spend the same outpoint twice. Receiving -1 for
// maxBytes removes the byte budget.
type Func func(entries []Entry, maxBytes int) []Entry

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// fill walks the ordered entries and takes every one that still fits the
// budget and whose inputs are not already claimed.
func fill(entries []Entry, maxBytes int) []Entry {
	claimed := make(map[database.OutPoint]struct{})
	remaining := maxBytes

	final := []Entry{}
next:
	for _, e := range entries {
		if maxBytes >= 0 && e.Size > remaining {
			continue
		}

		for _, in := range e.Tx.Inputs {
			if _, exists := claimed[in.PrevOut]; exists {
				continue next
			}
		}

		for _, in := range e.Tx.Inputs {
			claimed[in.PrevOut] = struct{}{}
		}

		final = append(final, e)
		remaining -= e.Size
	}

	return final
}

// byFeeRate provides sorting support by the fee rate, highest first. Ties go
// to the oldest entry and then to the smaller transaction id.
type byFeeRate []Entry

// Len returns the number of entries in the list.
func (br byFeeRate) Len() int {
	return len(br)
}

// Less orders the list by fee rate in descending order.
func (br byFeeRate) Less(i, j int) bool {
	if br[i].FeeRate != br[j].FeeRate {
		return br[i].FeeRate > br[j].FeeRate
	}
	if !br[i].Added.Equal(br[j].Added) {
		return br[i].Added.Before(br[j].Added)
	}
	return br[i].ID.Compare(br[j].ID) < 0
}

// Swap moves entries in the order of the fee rate.
func (br byFeeRate) Swap(i, j int) {
	br[i], br[j] = br[j], br[i]
}

// =============================================================================

// byAge provides sorting support by admission time, oldest first.
type byAge []Entry

// Len returns the number of entries in the list.
func (ba byAge) Len() int {
	return len(ba)
}

// Less orders the list by admission time with the transaction id as the
// tie breaker.
func (ba byAge) Less(i, j int) bool {
	if !ba[i].Added.Equal(ba[j].Added) {
		return ba[i].Added.Before(ba[j].Added)
	}
	return ba[i].ID.Compare(ba[j].ID) < 0
}

// Swap moves entries in the order of admission.
func (ba byAge) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}

// sorted returns a sorted copy so the caller's slice is left alone.
func sorted(entries []Entry, less func([]Entry) sort.Interface) []Entry {
	list := make([]Entry, len(entries))
	copy(list, entries)
	sort.Sort(less(list))
	return list
}
