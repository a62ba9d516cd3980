package selector

import "sort"

// feeRateSelect returns the entries paying the most per byte that fit in the
// block, skipping any entry that conflicts with one already picked.
var feeRateSelect = func(entries []Entry, maxBytes int) []Entry {
	list := sorted(entries, func(l []Entry) sort.Interface { return byFeeRate(l) })
	return fill(list, maxBytes)
}
