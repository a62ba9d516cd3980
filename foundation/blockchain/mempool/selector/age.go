package selector

import "sort"

// ageSelect returns the entries in the order they were admitted. A large
// entry that no longer fits is skipped so smaller later ones can still be
// included.
var ageSelect = func(entries []Entry, maxBytes int) []Entry {
	list := sorted(entries, func(l []Entry) sort.Interface { return byAge(l) })
	return fill(list, maxBytes)
}
