// Package tally holds per-block-id counts and the additive merge that combines them.
package tally

import "sort"

// Aggregate maps a block id to the number of times it was seen
type Aggregate map[string]uint64

// Entry is one row of an Aggregate in display order
type Entry struct {
	ID    string
	Count uint64
}

// New returns an empty Aggregate
func New() Aggregate {
	return make(Aggregate)
}

// Merge returns a new Aggregate holding a[k]+b[k] for every key of either input.
// Neither input is modified.
func Merge(a, b Aggregate) Aggregate {
	out := make(Aggregate, max(len(a), len(b)))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

// Add folds other into a. Only call it on an Aggregate nobody else can observe.
func (a Aggregate) Add(other Aggregate) {
	for k, v := range other {
		a[k] += v
	}
}

// Inc counts n more occurrences of id
func (a Aggregate) Inc(id string, n uint64) {
	a[id] += n
}

// Total is the sum of all counts
func (a Aggregate) Total() uint64 {
	var total uint64
	for _, v := range a {
		total += v
	}
	return total
}

// Clone returns an independent copy
func (a Aggregate) Clone() Aggregate {
	out := make(Aggregate, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Entries returns the counts sorted by count descending, then id ascending
func (a Aggregate) Entries() []Entry {
	entries := make([]Entry, 0, len(a))
	for k, v := range a {
		entries = append(entries, Entry{ID: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}
