// Package pointer_index builds the reverse pointer map of a snapshot: for
// every pointee value, the sorted list of slot addresses holding it.
package pointer_index

import (
	"errors"
	"fmt"
	"sort"

	"ptrscan/process"
)

var (
	// ErrEmptySnapshot is returned when the snapshot carries no regions.
	ErrEmptySnapshot = errors.New("snapshot has no regions")

	// ErrIndexTooLarge is returned once the accepted entry count passes the
	// configured limit.
	ErrIndexTooLarge = errors.New("pointer index exceeds entry limit")

	// ErrMalformed is returned by FromRaw when the arrays are inconsistent.
	ErrMalformed = errors.New("malformed pointer index")
)

// PointerIndex maps pointee → holders. Keys are sorted and distinct; the
// holders of keys[i] are holders[ends[i-1]:ends[i]], ascending.
type PointerIndex struct {
	pointerSize int
	alignment   int

	keys    []process.ProcessMemoryAddress
	ends    []uint64
	holders []process.ProcessMemoryAddress

	stats Stats
}

// Stats summarises an index build.
type Stats struct {
	Entries      int
	Keys         int
	Regions      int
	BytesScanned uint64
}

// FromRaw reassembles an index from its arrays, as read back from disk.
func FromRaw(pointerSize, alignment int, keys []process.ProcessMemoryAddress, ends []uint64, holders []process.ProcessMemoryAddress) (*PointerIndex, error) {
	if len(keys) != len(ends) {
		return nil, fmt.Errorf("%w: %d keys, %d bucket ends", ErrMalformed, len(keys), len(ends))
	}
	var prev uint64
	for i, end := range ends {
		if end <= prev && i > 0 || end > uint64(len(holders)) || (i == 0 && end == 0) {
			return nil, fmt.Errorf("%w: bucket %d ends at %d", ErrMalformed, i, end)
		}
		if i > 0 && keys[i] <= keys[i-1] {
			return nil, fmt.Errorf("%w: keys not ascending at %d", ErrMalformed, i)
		}
		prev = end
	}
	if len(ends) > 0 && prev != uint64(len(holders)) {
		return nil, fmt.Errorf("%w: %d holders, buckets cover %d", ErrMalformed, len(holders), prev)
	}
	if len(ends) == 0 && len(holders) != 0 {
		return nil, fmt.Errorf("%w: holders without keys", ErrMalformed)
	}

	return &PointerIndex{
		pointerSize: pointerSize,
		alignment:   alignment,
		keys:        keys,
		ends:        ends,
		holders:     holders,
		stats:       Stats{Entries: len(holders), Keys: len(keys)},
	}, nil
}

// Raw exposes the backing arrays for serialization. They must not be modified.
func (idx *PointerIndex) Raw() (keys []process.ProcessMemoryAddress, ends []uint64, holders []process.ProcessMemoryAddress) {
	return idx.keys, idx.ends, idx.holders
}

func (idx *PointerIndex) PointerSize() int {
	return idx.pointerSize
}

func (idx *PointerIndex) Alignment() int {
	return idx.alignment
}

// Len is the number of (holder, pointee) entries.
func (idx *PointerIndex) Len() int {
	return len(idx.holders)
}

// KeyCount is the number of distinct pointees.
func (idx *PointerIndex) KeyCount() int {
	return len(idx.keys)
}

func (idx *PointerIndex) Stats() Stats {
	return idx.stats
}

func (idx *PointerIndex) bucket(i int) []process.ProcessMemoryAddress {
	var start uint64
	if i > 0 {
		start = idx.ends[i-1]
	}
	return idx.holders[start:idx.ends[i]]
}

// Holders returns the ascending slot addresses whose value equals pointee.
// The slice is shared with the index.
func (idx *PointerIndex) Holders(pointee process.ProcessMemoryAddress) []process.ProcessMemoryAddress {
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= pointee })
	if i < len(idx.keys) && idx.keys[i] == pointee {
		return idx.bucket(i)
	}
	return nil
}

// ForEachInRange calls fn for every pointee in [lo, hi] in ascending order,
// stopping early when fn returns false.
func (idx *PointerIndex) ForEachInRange(lo, hi process.ProcessMemoryAddress, fn func(pointee process.ProcessMemoryAddress, holders []process.ProcessMemoryAddress) bool) {
	if hi < lo {
		return
	}
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= lo })
	for ; i < len(idx.keys) && idx.keys[i] <= hi; i++ {
		if !fn(idx.keys[i], idx.bucket(i)) {
			return
		}
	}
}

// ForEach visits every entry ordered by pointee then holder.
func (idx *PointerIndex) ForEach(fn func(holder, pointee process.ProcessMemoryAddress) bool) {
	for i, key := range idx.keys {
		for _, h := range idx.bucket(i) {
			if !fn(h, key) {
				return
			}
		}
	}
}
