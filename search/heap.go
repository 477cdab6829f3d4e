package search

import (
	"cmp"
	"container/heap"

	"ptrscan/process"
)

// node is one slot on a backward path. parent indexes the previous level;
// off satisfies *slot + off == parent slot.
type node struct {
	slot   process.ProcessMemoryAddress
	off    int64
	parent int
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// compareNodes is the truncation order: smallest offset magnitude first,
// then slot address, then parent rank.
func compareNodes(a, b node) int {
	if c := cmp.Compare(abs(a.off), abs(b.off)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.slot, b.slot); c != 0 {
		return c
	}
	return cmp.Compare(a.parent, b.parent)
}

// boundedHeap keeps the limit smallest nodes offered to it. It is a max-heap
// so the worst kept node is always on top.
type boundedHeap struct {
	limit int
	items []node
}

func (h *boundedHeap) Len() int           { return len(h.items) }
func (h *boundedHeap) Less(i, j int) bool { return compareNodes(h.items[i], h.items[j]) > 0 }
func (h *boundedHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *boundedHeap) Push(x any)         { h.items = append(h.items, x.(node)) }
func (h *boundedHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

func (h *boundedHeap) offer(n node) {
	if h.limit <= 0 {
		return
	}
	if len(h.items) < h.limit {
		heap.Push(h, n)
		return
	}
	if compareNodes(n, h.items[0]) < 0 {
		h.items[0] = n
		heap.Fix(h, 0)
	}
}
