package chain

import (
	"fmt"
	"sync/atomic"

	"ptrscan/process"

	lru "github.com/hashicorp/golang-lru"
)

// PointerReader is anything that can read a pointer: a snapshot or a live process.
type PointerReader interface {
	ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error)
}

// Resolve follows c through r and returns the final dereferenced value.
func Resolve(r PointerReader, c Chain) (process.ProcessMemoryAddress, error) {
	v, err := r.ReadPOINTER(c.Base())
	if err != nil {
		return 0, fmt.Errorf("base 0x%x: %w", uint64(c.Base()), err)
	}
	for i, off := range c.Offsets {
		if v == 0 {
			return 0, fmt.Errorf("hop %d: %w", i+1, process.ErrInvalidPointer)
		}
		slot := process.ProcessMemoryAddress(int64(v) + off)
		v, err = r.ReadPOINTER(slot)
		if err != nil {
			return 0, fmt.Errorf("hop %d at 0x%x: %w", i+1, uint64(slot), err)
		}
	}
	return v, nil
}

// CachedReader memoizes pointer reads of a slow reader. Chains from one scan
// share long prefixes, so verifying them against a live process re-reads the
// same slots many times.
type CachedReader struct {
	inner  PointerReader
	cache  *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedReader wraps r with an LRU cache of size entries.
func NewCachedReader(r PointerReader, size int) (*CachedReader, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("pointer cache: %w", err)
	}
	return &CachedReader{inner: r, cache: cache}, nil
}

func (c *CachedReader) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	if v, ok := c.cache.Get(addr); ok {
		c.hits.Add(1)
		return v.(process.ProcessMemoryAddress), nil
	}
	c.misses.Add(1)

	v, err := c.inner.ReadPOINTER(addr)
	if err != nil {
		return 0, err
	}
	c.cache.Add(addr, v)
	return v, nil
}

// Stats returns the cache hit and miss counts.
func (c *CachedReader) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
