package pointer_index

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	"ptrscan/process"
	"ptrscan/snapshot"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorTeal, coloransi.ColorOrange, "pointer-index"))

// slots scanned between cancellation checks and counter flushes
const flushEvery = 1 << 14

type builder struct {
	alignment  int
	maxEntries int64
	workers    int
}

// Option configures Build.
type Option func(*builder)

// WithAlignment sets the slot stride. Zero keeps the pointer width.
func WithAlignment(n int) Option {
	return func(b *builder) {
		b.alignment = n
	}
}

// WithMaxEntries fails the build with ErrIndexTooLarge once more than n
// entries have been accepted. Zero disables the limit.
func WithMaxEntries(n int64) Option {
	return func(b *builder) {
		b.maxEntries = n
	}
}

// WithWorkers bounds the number of regions scanned concurrently.
func WithWorkers(n int) Option {
	return func(b *builder) {
		b.workers = n
	}
}

type entry struct {
	pointee process.ProcessMemoryAddress
	holder  process.ProcessMemoryAddress
}

// Build scans every aligned slot of every region in snap and records the
// slots whose value is a valid address of the snapshot.
func Build(ctx context.Context, snap *snapshot.Snapshot, opts ...Option) (*PointerIndex, error) {
	b := builder{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&b)
	}
	if b.alignment <= 0 {
		b.alignment = snap.PointerSize()
	}
	if b.workers <= 0 {
		b.workers = 1
	}

	regions := snap.Regions()
	if len(regions) == 0 {
		return nil, ErrEmptySnapshot
	}

	partials := make([][]entry, len(regions))
	var accepted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range regions {
		g.Go(func() error {
			found, err := b.scanRegion(gctx, snap, &regions[i], &accepted)
			if err != nil {
				return err
			}
			partials[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, p := range partials {
		total += len(p)
	}
	entries := make([]entry, 0, total)
	for _, p := range partials {
		entries = append(entries, p...)
	}
	slices.SortFunc(entries, func(x, y entry) int {
		if c := cmp.Compare(x.pointee, y.pointee); c != 0 {
			return c
		}
		return cmp.Compare(x.holder, y.holder)
	})

	idx := &PointerIndex{
		pointerSize: snap.PointerSize(),
		alignment:   b.alignment,
		holders:     make([]process.ProcessMemoryAddress, len(entries)),
	}
	for i, e := range entries {
		idx.holders[i] = e.holder
		if n := len(idx.keys); n == 0 || idx.keys[n-1] != e.pointee {
			if n > 0 {
				idx.ends[n-1] = uint64(i)
			}
			idx.keys = append(idx.keys, e.pointee)
			idx.ends = append(idx.ends, 0)
		}
	}
	if n := len(idx.ends); n > 0 {
		idx.ends[n-1] = uint64(len(entries))
	}

	idx.stats = Stats{
		Entries:      len(entries),
		Keys:         len(idx.keys),
		Regions:      len(regions),
		BytesScanned: snap.TotalBytes(),
	}
	log.Infoln("indexed", humanize.Comma(int64(idx.stats.Entries)), "pointers to",
		humanize.Comma(int64(idx.stats.Keys)), "targets from", humanize.Bytes(idx.stats.BytesScanned))

	return idx, nil
}

func (b *builder) scanRegion(ctx context.Context, snap *snapshot.Snapshot, r *snapshot.Region, accepted *atomic.Int64) ([]entry, error) {
	ptrSize := snap.PointerSize()
	align := uint64(b.alignment)

	start := uint64(r.Start)
	if rem := start % align; rem != 0 {
		start += align - rem
	}

	var found []entry
	var pending int64
	flush := func() error {
		if pending == 0 {
			return nil
		}
		n := accepted.Add(pending)
		pending = 0
		if b.maxEntries > 0 && n > b.maxEntries {
			return fmt.Errorf("%w: more than %s entries", ErrIndexTooLarge, humanize.Comma(b.maxEntries))
		}
		return nil
	}

	slot := 0
	for addr := start; addr+uint64(ptrSize) <= uint64(r.End); addr += align {
		off := addr - uint64(r.Start)
		v := process.ProcessMemoryAddress(snapshot.DecodePointer(r.Data[off:off+uint64(ptrSize)], ptrSize))
		if snap.IsValidAddress(v) {
			found = append(found, entry{pointee: v, holder: process.ProcessMemoryAddress(addr)})
			pending++
		}

		slot++
		if slot%flushEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return found, nil
}
