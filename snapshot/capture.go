package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"ptrscan/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "snapshot"))

// Capture copies every readable region of src into a new snapshot. Regions
// that cannot be read or exceed the size cap are skipped and counted. A
// process that vanishes mid-capture fails the whole capture.
func Capture(ctx context.Context, src process.MemorySource, opts ...Option) (*Snapshot, error) {
	cfg := newSettings(opts)

	modules, err := src.EnumerateModules()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate modules: %w", process.ErrProcessUnavailable, err)
	}

	ranges, err := src.EnumerateReadableRegions()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate regions: %w", process.ErrProcessUnavailable, err)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	captured := make([]*Region, len(ranges))
	var skipped, oversized atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, r := range ranges {
		size := r.Size()
		if size == 0 {
			continue
		}
		if uint64(size) > cfg.maxRegionSize {
			log.Debugln("skipping oversized", r, humanize.Bytes(uint64(size)))
			skipped.Add(1)
			oversized.Add(1)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			data, err := src.ReadMemory(r.Start, size)
			if err != nil {
				if errors.Is(err, process.ErrNoSuchProcess) {
					return fmt.Errorf("%w: %w", process.ErrProcessUnavailable, err)
				}
				log.Debugln("skipping unreadable", r, err)
				skipped.Add(1)
				return nil
			}
			if len(data) != int(size) {
				log.Debugln("skipping short read", r, len(data))
				skipped.Add(1)
				return nil
			}

			region := NewRegion(r.Start, data)
			captured[i] = &region
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	regions := make([]Region, 0, len(captured))
	for _, r := range captured {
		if r != nil {
			regions = append(regions, *r)
		}
	}
	if len(regions) == 0 && oversized.Load() > 0 && oversized.Load() == skipped.Load() {
		return nil, fmt.Errorf("%w: %d regions over %s", ErrRegionsTooLarge, oversized.Load(), humanize.Bytes(cfg.maxRegionSize))
	}
	if len(regions) == 0 && len(ranges) > 0 {
		return nil, fmt.Errorf("%w: none of %d regions could be read", process.ErrProcessUnavailable, len(ranges))
	}

	snap, err := New(regions, dropOverlapping(modules), opts...)
	if err != nil {
		return nil, err
	}
	snap.skipped = int(skipped.Load())

	if snap.skipped > 0 {
		log.Warn(fmt.Sprintf("skipped %d of %d regions", snap.skipped, len(ranges)))
	}
	log.Infoln("captured", len(regions), "regions,", humanize.Bytes(snap.TotalBytes()), "across", len(snap.modules), "modules")

	return snap, nil
}

// dropOverlapping removes empty modules and those overlapping an earlier one.
func dropOverlapping(modules []process.Module) []process.Module {
	ms := make([]process.Module, 0, len(modules))
	for _, m := range modules {
		if m.Valid() {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Start < ms[j].Start })

	result := ms[:0]
	for _, m := range ms {
		if n := len(result); n > 0 && m.Start < result[n-1].End {
			continue
		}
		result = append(result, m)
	}
	return result
}
