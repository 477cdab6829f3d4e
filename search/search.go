// Package search walks the reverse pointer graph backward from a target
// address and reports every bounded chain rooted in a chosen module.
package search

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"ptrscan/chain"
	"ptrscan/pointer_index"
	"ptrscan/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.ColorOrange, "chain-search"))

// frontier nodes visited between cancellation checks
const checkEvery = 256

// Searcher holds the tuning that Params does not carry.
type Searcher struct {
	// offsets accepted at every hop past the first, inclusive
	MinOffset int64
	MaxOffset int64

	windowSet bool
	onLevel   func(level int, stats Stats)
}

// Option is a function that configures a Searcher
type Option func(*Searcher)

// WithOffsetWindow accepts hop offsets in [min, max] instead of the
// symmetric [-MaxOffset, MaxOffset]. Use min = 0 to allow forward struct
// field offsets only.
func WithOffsetWindow(min, max int64) Option {
	return func(s *Searcher) {
		s.MinOffset = min
		s.MaxOffset = max
		s.windowSet = true
	}
}

// WithLevelHook calls fn after every level has been expanded and emitted.
func WithLevelHook(fn func(level int, stats Stats)) Option {
	return func(s *Searcher) {
		s.onLevel = fn
	}
}

// configure checks params, module and the offset window together so that
// callers can reject a search before touching any output.
func configure(module process.Module, params Params, options []Option) (*Searcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !module.Valid() {
		return nil, fmt.Errorf("%w: module %s is empty", ErrInvalidParams, module)
	}

	cfg := &Searcher{MinOffset: -params.MaxOffset, MaxOffset: params.MaxOffset}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.MinOffset > cfg.MaxOffset {
		return nil, fmt.Errorf("%w: offset window [%d, %d]", ErrInvalidParams, cfg.MinOffset, cfg.MaxOffset)
	}
	return cfg, nil
}

type engine struct {
	idx    *pointer_index.PointerIndex
	module process.Module
	params Params
	cfg    *Searcher
	sink   Sink

	expanded atomic.Int64
	offered  atomic.Int64
	kept     atomic.Int64
}

// Search runs a level-synchronous backward search from params.Target and
// hands every chain rooted in module to sink. The first hop matches the
// target exactly; later hops accept any pointee within the offset window of
// the slot being reached. Each level keeps at most params.NodeBudget
// candidates, so results are best-effort, not exhaustive, once the budget
// bites. Cancelling ctx stops the search at the next level boundary with
// OutcomeCancelled and a nil error.
func Search(ctx context.Context, idx *pointer_index.PointerIndex, module process.Module, params Params, sink Sink, options ...Option) (Result, error) {
	cfg, err := configure(module, params, options)
	if err != nil {
		return Result{}, err
	}

	e := &engine{idx: idx, module: module, params: params, cfg: cfg, sink: sink}
	res, err := e.run(ctx)

	log.Infoln("search for", params.Target.ToString(), "in", module.Name, res.Outcome,
		"chains:", humanize.Comma(res.Stats.Chains), "expanded:", humanize.Comma(res.Stats.Expanded))
	return res, err
}

func (e *engine) run(ctx context.Context) (Result, error) {
	var res Result

	levels := [][]node{{{slot: e.params.Target, parent: -1}}}
	for level := 1; level <= e.params.MaxDepth; level++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			break
		}

		frontier := levels[level-1]
		if len(frontier) == 0 {
			break
		}

		// the final dereference must land on the target itself
		lo, hi := e.cfg.MinOffset, e.cfg.MaxOffset
		if level == 1 {
			lo, hi = 0, 0
		}

		candidates, err := e.expand(ctx, levels, lo, hi)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				break
			}
			return res, err
		}

		var next []node
		for _, c := range candidates {
			if !e.module.Contains(c.slot) {
				if level < e.params.MaxDepth {
					next = append(next, c)
				}
				continue
			}
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				break
			}
			if err := e.sink.Emit(e.chainFor(levels, c)); err != nil {
				return res, fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
			}
			res.Stats.Chains++
		}
		if err := e.flush(); err != nil {
			return res, err
		}
		if res.Outcome == OutcomeCancelled {
			break
		}

		levels = append(levels, next)
		res.Stats.Levels = level
		res.Stats.Expanded = e.expanded.Load()
		res.Stats.Truncated = e.offered.Load() - e.kept.Load()

		log.Debugln("level", level, "frontier", humanize.Comma(int64(len(next))), "chains", humanize.Comma(res.Stats.Chains))
		if e.cfg.onLevel != nil {
			e.cfg.onLevel(level, res.Stats)
		}
	}

	res.Stats.Expanded = e.expanded.Load()
	if err := e.flush(); err != nil {
		return res, err
	}
	return res, nil
}

func (e *engine) flush() error {
	if f, ok := e.sink.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
		}
	}
	return nil
}

// expand computes the next level from the last one in levels. The frontier
// is split across workers by slot hash; each keeps its best NodeBudget
// candidates and the merged set is cut to NodeBudget again, so the survivors
// do not depend on the worker count.
func (e *engine) expand(ctx context.Context, levels [][]node, lo, hi int64) ([]node, error) {
	frontier := levels[len(levels)-1]
	workers := min(e.params.ThreadCount, len(frontier))

	heaps := make([]*boundedHeap, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			h := &boundedHeap{limit: e.params.NodeBudget}
			var seen, expanded, offered int64
			defer func() {
				e.expanded.Add(expanded)
				e.offered.Add(offered)
			}()
			for i, n := range frontier {
				if partition(n.slot, workers) != w {
					continue
				}
				seen++
				if seen%checkEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}

				// *p + off == n.slot with off in [lo, hi]
				from, to := shift(n.slot, hi), shift(n.slot, lo)
				e.idx.ForEachInRange(from, to, func(p process.ProcessMemoryAddress, holders []process.ProcessMemoryAddress) bool {
					off := int64(n.slot - p)
					for _, holder := range holders {
						expanded++
						if onPath(levels, i, holder) {
							continue
						}
						offered++
						h.offer(node{slot: holder, off: off, parent: i})
					}
					return true
				})
			}
			heaps[w] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []node
	for _, h := range heaps {
		merged = append(merged, h.items...)
	}
	slices.SortFunc(merged, compareNodes)
	if len(merged) > e.params.NodeBudget {
		merged = merged[:e.params.NodeBudget]
	}
	e.kept.Add(int64(len(merged)))

	return merged, nil
}

// onPath reports whether addr is already a slot on the path ending at
// levels[last][parent]. The target at level zero is a value, not a slot, so
// the walk stops at level one.
func onPath(levels [][]node, parent int, addr process.ProcessMemoryAddress) bool {
	for l := len(levels) - 1; l >= 1 && parent >= 0; l-- {
		n := levels[l][parent]
		if n.slot == addr {
			return true
		}
		parent = n.parent
	}
	return false
}

// chainFor builds the chain for a terminal candidate whose parent lies in
// the last level. Offsets are listed base first, closest-to-target last.
func (e *engine) chainFor(levels [][]node, c node) chain.Chain {
	ch := chain.Chain{
		Module:     e.module,
		BaseOffset: uint64(c.slot - e.module.Start),
	}

	n := c
	for l := len(levels) - 1; l >= 1; l-- {
		ch.Offsets = append(ch.Offsets, n.off)
		n = levels[l][n.parent]
	}
	return ch
}

func partition(addr process.ProcessMemoryAddress, workers int) int {
	h := uint64(addr) * 0x9E3779B97F4A7C15
	return int((h >> 32) % uint64(workers))
}

// shift returns addr - d clamped to the address space.
func shift(addr process.ProcessMemoryAddress, d int64) process.ProcessMemoryAddress {
	if d >= 0 {
		if uint64(d) > uint64(addr) {
			return 0
		}
		return addr - process.ProcessMemoryAddress(d)
	}
	up := uint64(-d)
	if d == math.MinInt64 || uint64(addr) > math.MaxUint64-up {
		return math.MaxUint64
	}
	return addr + process.ProcessMemoryAddress(up)
}

// Collect runs Search and returns every chain found.
func Collect(ctx context.Context, idx *pointer_index.PointerIndex, module process.Module, params Params, options ...Option) ([]chain.Chain, Result, error) {
	sink := &sliceSink{}
	res, err := Search(ctx, idx, module, params, sink, options...)
	return sink.chains, res, err
}
