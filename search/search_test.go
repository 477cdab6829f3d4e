package search

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"ptrscan/chain"
	"ptrscan/pointer_index"
	"ptrscan/process"
	"ptrscan/snapshot"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var game = process.Module{Name: "game", Start: 0x1000, End: 0x2000}

// memory lays out regions of the given sizes and writes pointer words into them.
func memory(t *testing.T, modules []process.Module, spans map[uint64]int, words map[uint64]uint64) (*snapshot.Snapshot, *pointer_index.PointerIndex) {
	t.Helper()

	var regions []snapshot.Region
	for start, size := range spans {
		data := make([]byte, size)
		for addr, v := range words {
			if addr >= start && addr+8 <= start+uint64(size) {
				binary.LittleEndian.PutUint64(data[addr-start:], v)
			}
		}
		regions = append(regions, snapshot.NewRegion(process.ProcessMemoryAddress(start), data))
	}

	snap, err := snapshot.New(regions, modules)
	require.NoError(t, err)
	idx, err := pointer_index.Build(context.Background(), snap)
	require.NoError(t, err)
	return snap, idx
}

func params(target uint64, depth int) Params {
	return Params{
		Target:      process.ProcessMemoryAddress(target),
		MaxDepth:    depth,
		MaxOffset:   0x100,
		ThreadCount: 4,
		NodeBudget:  1 << 16,
	}
}

func scenario(t *testing.T) *pointer_index.PointerIndex {
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x3000: 0x10, 0x4000: 0x10},
		map[uint64]uint64{0x1008: 0x3000, 0x3000: 0x4000},
	)
	return idx
}

func TestScenarios(t *testing.T) {
	Convey("Given a module slot two hops from the target", t, func() {
		idx := scenario(t)
		ctx := context.Background()

		Convey("max depth 2 finds exactly the one chain", func() {
			chains, res, err := Collect(ctx, idx, game, params(0x4000, 2))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomeCompleted)
			So(chains, ShouldHaveLength, 1)
			So(chains[0].Module, ShouldResemble, game)
			So(chains[0].BaseOffset, ShouldEqual, uint64(0x8))
			So(chains[0].Offsets, ShouldResemble, []int64{0})
			So(res.Stats.Chains, ShouldEqual, int64(1))
		})

		Convey("max depth 1 finds nothing", func() {
			chains, res, err := Collect(ctx, idx, game, params(0x4000, 1))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomeCompleted)
			So(chains, ShouldBeEmpty)
		})

		Convey("a zero node budget finds nothing without error", func() {
			p := params(0x4000, 2)
			p.NodeBudget = 0
			chains, res, err := Collect(ctx, idx, game, p)
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, OutcomeCompleted)
			So(chains, ShouldBeEmpty)
		})

		Convey("a wide window still yields the single chain", func() {
			p := params(0x4000, 3)
			p.MaxOffset = 0x4000
			chains, _, err := Collect(ctx, idx, game, p)
			So(err, ShouldBeNil)
			So(chains, ShouldHaveLength, 1)
			So(chains[0].String(), ShouldEqual, "game+0x8->0x0")
		})
	})
}

func TestInvalidParams(t *testing.T) {
	idx := scenario(t)
	for name, mutate := range map[string]func(*Params){
		"depth":   func(p *Params) { p.MaxDepth = 0 },
		"offset":  func(p *Params) { p.MaxOffset = -1 },
		"threads": func(p *Params) { p.ThreadCount = 0 },
		"budget":  func(p *Params) { p.NodeBudget = -1 },
	} {
		p := params(0x4000, 2)
		mutate(&p)
		_, _, err := Collect(context.Background(), idx, game, p)
		assert.ErrorIs(t, err, ErrInvalidParams, name)
	}

	_, _, err := Collect(context.Background(), idx, process.Module{Name: "empty", Start: 5, End: 5}, params(0x4000, 2))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, _, err = Collect(context.Background(), idx, game, params(0x4000, 2), WithOffsetWindow(8, -8))
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestOffsetsAndWindow(t *testing.T) {
	// game+0x10 -> 0x5000, the object at 0x5000 has a field at +0x18 that
	// points at the target's holder region
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x5000: 0x40, 0x6000: 0x10},
		map[uint64]uint64{0x1010: 0x5000, 0x5018: 0x6000},
	)

	chains, _, err := Collect(context.Background(), idx, game, params(0x6000, 2))
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x10->0x18", chains[0].String())

	chains, _, err = Collect(context.Background(), idx, game, params(0x6000, 2), WithOffsetWindow(-0x100, 0x10))
	require.NoError(t, err)
	assert.Empty(t, chains, "offset 0x18 outside window")
}

// slotsOf follows c through snap and returns every slot it reads and the
// final value.
func slotsOf(t *testing.T, snap *snapshot.Snapshot, c chain.Chain) ([]process.ProcessMemoryAddress, process.ProcessMemoryAddress) {
	t.Helper()
	slots := []process.ProcessMemoryAddress{c.Base()}
	v, err := snap.ReadPOINTER(c.Base())
	require.NoError(t, err)
	for _, off := range c.Offsets {
		slot := process.ProcessMemoryAddress(int64(v) + off)
		slots = append(slots, slot)
		v, err = snap.ReadPOINTER(slot)
		require.NoError(t, err)
	}
	return slots, v
}

func TestCyclesAreNotFollowed(t *testing.T) {
	// 0x3000 points at itself and 0x3010 points back into the cycle
	snap, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x3000: 0x20},
		map[uint64]uint64{0x1008: 0x3000, 0x3000: 0x3000, 0x3008: 0x3000, 0x3010: 0x3008},
	)

	p := params(0x3000, 4)
	p.MaxOffset = 0x8
	chains, res, err := Collect(context.Background(), idx, game, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	var got []string
	for _, c := range chains {
		got = append(got, c.String())
		assert.LessOrEqual(t, c.Hops(), p.MaxDepth)

		slots, v := slotsOf(t, snap, c)
		assert.Equal(t, p.Target, v, c.String())
		seen := map[process.ProcessMemoryAddress]bool{}
		for _, slot := range slots {
			assert.False(t, seen[slot], "%s reads 0x%x twice", c, uint64(slot))
			seen[slot] = true
		}
	}
	assert.Subset(t, got, []string{"game+0x8", "game+0x8->0x8", "game+0x8->0x0"})
}

func TestSlotHoldingTargetItself(t *testing.T) {
	// *(game+0x10) == game+0x10
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20},
		map[uint64]uint64{0x1010: 0x1010},
	)

	chains, _, err := Collect(context.Background(), idx, game, params(0x1010, 1))
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x10", chains[0].String())
}

func randomGraph(t *testing.T, seed int64) (*snapshot.Snapshot, *pointer_index.PointerIndex, uint64) {
	rng := rand.New(rand.NewSource(seed))
	words := map[uint64]uint64{}
	heap := uint64(0x10000)

	for i := 0; i < 0x400; i++ {
		slot := heap + uint64(rng.Intn(0x2000))&^7
		words[slot] = heap + uint64(rng.Intn(0x2000))&^7
	}
	for i := 0; i < 0x40; i++ {
		slot := 0x1000 + uint64(rng.Intn(0x1000))&^7
		words[slot] = heap + uint64(rng.Intn(0x2000))&^7
	}

	target := heap + 0x800
	words[heap+0x100] = target
	words[heap+0x1800] = target
	words[0x1100] = heap + 0xf0

	snap, idx := memory(t, []process.Module{game}, map[uint64]int{0x1000: 0x1000, heap: 0x2000}, words)
	return snap, idx, target
}

func TestChainsResolveToTarget(t *testing.T) {
	snap, idx, target := randomGraph(t, 7)

	p := params(target, 4)
	p.MaxOffset = 0x40
	chains, res, err := Collect(context.Background(), idx, game, p)
	require.NoError(t, err)
	require.NotEmpty(t, chains)
	assert.EqualValues(t, len(chains), res.Stats.Chains)

	for _, c := range chains {
		assert.LessOrEqual(t, len(c.Offsets), p.MaxDepth)
		v, err := chain.Resolve(snap, c)
		require.NoError(t, err, c.String())
		assert.Equal(t, p.Target, v, c.String())
	}
}

func TestIdempotentAcrossThreadCounts(t *testing.T) {
	_, idx, target := randomGraph(t, 11)

	run := func(threads, budget int) []string {
		p := params(target, 4)
		p.MaxOffset = 0x40
		p.ThreadCount = threads
		p.NodeBudget = budget
		chains, _, err := Collect(context.Background(), idx, game, p)
		require.NoError(t, err)
		var out []string
		for _, c := range chains {
			out = append(out, c.String())
		}
		return out
	}

	assert.ElementsMatch(t, run(1, 1<<16), run(8, 1<<16))
	assert.ElementsMatch(t, run(1, 1<<16), run(1, 1<<16))

	// truncation keeps the same candidates whatever the split
	assert.Equal(t, run(1, 16), run(3, 16))
}

func TestBudgetPrefersSmallOffsets(t *testing.T) {
	// three module slots reach the target's holder through offsets 0, 8 and 0x20
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x3000: 0x40, 0x4000: 0x10},
		map[uint64]uint64{0x3020: 0x4000, 0x1000: 0x3020, 0x1008: 0x3018, 0x1010: 0x3000},
	)

	p := params(0x4000, 2)
	p.NodeBudget = 1
	chains, _, err := Collect(context.Background(), idx, game, p)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x0->0x0", chains[0].String())

	p.NodeBudget = 2
	chains, res, err := Collect(context.Background(), idx, game, p)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "game+0x0->0x0", chains[0].String())
	assert.Equal(t, "game+0x8->0x8", chains[1].String())
	assert.Equal(t, int64(1), res.Stats.Truncated)

	p.NodeBudget = 3
	chains, _, err = Collect(context.Background(), idx, game, p)
	require.NoError(t, err)
	assert.Len(t, chains, 3)
}

func TestCancellationKeepsEarlierChains(t *testing.T) {
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x3000: 0x10, 0x4000: 0x10},
		map[uint64]uint64{0x1000: 0x4000, 0x1008: 0x3000, 0x3000: 0x4000},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var levels []int
	chains, res, err := Collect(ctx, idx, game, params(0x4000, 3), WithLevelHook(func(level int, stats Stats) {
		levels = append(levels, level)
		cancel()
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, []int{1}, levels)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x0", chains[0].String())
}

func TestSinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	_, err := Search(context.Background(), scenario(t), game, params(0x4000, 2), SinkFunc(func(chain.Chain) error {
		return boom
	}))
	assert.ErrorIs(t, err, ErrOutputUnwritable)
	assert.ErrorIs(t, err, boom)
}

func TestShift(t *testing.T) {
	assert.Equal(t, process.ProcessMemoryAddress(0), shift(0x10, 0x20))
	assert.Equal(t, process.ProcessMemoryAddress(0x8), shift(0x10, 0x8))
	assert.Equal(t, process.ProcessMemoryAddress(0x18), shift(0x10, -0x8))
	assert.Equal(t, process.ProcessMemoryAddress(^uint64(0)), shift(^process.ProcessMemoryAddress(0)-1, -0x10))
}
