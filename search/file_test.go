package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ptrscan/chain_store"
	"ptrscan/process"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchToFile(t *testing.T) {
	idx := scenario(t)
	id := uuid.Must(uuid.NewV7())

	p := params(0x4000, 2)
	p.OutputPath = filepath.Join(t.TempDir(), "scan.bin")

	res, err := SearchToFile(context.Background(), idx, id, game, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	hdr, chains, err := chain_store.LoadChains(p.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, id, hdr.SnapshotID)
	assert.Equal(t, p.Target, hdr.Target)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x8->0x0", chains[0].String())
}

func TestSearchToFileUnwritable(t *testing.T) {
	p := params(0x4000, 2)
	p.OutputPath = filepath.Join(t.TempDir(), "missing", "scan.bin")

	_, err := SearchToFile(context.Background(), scenario(t), uuid.Nil, game, p)
	assert.ErrorIs(t, err, ErrOutputUnwritable)

	p.OutputPath = ""
	_, err = SearchToFile(context.Background(), scenario(t), uuid.Nil, game, p)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestSearchToFileRejectsBeforeTruncating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prev.chains")
	require.NoError(t, os.WriteFile(path, []byte("previous results"), 0o644))

	p := params(0x4000, 2)
	p.OutputPath = path

	empty := process.Module{Name: "x", Start: 5, End: 5}
	_, err := SearchToFile(context.Background(), scenario(t), uuid.Nil, empty, p)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = SearchToFile(context.Background(), scenario(t), uuid.Nil, game, p, WithOffsetWindow(8, -8))
	assert.ErrorIs(t, err, ErrInvalidParams)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous results", string(raw))
}

func TestSearchToFileCancelledKeepsFlushed(t *testing.T) {
	_, idx := memory(t,
		[]process.Module{game},
		map[uint64]int{0x1000: 0x20, 0x3000: 0x10, 0x4000: 0x10},
		map[uint64]uint64{0x1000: 0x4000, 0x1008: 0x3000, 0x3000: 0x4000},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := params(0x4000, 3)
	p.OutputPath = filepath.Join(t.TempDir(), "scan.bin")
	res, err := SearchToFile(ctx, idx, uuid.Nil, game, p, WithLevelHook(func(int, Stats) { cancel() }))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	_, chains, err := chain_store.LoadChains(p.OutputPath)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "game+0x0", chains[0].String())
}
