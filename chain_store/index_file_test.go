package chain_store

import (
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"ptrscan/pointer_index"
	"ptrscan/process"
	"ptrscan/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) (*snapshot.Snapshot, *pointer_index.PointerIndex) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))

	heap := make([]byte, 0x1000)
	for off := 0; off < len(heap); off += 8 {
		binary.LittleEndian.PutUint64(heap[off:], 0x10000+uint64(rng.Intn(0x1000)))
	}
	image := make([]byte, 0x100)
	binary.LittleEndian.PutUint64(image[0x10:], 0x10040)

	snap, err := snapshot.New(
		[]snapshot.Region{snapshot.NewRegion(0x1000, image), snapshot.NewRegion(0x10000, heap)},
		[]process.Module{{Name: "game", Start: 0x1000, End: 0x2000}, {Name: "libc.so.6", Start: 0x8000, End: 0x9000}},
	)
	require.NoError(t, err)
	idx, err := pointer_index.Build(context.Background(), snap)
	require.NoError(t, err)
	return snap, idx
}

func assertSameIndex(t *testing.T, snap *snapshot.Snapshot, idx *pointer_index.PointerIndex, snap2 *snapshot.Snapshot, idx2 *pointer_index.PointerIndex) {
	t.Helper()
	assert.Equal(t, snap.ID, snap2.ID)
	assert.Equal(t, snap.PointerSize(), snap2.PointerSize())
	assert.Equal(t, snap.Modules(), snap2.Modules())
	assert.Equal(t, snap.Regions(), snap2.Regions())

	k1, e1, h1 := idx.Raw()
	k2, e2, h2 := idx2.Raw()
	assert.Equal(t, k1, k2)
	assert.Equal(t, e1, e2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, idx.Alignment(), idx2.Alignment())
}

func TestIndexRoundTrip(t *testing.T) {
	snap, idx := buildSample(t)

	for name, opts := range map[string][]SaveOption{
		"plain": nil,
		"zstd":  {WithCompression(true)},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dump.idx")
			require.NoError(t, SaveIndex(path, snap, idx, opts...))

			snap2, idx2, err := LoadIndex(path)
			require.NoError(t, err)
			assertSameIndex(t, snap, idx, snap2, idx2)
		})
	}
}

func TestIndexCompressionShrinks(t *testing.T) {
	snap, idx := buildSample(t)
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.idx")
	packed := filepath.Join(dir, "packed.idx")
	require.NoError(t, SaveIndex(plain, snap, idx))
	require.NoError(t, SaveIndex(packed, snap, idx, WithCompression(true)))

	a, err := os.Stat(plain)
	require.NoError(t, err)
	b, err := os.Stat(packed)
	require.NoError(t, err)
	assert.Less(t, b.Size(), a.Size())
}

func TestIndexRoundTripWideAlignment(t *testing.T) {
	snap, _ := buildSample(t)
	idx, err := pointer_index.Build(context.Background(), snap, pointer_index.WithAlignment(256))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "wide.idx")
	require.NoError(t, SaveIndex(path, snap, idx))
	snap2, idx2, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 256, idx2.Alignment())
	assertSameIndex(t, snap, idx, snap2, idx2)
}

func TestIndexCorruption(t *testing.T) {
	snap, idx := buildSample(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.idx")
	require.NoError(t, SaveIndex(path, snap, idx))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	corrupt := func(name string, mutate func([]byte) []byte) {
		t.Run(name, func(t *testing.T) {
			bad := mutate(append([]byte(nil), raw...))
			p := filepath.Join(dir, name+".idx")
			require.NoError(t, os.WriteFile(p, bad, 0o644))
			_, _, err := LoadIndex(p)
			assert.ErrorIs(t, err, ErrCorruptFile)
		})
	}

	corrupt("magic", func(b []byte) []byte { b[3] = 'Z'; return b })
	corrupt("version", func(b []byte) []byte { b[8] = 0xff; return b })
	corrupt("header", func(b []byte) []byte { b[30] ^= 1; return b })
	corrupt("body", func(b []byte) []byte { b[indexHeaderSize+100] ^= 1; return b })
	corrupt("truncated", func(b []byte) []byte { return b[:len(b)-10] })
	corrupt("empty", func(b []byte) []byte { return b[:0] })
}

func TestLoadIndexMissing(t *testing.T) {
	_, _, err := LoadIndex(filepath.Join(t.TempDir(), "none.idx"))
	assert.ErrorIs(t, err, ErrIO)
}
