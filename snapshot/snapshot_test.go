package snapshot

import (
	"encoding/binary"
	"testing"

	"ptrscan/process"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrBytes(values ...uint64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[i*8:], v)
	}
	return b
}

func TestNewSortsAndValidates(t *testing.T) {
	snap, err := New(
		[]Region{
			NewRegion(0x2000, ptrBytes(0x1000)),
			NewRegion(0x1000, ptrBytes(0x2000, 0)),
		},
		[]process.Module{{Name: "game", Start: 0x1000, End: 0x1010}},
	)
	require.NoError(t, err)

	regions := snap.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, process.ProcessMemoryAddress(0x1000), regions[0].Start)
	assert.Equal(t, 8, snap.PointerSize())
	assert.NotEqual(t, uuid.Nil, snap.ID)
	assert.Equal(t, uint64(24), snap.TotalBytes())
}

func TestNewRejectsOverlap(t *testing.T) {
	_, err := New([]Region{
		NewRegion(0x1000, make([]byte, 0x20)),
		NewRegion(0x1010, make([]byte, 0x20)),
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = New(nil, []process.Module{
		{Name: "a", Start: 0x1000, End: 0x2000},
		{Name: "b", Start: 0x1800, End: 0x3000},
	})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = New(nil, []process.Module{{Name: "empty", Start: 0x1000, End: 0x1000}})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = New(nil, nil, WithPointerSize(2))
	assert.ErrorIs(t, err, ErrPointerSize)
}

func TestReadPOINTER(t *testing.T) {
	snap, err := New([]Region{NewRegion(0x1000, ptrBytes(0xdeadbeef, 0x1234))}, nil)
	require.NoError(t, err)

	v, err := snap.ReadPOINTER(0x1008)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0x1234), v)

	_, err = snap.ReadPOINTER(0x100c)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)

	_, err = snap.ReadPOINTER(0x5000)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
}

func TestReadPOINTER32(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[4:], 0xcafe)
	snap, err := New([]Region{NewRegion(0x1000, data)}, nil, WithPointerSize(4))
	require.NoError(t, err)

	v, err := snap.ReadPOINTER(0x1004)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0xcafe), v)
}

func TestIsValidAddressCoversModulesAndRegions(t *testing.T) {
	snap, err := New(
		[]Region{
			NewRegion(0x1000, make([]byte, 0x100)),
			NewRegion(0x1100, make([]byte, 0x100)),
			NewRegion(0x8000, make([]byte, 0x10)),
		},
		[]process.Module{{Name: "game", Start: 0x4000, End: 0x5000}},
	)
	require.NoError(t, err)

	assert.True(t, snap.IsValidAddress(0x1000))
	assert.True(t, snap.IsValidAddress(0x11ff))
	assert.False(t, snap.IsValidAddress(0x1200))
	assert.True(t, snap.IsValidAddress(0x4800), "module range without captured bytes")
	assert.False(t, snap.IsValidAddress(0x5000))
	assert.False(t, snap.IsValidAddress(0x8010))
	assert.Len(t, snap.ValidRanges(), 3)
}

func TestModuleLookup(t *testing.T) {
	snap, err := New(nil, []process.Module{
		{Name: "libc.so.6", Start: 0x7000, End: 0x9000},
		{Name: "game", Start: 0x1000, End: 0x3000},
	})
	require.NoError(t, err)

	m, ok := snap.ModuleContaining(0x2fff)
	require.True(t, ok)
	assert.Equal(t, "game", m.Name)

	_, ok = snap.ModuleContaining(0x3000)
	assert.False(t, ok)

	m, ok = snap.ModuleByName("libc.so.6")
	require.True(t, ok)
	assert.Equal(t, process.ProcessMemoryAddress(0x7000), m.Start)

	_, ok = snap.ModuleByName("missing")
	assert.False(t, ok)
}
