package snapshot

import (
	"context"
	"errors"
	"testing"

	"ptrscan/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	modules []process.Module
	regions []process.AddressRange
	memory  map[process.ProcessMemoryAddress][]byte
	readErr map[process.ProcessMemoryAddress]error
	enumErr error
}

func (f *fakeSource) EnumerateModules() ([]process.Module, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return f.modules, nil
}

func (f *fakeSource) EnumerateReadableRegions() ([]process.AddressRange, error) {
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	return f.regions, nil
}

func (f *fakeSource) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if err, ok := f.readErr[addr]; ok {
		return nil, err
	}
	data, ok := f.memory[addr]
	if !ok || len(data) < int(size) {
		return nil, process.ErrAddressNotMapped
	}
	return data[:size], nil
}

func TestCaptureSkipsUnreadable(t *testing.T) {
	src := &fakeSource{
		modules: []process.Module{
			{Name: "game", Start: 0x1000, End: 0x2000},
			{Name: "shadow", Start: 0x1800, End: 0x2800},
		},
		regions: []process.AddressRange{
			{Start: 0x3000, End: 0x3010},
			{Start: 0x1000, End: 0x1010},
			{Start: 0x5000, End: 0x5010},
		},
		memory: map[process.ProcessMemoryAddress][]byte{
			0x1000: ptrBytes(0x3000, 0),
			0x3000: ptrBytes(0x1000, 0x5000),
		},
		readErr: map[process.ProcessMemoryAddress]error{
			0x5000: process.ErrAccessDenied,
		},
	}

	snap, err := Capture(context.Background(), src, WithWorkers(2))
	require.NoError(t, err)

	assert.Len(t, snap.Regions(), 2)
	assert.Equal(t, 1, snap.Skipped())
	require.Len(t, snap.Modules(), 1, "overlapping module dropped")
	assert.Equal(t, "game", snap.Modules()[0].Name)

	v, err := snap.ReadPOINTER(0x3008)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0x5000), v)
}

func TestCaptureOversizedRegion(t *testing.T) {
	src := &fakeSource{
		regions: []process.AddressRange{{Start: 0x1000, End: 0x1010}, {Start: 0x2000, End: 0x3000}},
		memory:  map[process.ProcessMemoryAddress][]byte{0x1000: ptrBytes(1, 2)},
	}

	snap, err := Capture(context.Background(), src, WithMaxRegionSize(0x100))
	require.NoError(t, err)
	assert.Len(t, snap.Regions(), 1)
	assert.Equal(t, 1, snap.Skipped())
}

func TestCaptureEveryRegionOversized(t *testing.T) {
	src := &fakeSource{
		regions: []process.AddressRange{{Start: 0x1000, End: 0x2000}, {Start: 0x2000, End: 0x3000}},
	}

	_, err := Capture(context.Background(), src, WithMaxRegionSize(0x100))
	assert.ErrorIs(t, err, ErrRegionsTooLarge)
	assert.False(t, errors.Is(err, process.ErrProcessUnavailable))
}

func TestCaptureProcessUnavailable(t *testing.T) {
	_, err := Capture(context.Background(), &fakeSource{enumErr: process.ErrAccessDenied})
	assert.ErrorIs(t, err, process.ErrProcessUnavailable)
	assert.ErrorIs(t, err, process.ErrAccessDenied)

	gone := &fakeSource{
		regions: []process.AddressRange{{Start: 0x1000, End: 0x1010}},
		readErr: map[process.ProcessMemoryAddress]error{0x1000: process.ErrNoSuchProcess},
	}
	_, err = Capture(context.Background(), gone)
	assert.ErrorIs(t, err, process.ErrProcessUnavailable)
	assert.True(t, errors.Is(err, process.ErrNoSuchProcess))

	denied := &fakeSource{
		regions: []process.AddressRange{{Start: 0x1000, End: 0x1010}},
		readErr: map[process.ProcessMemoryAddress]error{0x1000: process.ErrAccessDenied},
	}
	_, err = Capture(context.Background(), denied)
	assert.ErrorIs(t, err, process.ErrProcessUnavailable)
}

func TestCaptureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{
		regions: []process.AddressRange{{Start: 0x1000, End: 0x1010}},
		memory:  map[process.ProcessMemoryAddress][]byte{0x1000: ptrBytes(1, 2)},
	}
	_, err := Capture(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}
