package snapshot

import (
	"fmt"

	"ptrscan/process"
)

// Region is one contiguous block of captured bytes. End-Start always equals
// len(Data).
type Region struct {
	Start process.ProcessMemoryAddress
	End   process.ProcessMemoryAddress
	Data  []byte
}

// NewRegion wraps data captured at start.
func NewRegion(start process.ProcessMemoryAddress, data []byte) Region {
	return Region{
		Start: start,
		End:   start + process.ProcessMemoryAddress(len(data)),
		Data:  data,
	}
}

func (r Region) Range() process.AddressRange {
	return process.AddressRange{Start: r.Start, End: r.End}
}

func (r Region) Contains(addr process.ProcessMemoryAddress) bool {
	return addr >= r.Start && addr < r.End
}

// ReadMemory returns a view of size bytes at addr. The returned slice
// aliases the region and must not be modified.
func (r Region) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if addr < r.Start || uint64(addr)+uint64(size) > uint64(r.End) {
		return nil, fmt.Errorf("read 0x%x+%d outside %s: %w", uint64(addr), size, r.Range(), process.ErrAddressNotMapped)
	}
	offset := uint64(addr - r.Start)
	return r.Data[offset : offset+uint64(size)], nil
}

func (r Region) String() string {
	return fmt.Sprintf("region %s", r.Range())
}
