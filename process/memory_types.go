package process

import (
	"fmt"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// AddressRange is a half-open span [Start, End) of a process address space.
type AddressRange struct {
	Start ProcessMemoryAddress
	End   ProcessMemoryAddress
}

// Size returns the number of bytes covered by the range.
func (r AddressRange) Size() ProcessMemorySize {
	if r.End <= r.Start {
		return 0
	}
	return ProcessMemorySize(r.End - r.Start)
}

// Contains reports whether addr lies inside [Start, End).
func (r AddressRange) Contains(addr ProcessMemoryAddress) bool {
	return addr >= r.Start && addr < r.End
}

func (r AddressRange) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", uint64(r.Start), uint64(r.End))
}

// Module is a loaded image (executable or shared library) and the virtual
// address range it occupies.
type Module struct {
	Name  string
	Start ProcessMemoryAddress
	End   ProcessMemoryAddress
}

// Range returns the module span as an AddressRange.
func (m Module) Range() AddressRange {
	return AddressRange{Start: m.Start, End: m.End}
}

// Contains reports whether addr lies inside the module image.
func (m Module) Contains(addr ProcessMemoryAddress) bool {
	return addr >= m.Start && addr < m.End
}

// Valid checks the Start < End invariant.
func (m Module) Valid() bool {
	return m.Start < m.End
}

func (m Module) String() string {
	return fmt.Sprintf("%s [0x%x-0x%x)", m.Name, uint64(m.Start), uint64(m.End))
}
