package process

import (
	"ptrscan/process/memory_map"
)

// Process is the interface that defines operations for reading a system process
type Process interface {
	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// ReadMemory reads memory from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// ReadPOINTER reads a pointer value from the specified address
	ReadPOINTER(addr ProcessMemoryAddress) (ProcessMemoryAddress, error)

	MemorySource
}

// MemorySource is the capability set a snapshot needs from the acquisition layer.
type MemorySource interface {
	// EnumerateModules lists the loaded images of the process
	EnumerateModules() ([]Module, error)

	// EnumerateReadableRegions lists every readable mapping
	EnumerateReadableRegions() ([]AddressRange, error)

	// ReadMemory reads size bytes at addr
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}
