package memory_map

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
	Path    string // Backing file or pseudo name ("[heap]"), empty for anonymous maps
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s, Path: %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

// IsFileBacked reports whether the mapping belongs to an image on disk.
func (mmItem MemoryMapItem) IsFileBacked() bool {
	return strings.HasPrefix(mmItem.Path, "/") || (len(mmItem.Path) > 2 && mmItem.Path[1] == ':')
}

// MemoryMap defines the interface for operations related to a process's memory map
type MemoryMap interface {
	// ReadMemoryMap reads and parses the memory map for a process
	ReadMemoryMap(pid int) ([]MemoryMapItem, error)

	// IsReadablePerms checks if a memory region has read permissions
	IsReadablePerms(perms string) bool
}

// Sort orders the map by start address; FindRegion depends on it.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// FindRegion returns the region containing addr in a sorted memory map.
func FindRegion(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// ModuleSpan is the merged extent of every mapping backed by one image file.
type ModuleSpan struct {
	Name  string
	Path  string
	Start uint64
	End   uint64
}

// Modules groups file-backed mappings by path. Each image yields one span
// from its lowest mapping to its highest mapping end. Images whose spans
// would overlap an earlier image are dropped so the result never overlaps.
func Modules(memoryMap []MemoryMapItem) []ModuleSpan {
	byPath := make(map[string]*ModuleSpan)
	var order []string

	for _, item := range memoryMap {
		if !item.IsFileBacked() {
			continue
		}
		span, ok := byPath[item.Path]
		if !ok {
			byPath[item.Path] = &ModuleSpan{
				Name:  filepath.Base(item.Path),
				Path:  item.Path,
				Start: item.Address,
				End:   item.End(),
			}
			order = append(order, item.Path)
			continue
		}
		if item.Address < span.Start {
			span.Start = item.Address
		}
		if item.End() > span.End {
			span.End = item.End()
		}
	}

	spans := make([]ModuleSpan, 0, len(order))
	for _, path := range order {
		spans = append(spans, *byPath[path])
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	result := spans[:0]
	for _, span := range spans {
		if len(result) > 0 && span.Start < result[len(result)-1].End {
			continue
		}
		result = append(result, span)
	}
	return result
}
