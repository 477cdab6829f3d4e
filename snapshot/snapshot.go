// Package snapshot holds an immutable copy of a process's readable memory
// together with its module table.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"ptrscan/process"

	"github.com/google/uuid"
)

var (
	// ErrInvalidLayout is returned when regions or modules overlap, are
	// unordered or carry inconsistent bounds.
	ErrInvalidLayout = errors.New("invalid snapshot layout")

	// ErrPointerSize is returned for pointer widths other than 4 and 8.
	ErrPointerSize = errors.New("unsupported pointer size")

	// ErrRegionsTooLarge is returned by Capture when every readable region
	// exceeds the configured size cap.
	ErrRegionsTooLarge = errors.New("every region exceeds the size cap")
)

const (
	defaultPointerSize   = 8
	defaultMaxRegionSize = 100 * 1024 * 1024
	defaultWorkers       = 8
)

// Snapshot is a frozen view of a process address space. It is safe for
// concurrent use by any number of readers.
type Snapshot struct {
	ID uuid.UUID

	pointerSize int
	regions     []Region
	modules     []process.Module
	valid       []process.AddressRange
	skipped     int
}

type settings struct {
	pointerSize   int
	id            uuid.UUID
	maxRegionSize uint64
	workers       int
}

// Option configures snapshot construction and capture.
type Option func(*settings)

// WithPointerSize sets the pointer width of the captured process.
func WithPointerSize(size int) Option {
	return func(s *settings) {
		s.pointerSize = size
	}
}

// WithID reuses an existing snapshot ID, typically one read back from disk.
func WithID(id uuid.UUID) Option {
	return func(s *settings) {
		s.id = id
	}
}

// WithMaxRegionSize skips regions larger than size during Capture.
func WithMaxRegionSize(size uint64) Option {
	return func(s *settings) {
		s.maxRegionSize = size
	}
}

// WithWorkers bounds the number of concurrent region reads during Capture.
func WithWorkers(n int) Option {
	return func(s *settings) {
		s.workers = n
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		pointerSize:   defaultPointerSize,
		maxRegionSize: defaultMaxRegionSize,
		workers:       defaultWorkers,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	return s
}

// New builds a snapshot from already captured regions. Regions are sorted by
// start address; overlapping regions or modules are rejected.
func New(regions []Region, modules []process.Module, opts ...Option) (*Snapshot, error) {
	cfg := newSettings(opts)
	if cfg.pointerSize != 4 && cfg.pointerSize != 8 {
		return nil, fmt.Errorf("%w: %d", ErrPointerSize, cfg.pointerSize)
	}

	rs := make([]Region, len(regions))
	copy(rs, regions)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	for i, r := range rs {
		if uint64(r.End-r.Start) != uint64(len(r.Data)) || r.End < r.Start {
			return nil, fmt.Errorf("%w: %s holds %d bytes", ErrInvalidLayout, r.Range(), len(r.Data))
		}
		if i > 0 && r.Start < rs[i-1].End {
			return nil, fmt.Errorf("%w: %s overlaps %s", ErrInvalidLayout, r.Range(), rs[i-1].Range())
		}
	}

	ms := make([]process.Module, len(modules))
	copy(ms, modules)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Start < ms[j].Start })
	for i, m := range ms {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: module %s is empty", ErrInvalidLayout, m)
		}
		if i > 0 && m.Start < ms[i-1].End {
			return nil, fmt.Errorf("%w: module %s overlaps %s", ErrInvalidLayout, m, ms[i-1])
		}
	}

	id := cfg.id
	if id == uuid.Nil {
		id = uuid.Must(uuid.NewV7())
	}

	return &Snapshot{
		ID:          id,
		pointerSize: cfg.pointerSize,
		regions:     rs,
		modules:     ms,
		valid:       mergeRanges(rs, ms),
	}, nil
}

// mergeRanges returns the sorted, coalesced union of region and module spans.
func mergeRanges(regions []Region, modules []process.Module) []process.AddressRange {
	spans := make([]process.AddressRange, 0, len(regions)+len(modules))
	for _, r := range regions {
		if r.End > r.Start {
			spans = append(spans, r.Range())
		}
	}
	for _, m := range modules {
		spans = append(spans, m.Range())
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	merged := spans[:0]
	for _, s := range spans {
		if n := len(merged); n > 0 && s.Start <= merged[n-1].End {
			if s.End > merged[n-1].End {
				merged[n-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func (s *Snapshot) PointerSize() int {
	return s.pointerSize
}

// Regions returns the regions in ascending address order. The slice is shared.
func (s *Snapshot) Regions() []Region {
	return s.regions
}

// Modules returns the module table in ascending address order. The slice is shared.
func (s *Snapshot) Modules() []process.Module {
	return s.modules
}

// Skipped is the number of regions Capture could not read.
func (s *Snapshot) Skipped() int {
	return s.skipped
}

// TotalBytes is the sum of all region sizes.
func (s *Snapshot) TotalBytes() uint64 {
	var total uint64
	for _, r := range s.regions {
		total += uint64(len(r.Data))
	}
	return total
}

// FindRegion returns the region holding addr.
func (s *Snapshot) FindRegion(addr process.ProcessMemoryAddress) (*Region, bool) {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].End > addr
	})
	if i < len(s.regions) && s.regions[i].Start <= addr {
		return &s.regions[i], true
	}
	return nil, false
}

// ReadMemory returns size bytes at addr. Reads spanning two regions fail
// even when the regions are adjacent.
func (s *Snapshot) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	r, ok := s.FindRegion(addr)
	if !ok {
		return nil, fmt.Errorf("0x%x: %w", uint64(addr), process.ErrAddressNotMapped)
	}
	return r.ReadMemory(addr, size)
}

// ReadPOINTER decodes a little-endian pointer of the snapshot's width at addr.
func (s *Snapshot) ReadPOINTER(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	data, err := s.ReadMemory(addr, process.ProcessMemorySize(s.pointerSize))
	if err != nil {
		return 0, err
	}
	return process.ProcessMemoryAddress(DecodePointer(data, s.pointerSize)), nil
}

// DecodePointer reads a little-endian pointer of the given width from b.
func DecodePointer(b []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// IsValidAddress reports whether addr lies inside any captured region or
// module range. This is the pointer validity predicate used by the index.
func (s *Snapshot) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	i := sort.Search(len(s.valid), func(i int) bool {
		return s.valid[i].End > addr
	})
	return i < len(s.valid) && s.valid[i].Start <= addr
}

// ValidRanges returns the merged spans IsValidAddress tests against.
func (s *Snapshot) ValidRanges() []process.AddressRange {
	return s.valid
}

// ModuleContaining returns the module whose range holds addr.
func (s *Snapshot) ModuleContaining(addr process.ProcessMemoryAddress) (process.Module, bool) {
	i := sort.Search(len(s.modules), func(i int) bool {
		return s.modules[i].End > addr
	})
	if i < len(s.modules) && s.modules[i].Start <= addr {
		return s.modules[i], true
	}
	return process.Module{}, false
}

// ModuleByName returns the first module called name.
func (s *Snapshot) ModuleByName(name string) (process.Module, bool) {
	for _, m := range s.modules {
		if m.Name == name {
			return m, true
		}
	}
	return process.Module{}, false
}
