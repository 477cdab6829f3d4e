//go:build linux

package process_linux

import (
	"ptrscan/process"
	"ptrscan/process/memory_map"
)

// EnumerateModules derives the module table from the file-backed mappings
// of the process. The memory map is refreshed first.
func (p *LinuxProcess) EnumerateModules() ([]process.Module, error) {
	if err := p.UpdateMemoryMap(); err != nil {
		return nil, err
	}
	mm, err := p.GetMemoryMap()
	if err != nil {
		return nil, err
	}

	spans := memory_map.Modules(mm)
	modules := make([]process.Module, 0, len(spans))
	for _, span := range spans {
		modules = append(modules, process.Module{
			Name:  span.Name,
			Start: process.ProcessMemoryAddress(span.Start),
			End:   process.ProcessMemoryAddress(span.End),
		})
	}
	return modules, nil
}

// EnumerateReadableRegions lists every readable mapping. Kernel-provided
// pseudo mappings that process_vm_readv cannot read are left out.
func (p *LinuxProcess) EnumerateReadableRegions() ([]process.AddressRange, error) {
	mm, err := p.GetMemoryMap()
	if err != nil {
		return nil, err
	}

	var ranges []process.AddressRange
	for _, item := range mm {
		if !isReadablePerms(item.Perms) {
			continue
		}
		switch item.Path {
		case "[vvar]", "[vsyscall]", "[vvar_vclock]":
			continue
		}
		ranges = append(ranges, process.AddressRange{
			Start: process.ProcessMemoryAddress(item.Address),
			End:   process.ProcessMemoryAddress(item.End()),
		})
	}
	return ranges, nil
}
