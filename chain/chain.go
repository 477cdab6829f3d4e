// Package chain defines the pointer chain value type, its text form and
// resolution against any pointer reader.
package chain

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"ptrscan/process"
)

var (
	// ErrSyntax is returned when a chain's text form cannot be parsed.
	ErrSyntax = errors.New("invalid chain syntax")

	// ErrModuleNotFound is returned by Rebase when the target capture lacks
	// the chain's module.
	ErrModuleNotFound = errors.New("module not found")
)

// Chain is a static module base plus the offsets to follow from it.
// Resolution: v = *(Module.Start + BaseOffset), then v = *(v + off) for
// each offset. A chain found for target T resolves to T.
type Chain struct {
	Module     process.Module
	BaseOffset uint64
	Offsets    []int64
}

// Base is the absolute address of the first slot.
func (c Chain) Base() process.ProcessMemoryAddress {
	return c.Module.Start + process.ProcessMemoryAddress(c.BaseOffset)
}

// Hops is the number of dereferences resolution performs.
func (c Chain) Hops() int {
	return len(c.Offsets) + 1
}

func (c Chain) Equal(o Chain) bool {
	return c.Module.Name == o.Module.Name && c.BaseOffset == o.BaseOffset && slices.Equal(c.Offsets, o.Offsets)
}

// Compare orders chains by module name, base offset, then offsets.
func (c Chain) Compare(o Chain) int {
	if n := strings.Compare(c.Module.Name, o.Module.Name); n != 0 {
		return n
	}
	if c.BaseOffset != o.BaseOffset {
		if c.BaseOffset < o.BaseOffset {
			return -1
		}
		return 1
	}
	return slices.Compare(c.Offsets, o.Offsets)
}

// String renders the chain as "module+0xbase->off->off", offsets signed hex.
func (c Chain) String() string {
	var sb strings.Builder
	sb.WriteString(c.Module.Name)
	sb.WriteString("+0x")
	sb.WriteString(strconv.FormatUint(c.BaseOffset, 16))
	for _, off := range c.Offsets {
		sb.WriteString("->")
		sb.WriteString(formatOffset(off))
	}
	return sb.String()
}

func formatOffset(off int64) string {
	if off < 0 {
		return "-0x" + strconv.FormatUint(uint64(-off), 16)
	}
	return "0x" + strconv.FormatUint(uint64(off), 16)
}

func parseOffset(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "0x") {
		return 0, fmt.Errorf("%w: offset %q lacks 0x prefix", ErrSyntax, s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: offset %q: %w", ErrSyntax, s, err)
	}
	if neg {
		return -int64(v), nil
	}
	return int64(v), nil
}

// ParseChainText parses the String form. The returned chain only carries the
// module name; use Rebase to attach an address range.
func ParseChainText(s string) (Chain, error) {
	parts := strings.Split(strings.TrimSpace(s), "->")

	head := parts[0]
	plus := strings.LastIndex(head, "+")
	if plus <= 0 {
		return Chain{}, fmt.Errorf("%w: %q has no module+base", ErrSyntax, s)
	}
	base, err := parseOffset(head[plus+1:])
	if err != nil || base < 0 {
		return Chain{}, fmt.Errorf("%w: bad base in %q", ErrSyntax, s)
	}

	c := Chain{
		Module:     process.Module{Name: head[:plus]},
		BaseOffset: uint64(base),
	}
	for _, p := range parts[1:] {
		off, err := parseOffset(p)
		if err != nil {
			return Chain{}, err
		}
		c.Offsets = append(c.Offsets, off)
	}
	return c, nil
}

// Rebase attaches the chain to the same-named module in modules, so a chain
// found in one capture can be followed in another.
func Rebase(c Chain, modules []process.Module) (Chain, error) {
	for _, m := range modules {
		if m.Name == c.Module.Name {
			c.Module = m
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("%w: %s", ErrModuleNotFound, c.Module.Name)
}
