// Package hexdump renders captured memory with pointer-sized grouping and
// marks slots whose value is a valid address.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"ptrscan/process"
	"ptrscan/snapshot"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Options defines options for customizing the hexdump output
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// GroupSize defines the grouping of bytes, usually the pointer width
	GroupSize int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// StartOffset is the address of the first byte
	StartOffset uint64

	// OffsetWidth is the width of the offset column in hex digits
	OffsetWidth int

	// Plain disables ANSI colors
	Plain bool

	OffsetColor       coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	ZeroColor         coloransi.ColorCode
	PointerColor      coloransi.ColorCode

	// HighlightPattern is a byte sequence to highlight in the hex column
	HighlightPattern []byte
	HighlightColor   coloransi.ColorCode

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// PointerSize is the slot width used to decode pointers
	PointerSize int

	// IsPointer, when set, lists the decoded slot values it accepts to the
	// right of each line
	IsPointer func(v uint64) bool
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{
		BytesPerLine:      16,
		GroupSize:         8,
		ShowASCII:         true,
		OffsetWidth:       12,
		OffsetColor:       coloransi.Cyan,
		HexColor:          coloransi.ColorLimeGreen,
		ASCIIColor:        coloransi.ColorWhite,
		NonPrintableColor: coloransi.Red,
		ZeroColor:         coloransi.BrightBlack,
		PointerColor:      coloransi.Yellow,
		HighlightColor:    coloransi.ColorOrange,
		PointerSize:       8,
	}
}

func (o Options) paint(fg coloransi.ColorCode, s string) string {
	if o.Plain {
		return s
	}
	return coloransi.Foreground(fg, s)
}

// Dump creates a hex dump of the given data with specified options
func Dump(data []byte, options Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(writer io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.GroupSize <= 0 {
		options.GroupSize = 1
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}
	if options.PointerSize != 4 {
		options.PointerSize = 8
	}

	lineCount := 0
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lineCount >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			break
		}

		end := min(offset+options.BytesPerLine, len(data))
		formatLine(writer, data, offset, end, options)
		lineCount++
	}
}

// formatLine formats data[start:end]; the whole buffer is passed so
// highlights spanning a line break are still found
func formatLine(writer io.Writer, data []byte, start, end int, options Options) {
	line := data[start:end]
	address := uint64(start) + options.StartOffset

	offsetStr := fmt.Sprintf("%0"+strconv.Itoa(options.OffsetWidth)+"x", address)
	fmt.Fprint(writer, options.paint(options.OffsetColor, offsetStr), "  ")

	hexParts := formatHexValues(data, start, end, options)
	fmt.Fprint(writer, strings.Join(hexParts, " "))

	// pad short lines so the ASCII column stays aligned
	if missing := options.BytesPerLine - len(line); missing > 0 {
		fullGroups := (options.BytesPerLine + options.GroupSize - 1) / options.GroupSize
		curGroups := (len(line) + options.GroupSize - 1) / options.GroupSize
		fmt.Fprint(writer, strings.Repeat(" ", missing*2+fullGroups-curGroups))
	}

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		formatASCII(writer, line, options)
	}

	if options.IsPointer != nil {
		var ptrs []string
		for off := 0; off+options.PointerSize <= len(line); off += options.PointerSize {
			v := snapshot.DecodePointer(line[off:], options.PointerSize)
			if options.IsPointer(v) {
				ptrs = append(ptrs, options.paint(options.PointerColor, fmt.Sprintf("0x%x", v)))
			}
		}
		if len(ptrs) > 0 {
			fmt.Fprint(writer, " | ", strings.Join(ptrs, " "))
		}
	}

	fmt.Fprintln(writer)
}

// formatASCII formats the ASCII part of a hex dump line
func formatASCII(writer io.Writer, data []byte, options Options) {
	for _, b := range data {
		c := rune(b)
		switch {
		case b == 0:
			fmt.Fprint(writer, options.paint(options.ZeroColor, "."))
		case b >= 0x80 || !unicode.IsPrint(c):
			fmt.Fprint(writer, options.paint(options.NonPrintableColor, "."))
		default:
			fmt.Fprint(writer, options.paint(options.ASCIIColor, string(c)))
		}
	}
}

// highlighted marks every byte of data covered by an occurrence of pattern.
func highlighted(data, pattern []byte) []bool {
	marks := make([]bool, len(data))
	if len(pattern) == 0 {
		return marks
	}
	for i := 0; i+len(pattern) <= len(data); i++ {
		if bytes.Equal(data[i:i+len(pattern)], pattern) {
			for j := range pattern {
				marks[i+j] = true
			}
		}
	}
	return marks
}

// formatHexValues formats data[start:end] into byte groups
func formatHexValues(data []byte, start, end int, options Options) []string {
	marks := highlighted(data, options.HighlightPattern)

	var result []string
	var group strings.Builder
	for i := start; i < end; i++ {
		b := data[i]
		color := options.HexColor
		switch {
		case marks[i]:
			color = options.HighlightColor
		case b == 0:
			color = options.ZeroColor
		}
		group.WriteString(options.paint(color, fmt.Sprintf("%02x", b)))

		if (i-start+1)%options.GroupSize == 0 || i == end-1 {
			result = append(result, group.String())
			group.Reset()
		}
	}
	return result
}

// DumpSnapshot renders size bytes of snap at addr, grouped by the
// snapshot's pointer width and annotated with the slots that hold valid
// addresses.
func DumpSnapshot(snap *snapshot.Snapshot, addr process.ProcessMemoryAddress, size process.ProcessMemorySize, options Options) (string, error) {
	data, err := snap.ReadMemory(addr, size)
	if err != nil {
		return "", err
	}

	options.StartOffset = uint64(addr)
	options.PointerSize = snap.PointerSize()
	options.GroupSize = snap.PointerSize()
	options.IsPointer = func(v uint64) bool {
		return snap.IsValidAddress(process.ProcessMemoryAddress(v))
	}
	return Dump(data, options), nil
}
