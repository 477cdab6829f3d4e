package hexdump

import (
	"encoding/binary"
	"strings"
	"testing"

	"ptrscan/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain() Options {
	o := DefaultOptions()
	o.Plain = true
	o.OffsetWidth = 8
	return o
}

func TestDumpPlain(t *testing.T) {
	data := []byte("ABCDEFGH\x00\x01\x02\x03\x04\x05\x06\x07")
	out := Dump(data, plain())
	assert.Equal(t, "00000000  4142434445464748 0001020304050607 | ABCDEFGH........\n", out)
}

func TestDumpShortLineIsPadded(t *testing.T) {
	full := Dump(make([]byte, 16), plain())
	short := Dump(make([]byte, 20), plain())

	lines := strings.Split(strings.TrimSuffix(short, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Index(strings.TrimSuffix(full, "\n"), "|"), strings.Index(lines[1], "|"))
}

func TestDumpMaxLines(t *testing.T) {
	o := plain()
	o.MaxLines = 1
	out := Dump(make([]byte, 48), o)
	assert.Contains(t, out, "... 32 more bytes")
}

func TestDumpSnapshotMarksPointers(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:], 0x1008)
	binary.LittleEndian.PutUint64(data[8:], 0xdead)
	snap, err := snapshot.New([]snapshot.Region{snapshot.NewRegion(0x1000, data)}, nil)
	require.NoError(t, err)

	out, err := DumpSnapshot(snap, 0x1000, 16, plain())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "00001000  "))
	assert.True(t, strings.HasSuffix(out, "| 0x1008\n"), out)
	assert.NotContains(t, out, "0xdead")

	_, err = DumpSnapshot(snap, 0x1008, 16, plain())
	assert.Error(t, err)
}

func TestHighlight(t *testing.T) {
	marks := highlighted([]byte{1, 2, 3, 2, 3}, []byte{2, 3})
	assert.Equal(t, []bool{false, true, true, true, true}, marks)
	assert.Equal(t, make([]bool, 3), highlighted([]byte{1, 2, 3}, nil))
}
