// Package chain_store persists scan results and captured snapshots with
// their pointer index.
package chain_store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	// ErrCorruptFile is returned for a bad magic, an unsupported version, a
	// checksum mismatch or a truncated record.
	ErrCorruptFile = errors.New("corrupt file")

	// ErrIO wraps operating system failures while reading or writing.
	ErrIO = errors.New("i/o error")

	// ErrFieldTooLong is returned when a name or offset list does not fit
	// its u16 length prefix.
	ErrFieldTooLong = errors.New("field too long for record")
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorWhite, coloransi.ColorPurple, "chain-store"))

// read chunk for length-prefixed payloads, so a corrupt length cannot force
// a huge allocation before the data runs out
const readChunk = 64 << 20

// encoder writes little-endian fields and remembers the first error.
type encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:], v)
	e.write(e.buf[:2])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:], v)
	e.write(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:], v)
	e.write(e.buf[:8])
}

// count writes a u16 length prefix, failing instead of wrapping.
func (e *encoder) count(n int) {
	if e.err == nil && n > math.MaxUint16 {
		e.err = fmt.Errorf("%w: %d entries", ErrFieldTooLong, n)
	}
	e.u16(uint16(n))
}

func (e *encoder) str(s string) {
	e.count(len(s))
	e.write([]byte(s))
}

// decoder mirrors encoder. Any short read is reported as ErrCorruptFile.
type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		d.err = truncated(err)
	}
	return d.buf[:n]
}

func (d *decoder) u8() uint8 {
	return d.read(1)[0]
}

func (d *decoder) u16() uint16 {
	return binary.LittleEndian.Uint16(d.read(2))
}

func (d *decoder) u32() uint32 {
	return binary.LittleEndian.Uint32(d.read(4))
}

func (d *decoder) u64() uint64 {
	return binary.LittleEndian.Uint64(d.read(8))
}

func (d *decoder) bytes(n uint64) []byte {
	if d.err != nil {
		return nil
	}
	out := make([]byte, 0, min(n, readChunk))
	for uint64(len(out)) < n {
		step := min(n-uint64(len(out)), readChunk)
		start := len(out)
		out = append(out, make([]byte, step)...)
		if _, err := io.ReadFull(d.r, out[start:]); err != nil {
			d.err = truncated(err)
			return nil
		}
	}
	return out
}

func (d *decoder) str() string {
	n := d.u16()
	return string(d.bytes(uint64(n)))
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrCorruptFile)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
