package chain_store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"ptrscan/chain"
	"ptrscan/process"

	"github.com/google/uuid"
)

// Scan-result file layout, little-endian:
//
//	header: magic[8] version u16 ptrsize u8 pad u8 snapshot[16] target u64 crc u32
//	record: length u32, payload, crc32(payload) u32
//	payload: name (u16 len + bytes) modstart u64 modend u64 base u64 n u16 offsets i64*n
const (
	chainMagic      = "PTRSCHN\x00"
	chainVersion    = 1
	chainHeaderSize = 8 + 2 + 1 + 1 + 16 + 8 + 4
	maxRecordSize   = 1 << 20
)

// ChainHeader ties a scan-result file to the snapshot and target it came from.
type ChainHeader struct {
	PointerSize int
	SnapshotID  uuid.UUID
	Target      process.ProcessMemoryAddress
}

func (h ChainHeader) encode() []byte {
	var buf bytes.Buffer
	e := &encoder{w: &buf}
	e.write([]byte(chainMagic))
	e.u16(chainVersion)
	e.u8(uint8(h.PointerSize))
	e.u8(0)
	e.write(h.SnapshotID[:])
	e.u64(uint64(h.Target))
	e.u32(crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

func decodeChainHeader(r io.Reader) (ChainHeader, error) {
	raw := make([]byte, chainHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return ChainHeader{}, truncated(err)
	}
	if string(raw[:8]) != chainMagic {
		return ChainHeader{}, fmt.Errorf("%w: not a scan-result file", ErrCorruptFile)
	}

	d := &decoder{r: bytes.NewReader(raw[8:])}
	version := d.u16()
	if version != chainVersion {
		return ChainHeader{}, fmt.Errorf("%w: scan-result version %d, want %d", ErrCorruptFile, version, chainVersion)
	}
	var h ChainHeader
	h.PointerSize = int(d.u8())
	d.u8()
	copy(h.SnapshotID[:], d.bytes(16))
	h.Target = process.ProcessMemoryAddress(d.u64())
	sum := d.u32()
	if d.err != nil {
		return ChainHeader{}, d.err
	}
	if sum != crc32.ChecksumIEEE(raw[:chainHeaderSize-4]) {
		return ChainHeader{}, fmt.Errorf("%w: header checksum", ErrCorruptFile)
	}
	return h, nil
}

// ChainWriter appends chain records to a scan-result file. Records are
// buffered; Flush makes every emitted chain durable against a later crash.
// It implements the search sink interfaces.
type ChainWriter struct {
	f     *os.File
	w     *bufio.Writer
	count int64
	rec   bytes.Buffer
}

// NewChainWriter writes the header to w and returns a writer for records.
func NewChainWriter(w io.Writer, hdr ChainHeader) (*ChainWriter, error) {
	cw := &ChainWriter{w: bufio.NewWriter(w)}
	if _, err := cw.w.Write(hdr.encode()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return cw, nil
}

// CreateChainFile creates or truncates path and writes the header.
func CreateChainFile(path string, hdr ChainHeader) (*ChainWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	cw, err := NewChainWriter(f, hdr)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.f = f
	return cw, nil
}

func encodeChain(e *encoder, c chain.Chain) error {
	e.str(c.Module.Name)
	e.u64(uint64(c.Module.Start))
	e.u64(uint64(c.Module.End))
	e.u64(c.BaseOffset)
	e.count(len(c.Offsets))
	for _, off := range c.Offsets {
		e.u64(uint64(off))
	}
	return e.err
}

func (cw *ChainWriter) Emit(c chain.Chain) error {
	cw.rec.Reset()
	if err := encodeChain(&encoder{w: &cw.rec}, c); err != nil {
		return err
	}

	e := &encoder{w: cw.w}
	e.u32(uint32(cw.rec.Len()))
	e.write(cw.rec.Bytes())
	e.u32(crc32.ChecksumIEEE(cw.rec.Bytes()))
	if e.err != nil {
		return fmt.Errorf("%w: %w", ErrIO, e.err)
	}
	cw.count++
	return nil
}

func (cw *ChainWriter) Flush() error {
	if err := cw.w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Count is the number of records emitted so far.
func (cw *ChainWriter) Count() int64 {
	return cw.count
}

// Close flushes and, for files, syncs and closes the file.
func (cw *ChainWriter) Close() error {
	err := cw.Flush()
	if cw.f == nil {
		return err
	}
	if serr := cw.f.Sync(); err == nil && serr != nil {
		err = fmt.Errorf("%w: %w", ErrIO, serr)
	}
	if cerr := cw.f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %w", ErrIO, cerr)
	}
	return err
}

// SaveChains writes chains to a new scan-result file at path.
func SaveChains(path string, hdr ChainHeader, chains []chain.Chain) error {
	cw, err := CreateChainFile(path, hdr)
	if err != nil {
		return err
	}
	for _, c := range chains {
		if err := cw.Emit(c); err != nil {
			cw.Close()
			return err
		}
	}
	return cw.Close()
}

// ReadChains decodes a scan-result stream. On corruption it returns the
// records read so far together with the error.
func ReadChains(r io.Reader) (ChainHeader, []chain.Chain, error) {
	br := bufio.NewReader(r)
	hdr, err := decodeChainHeader(br)
	if err != nil {
		return ChainHeader{}, nil, err
	}

	var chains []chain.Chain
	for {
		c, err := readRecord(br)
		if errors.Is(err, io.EOF) {
			return hdr, chains, nil
		}
		if err != nil {
			return hdr, chains, fmt.Errorf("record %d: %w", len(chains), err)
		}
		chains = append(chains, c)
	}
}

func readRecord(r io.Reader) (chain.Chain, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if n == 0 && errors.Is(err, io.EOF) {
		return chain.Chain{}, io.EOF
	}
	if err != nil {
		return chain.Chain{}, truncated(err)
	}

	size := uint64(binary.LittleEndian.Uint32(lenBuf[:]))
	if size > maxRecordSize {
		return chain.Chain{}, fmt.Errorf("%w: record length %d", ErrCorruptFile, size)
	}

	d := &decoder{r: r}
	payload := d.bytes(size)
	sum := d.u32()
	if d.err != nil {
		return chain.Chain{}, d.err
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return chain.Chain{}, fmt.Errorf("%w: record checksum", ErrCorruptFile)
	}

	pr := bytes.NewReader(payload)
	pd := &decoder{r: pr}
	var c chain.Chain
	c.Module.Name = pd.str()
	c.Module.Start = process.ProcessMemoryAddress(pd.u64())
	c.Module.End = process.ProcessMemoryAddress(pd.u64())
	c.BaseOffset = pd.u64()
	count := pd.u16()
	for i := uint16(0); i < count && pd.err == nil; i++ {
		c.Offsets = append(c.Offsets, int64(pd.u64()))
	}
	if pd.err != nil || pr.Len() != 0 {
		return chain.Chain{}, fmt.Errorf("%w: malformed record", ErrCorruptFile)
	}
	return c, nil
}

// LoadChains reads every chain of a scan-result file. Any corruption fails
// the whole load.
func LoadChains(path string) (ChainHeader, []chain.Chain, error) {
	hdr, chains, err := LoadChainsBestEffort(path)
	if err != nil {
		return ChainHeader{}, nil, err
	}
	return hdr, chains, nil
}

// LoadChainsBestEffort returns the valid records preceding any corruption
// together with the error describing it.
func LoadChainsBestEffort(path string) (ChainHeader, []chain.Chain, error) {
	f, err := os.Open(path)
	if err != nil {
		return ChainHeader{}, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	hdr, chains, err := ReadChains(f)
	if err == nil {
		log.Debugln("loaded", len(chains), "chains from", path)
	}
	return hdr, chains, err
}
