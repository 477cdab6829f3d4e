package chain_store

import (
	"bufio"
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"os"

	"ptrscan/pointer_index"
	"ptrscan/process"
	"ptrscan/snapshot"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Index file layout, little-endian:
//
//	header: magic[8] version u16 flags u16 ptrsize u8 pad u8 align u32
//	        snapshot[16] modules u32 regions u32 keys u64 holders u64 crc u32
//	body:   modules (name, start u64, end u64)
//	        regions (start u64, len u64, bytes)
//	        keys u64*keys, bucket ends u64*keys, holders u64*holders
//	        crc32(body) u32
//
// With flagZstd set the body, checksum included, is one zstd stream.
const (
	indexMagic      = "PTRSIDX\x00"
	indexVersion    = 2
	indexHeaderSize = 8 + 2 + 2 + 1 + 1 + 4 + 16 + 4 + 4 + 8 + 8 + 4

	flagZstd = 1 << 0
)

type saveConfig struct {
	compress bool
	level    zstd.EncoderLevel
}

// SaveOption configures SaveIndex.
type SaveOption func(*saveConfig)

// WithCompression toggles zstd compression of the body.
func WithCompression(on bool) SaveOption {
	return func(c *saveConfig) {
		c.compress = on
	}
}

// WithCompressionLevel picks the zstd speed/ratio trade-off.
func WithCompressionLevel(level zstd.EncoderLevel) SaveOption {
	return func(c *saveConfig) {
		c.level = level
	}
}

type indexHeader struct {
	flags       uint16
	pointerSize int
	alignment   int
	snapshotID  uuid.UUID
	modules     uint32
	regions     uint32
	keys        uint64
	holders     uint64
}

func (h indexHeader) encode() []byte {
	var buf bytes.Buffer
	e := &encoder{w: &buf}
	e.write([]byte(indexMagic))
	e.u16(indexVersion)
	e.u16(h.flags)
	e.u8(uint8(h.pointerSize))
	e.u8(0)
	e.u32(uint32(h.alignment))
	e.write(h.snapshotID[:])
	e.u32(h.modules)
	e.u32(h.regions)
	e.u64(h.keys)
	e.u64(h.holders)
	e.u32(crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

func decodeIndexHeader(r io.Reader) (indexHeader, error) {
	raw := make([]byte, indexHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return indexHeader{}, truncated(err)
	}
	if string(raw[:8]) != indexMagic {
		return indexHeader{}, fmt.Errorf("%w: not an index file", ErrCorruptFile)
	}

	d := &decoder{r: bytes.NewReader(raw[8:])}
	if version := d.u16(); version != indexVersion {
		return indexHeader{}, fmt.Errorf("%w: index version %d, want %d", ErrCorruptFile, version, indexVersion)
	}
	var h indexHeader
	h.flags = d.u16()
	h.pointerSize = int(d.u8())
	d.u8()
	h.alignment = int(d.u32())
	copy(h.snapshotID[:], d.bytes(16))
	h.modules = d.u32()
	h.regions = d.u32()
	h.keys = d.u64()
	h.holders = d.u64()
	sum := d.u32()
	if d.err != nil {
		return indexHeader{}, d.err
	}
	if sum != crc32.ChecksumIEEE(raw[:indexHeaderSize-4]) {
		return indexHeader{}, fmt.Errorf("%w: header checksum", ErrCorruptFile)
	}
	if h.flags&^flagZstd != 0 {
		return indexHeader{}, fmt.Errorf("%w: unknown flags 0x%x", ErrCorruptFile, h.flags)
	}
	return h, nil
}

// SaveIndex writes snap and idx to path so later scans can skip capture and
// index construction.
func SaveIndex(path string, snap *snapshot.Snapshot, idx *pointer_index.PointerIndex, opts ...SaveOption) error {
	cfg := saveConfig{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := writeIndex(f, snap, idx, cfg); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	size, _ := f.Seek(0, io.SeekCurrent)
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	log.Infoln("saved", path, humanize.Bytes(uint64(size)), "regions:", len(snap.Regions()), "entries:", humanize.Comma(int64(idx.Len())))
	return nil
}

func writeIndex(w io.Writer, snap *snapshot.Snapshot, idx *pointer_index.PointerIndex, cfg saveConfig) error {
	if idx.Alignment() <= 0 || int64(idx.Alignment()) > math.MaxUint32 {
		return fmt.Errorf("%w: alignment %d does not fit the index header", ErrIO, idx.Alignment())
	}

	keys, ends, holders := idx.Raw()
	hdr := indexHeader{
		pointerSize: snap.PointerSize(),
		alignment:   idx.Alignment(),
		snapshotID:  snap.ID,
		modules:     uint32(len(snap.Modules())),
		regions:     uint32(len(snap.Regions())),
		keys:        uint64(len(keys)),
		holders:     uint64(len(holders)),
	}
	if cfg.compress {
		hdr.flags |= flagZstd
	}

	bw := bufio.NewWriterSize(w, 1<<20)
	if _, err := bw.Write(hdr.encode()); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	var body io.Writer = bw
	var zw *zstd.Encoder
	if cfg.compress {
		var err error
		zw, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(cfg.level))
		if err != nil {
			return fmt.Errorf("zstd encoder: %w", err)
		}
		body = zw
	}

	sum := crc32.NewIEEE()
	e := &encoder{w: io.MultiWriter(body, sum)}
	for _, m := range snap.Modules() {
		e.str(m.Name)
		e.u64(uint64(m.Start))
		e.u64(uint64(m.End))
	}
	for _, r := range snap.Regions() {
		e.u64(uint64(r.Start))
		e.u64(uint64(len(r.Data)))
		e.write(r.Data)
	}
	for _, k := range keys {
		e.u64(uint64(k))
	}
	for _, end := range ends {
		e.u64(end)
	}
	for _, h := range holders {
		e.u64(uint64(h))
	}

	tail := &encoder{w: body}
	tail.u32(sum.Sum32())
	if e.err == nil {
		e.err = tail.err
	}
	if zw != nil {
		if cerr := zw.Close(); e.err == nil {
			e.err = cerr
		}
	}
	if e.err != nil {
		return fmt.Errorf("%w: %w", ErrIO, e.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// LoadIndex reads a file written by SaveIndex.
func LoadIndex(path string) (*snapshot.Snapshot, *pointer_index.PointerIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	snap, idx, err := ReadIndex(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Infoln("loaded", path, "regions:", len(snap.Regions()), "entries:", humanize.Comma(int64(idx.Len())))
	return snap, idx, nil
}

// hashingReader feeds everything read through it into a checksum.
type hashingReader struct {
	r io.Reader
	h hash.Hash32
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	hr.h.Write(p[:n])
	return n, err
}

// ReadIndex decodes an index stream.
func ReadIndex(r io.Reader) (*snapshot.Snapshot, *pointer_index.PointerIndex, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	hdr, err := decodeIndexHeader(br)
	if err != nil {
		return nil, nil, err
	}

	var body io.Reader = br
	if hdr.flags&flagZstd != 0 {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %w", ErrCorruptFile, err)
		}
		defer zr.Close()
		body = zr
	}

	hr := &hashingReader{r: body, h: crc32.NewIEEE()}
	d := &decoder{r: hr}

	modules := make([]process.Module, 0, min(hdr.modules, 1<<12))
	for i := uint32(0); i < hdr.modules && d.err == nil; i++ {
		var m process.Module
		m.Name = d.str()
		m.Start = process.ProcessMemoryAddress(d.u64())
		m.End = process.ProcessMemoryAddress(d.u64())
		modules = append(modules, m)
	}

	regions := make([]snapshot.Region, 0, min(hdr.regions, 1<<16))
	for i := uint32(0); i < hdr.regions && d.err == nil; i++ {
		start := process.ProcessMemoryAddress(d.u64())
		data := d.bytes(d.u64())
		regions = append(regions, snapshot.NewRegion(start, data))
	}

	keys := readAddresses(d, hdr.keys)
	ends := make([]uint64, 0, min(hdr.keys, readChunk/8))
	for i := uint64(0); i < hdr.keys && d.err == nil; i++ {
		ends = append(ends, d.u64())
	}
	holders := readAddresses(d, hdr.holders)

	// the checksum trails the body and is not part of it
	want := hr.h.Sum32()
	got := d.u32()
	if d.err != nil {
		return nil, nil, d.err
	}
	if got != want {
		return nil, nil, fmt.Errorf("%w: body checksum", ErrCorruptFile)
	}

	snap, err := snapshot.New(regions, modules, snapshot.WithPointerSize(hdr.pointerSize), snapshot.WithID(hdr.snapshotID))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	idx, err := pointer_index.FromRaw(hdr.pointerSize, hdr.alignment, keys, ends, holders)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptFile, err)
	}
	return snap, idx, nil
}

func readAddresses(d *decoder, n uint64) []process.ProcessMemoryAddress {
	out := make([]process.ProcessMemoryAddress, 0, min(n, readChunk/8))
	for i := uint64(0); i < n && d.err == nil; i++ {
		out = append(out, process.ProcessMemoryAddress(d.u64()))
	}
	return out
}
