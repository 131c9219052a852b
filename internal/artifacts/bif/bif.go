// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bif reads and writes BIF trickplay archives: a header, an index
// table and concatenated JPEG thumbnails at a fixed cadence. Readers can
// fetch metadata without touching the image payload, or one thumbnail by
// index.
package bif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/artifacts"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
)

// Magic bytes per the BIF specification.
var magic = []byte{0x89, 'B', 'I', 'F', '\r', '\n', 0x1a, '\n'}

const (
	version    = 0
	headerSize = 64
	entrySize  = 8

	// DefaultIntervalMs is the thumbnail cadence used by the trickplay
	// generator.
	DefaultIntervalMs = 10_000
)

// IndexEntry locates one thumbnail inside the archive.
type IndexEntry struct {
	TimestampMs uint32
	Offset      uint32
	Length      uint32
}

// Metadata is the header plus index table, read without image payloads.
type Metadata struct {
	Count      int
	IntervalMs uint32
	Entries    []IndexEntry
}

// Encode builds a complete BIF archive from JPEG thumbnails taken
// intervalMs apart. Thumbnail i covers timestamp i*intervalMs.
func Encode(thumbs [][]byte, intervalMs uint32) ([]byte, error) {
	if intervalMs == 0 {
		intervalMs = DefaultIntervalMs
	}
	n := len(thumbs)

	var buf bytes.Buffer
	buf.Write(magic)
	writeUint32(&buf, version)
	writeUint32(&buf, uint32(n)) //nolint:gosec // library-sized counts
	writeUint32(&buf, intervalMs)
	buf.Write(make([]byte, headerSize-buf.Len())) // reserved

	// Index table: n entries plus the end sentinel.
	offset := uint32(headerSize + (n+1)*entrySize) //nolint:gosec
	for i, t := range thumbs {
		writeUint32(&buf, uint32(i)) //nolint:gosec
		writeUint32(&buf, offset)
		offset += uint32(len(t)) //nolint:gosec
	}
	writeUint32(&buf, 0xffffffff)
	writeUint32(&buf, offset)

	for _, t := range thumbs {
		buf.Write(t)
	}
	return buf.Bytes(), nil
}

func writeUint32(w io.Writer, v uint32) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

// decodeMetadata parses header and index from the raw archive prefix.
func decodeMetadata(raw []byte) (*Metadata, error) {
	if len(raw) < headerSize || !bytes.Equal(raw[:len(magic)], magic) {
		return nil, fmt.Errorf("not a BIF file")
	}
	ver := binary.LittleEndian.Uint32(raw[8:12])
	if ver != version {
		return nil, fmt.Errorf("unsupported BIF version %d", ver)
	}
	count := int(binary.LittleEndian.Uint32(raw[12:16]))
	interval := binary.LittleEndian.Uint32(raw[16:20])
	if interval == 0 {
		interval = 1000 // per spec, zero means 1000ms
	}

	need := headerSize + (count+1)*entrySize
	if len(raw) < need {
		return nil, fmt.Errorf("truncated BIF index: have %d, need %d", len(raw), need)
	}

	md := &Metadata{Count: count, IntervalMs: interval, Entries: make([]IndexEntry, count)}
	for i := 0; i < count; i++ {
		base := headerSize + i*entrySize
		ts := binary.LittleEndian.Uint32(raw[base : base+4])
		off := binary.LittleEndian.Uint32(raw[base+4 : base+8])
		next := binary.LittleEndian.Uint32(raw[base+entrySize+4 : base+entrySize+8])
		if next < off {
			return nil, fmt.Errorf("BIF index offsets not monotonic at %d", i)
		}
		md.Entries[i] = IndexEntry{TimestampMs: ts * interval, Offset: off, Length: next - off}
	}
	return md, nil
}

// Store persists BIF archives in the sharded artifact tree.
type Store struct {
	root  string
	locks *artifacts.KeyLocks
	log   zerolog.Logger
}

// NewStore returns a store rooted at the media artifact directory.
func NewStore(root string) *Store {
	return &Store{root: root, locks: artifacts.NewKeyLocks(), log: log.WithComponent("bif")}
}

// Write encodes and atomically persists the archive.
func (s *Store) Write(uuid string, partIndex int, thumbs [][]byte, intervalMs uint32) error {
	unlock := s.locks.Lock(artifacts.Key(uuid, partIndex))
	defer unlock()

	raw, err := Encode(thumbs, intervalMs)
	if err != nil {
		return fmt.Errorf("encode bif: %w", err)
	}
	return artifacts.WriteAtomic(artifacts.BifPath(s.root, uuid, partIndex), raw)
}

// ReadMetadata loads header and index only. Missing archives return
// (nil, nil); corrupt ones are logged and classified ArtifactCorrupt.
func (s *Store) ReadMetadata(uuid string, partIndex int) (*Metadata, error) {
	f, err := os.Open(artifacts.BifPath(s.root, uuid, partIndex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open bif: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat bif: %w", err)
	}

	head := make([]byte, headerSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, s.corrupt(uuid, partIndex, err)
	}
	if !bytes.Equal(head[:len(magic)], magic) {
		return nil, s.corrupt(uuid, partIndex, fmt.Errorf("not a BIF file"))
	}

	// The count is untrusted until it fits the file: a corrupt header must
	// not size an allocation.
	count := int64(binary.LittleEndian.Uint32(head[12:16]))
	need := (count + 1) * entrySize
	if headerSize+need > info.Size() {
		return nil, s.corrupt(uuid, partIndex,
			fmt.Errorf("index count %d exceeds file size %d", count, info.Size()))
	}
	idx := make([]byte, need)
	if _, err := io.ReadFull(f, idx); err != nil {
		return nil, s.corrupt(uuid, partIndex, err)
	}
	md, err := decodeMetadata(append(head, idx...))
	if err != nil {
		return nil, s.corrupt(uuid, partIndex, err)
	}
	return md, nil
}

// ReadThumb returns the JPEG bytes for one index position.
func (s *Store) ReadThumb(uuid string, partIndex, thumbIndex int) ([]byte, error) {
	md, err := s.ReadMetadata(uuid, partIndex)
	if err != nil || md == nil {
		return nil, err
	}
	if thumbIndex < 0 || thumbIndex >= md.Count {
		return nil, errdef.Invalid("thumbnail index %d out of range [0,%d)", thumbIndex, md.Count)
	}
	ent := md.Entries[thumbIndex]

	f, err := os.Open(artifacts.BifPath(s.root, uuid, partIndex))
	if err != nil {
		return nil, fmt.Errorf("open bif: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat bif: %w", err)
	}
	if int64(ent.Offset)+int64(ent.Length) > info.Size() {
		return nil, s.corrupt(uuid, partIndex,
			fmt.Errorf("thumbnail %d spans past file size %d", thumbIndex, info.Size()))
	}

	buf := make([]byte, ent.Length)
	if _, err := f.ReadAt(buf, int64(ent.Offset)); err != nil {
		return nil, s.corrupt(uuid, partIndex, err)
	}
	return buf, nil
}

func (s *Store) corrupt(uuid string, partIndex int, err error) error {
	s.log.Warn().Str("uuid", uuid).Int("part", partIndex).Err(err).Msg("corrupt bif ignored")
	return errdef.Wrap(errdef.KindArtifactCorrupt, err, "bif %s.%d", uuid, partIndex)
}
