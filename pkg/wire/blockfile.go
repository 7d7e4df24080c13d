package wire

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/edsrzf/mmap-go"
)

// ErrNoMagic names the "no further magic marker" condition. No function in
// this package returns it: Scan treats a missing marker as the end of
// usable data and returns nil.
var ErrNoMagic = errors.New("wire: no further magic marker found")

// BlockRecord is one magic-framed entry from a raw block file: the node's
// own on-disk block storage format (network-magic:4 | length:u32-LE |
// block-bytes), which this indexer reads directly instead of streaming
// every block over RPC.
type BlockRecord struct {
	Offset int64
	Block  *Block
}

// MappedFile is a memory-mapped raw block file, scanned independently of
// any other file — blocks may arrive out of height order across files and
// are sequenced later by the indexer, not by file position.
type MappedFile struct {
	f    *os.File
	data mmap.MMap
}

// OpenMappedFile memory-maps path for read-only scanning.
func OpenMappedFile(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MappedFile{f: f, data: data}, nil
}

// Close unmaps and closes the underlying file.
func (m *MappedFile) Close() error {
	err := m.data.Unmap()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Scan walks every magic-framed block in the file, calling fn for each.
// A single corrupt frame does not abort the scan: Scan resyncs forward
// byte-by-byte looking for the next occurrence of magic, matching the
// node's own tolerant reader so a partially-written tail record (the node
// was still writing it when this indexer read the file) is simply skipped.
func (m *MappedFile) Scan(magic uint32, fn func(BlockRecord) error) error {
	data := m.data
	pos := int64(0)
	for {
		off, ok := findMagic(data, pos, magic)
		if !ok {
			return nil
		}
		hdrStart := off + 4
		if hdrStart+4 > int64(len(data)) {
			return nil
		}
		length := binary.LittleEndian.Uint32(data[hdrStart : hdrStart+4])
		blockStart := hdrStart + 4
		blockEnd := blockStart + int64(length)
		if length == 0 || blockEnd > int64(len(data)) {
			// Truncated or bogus length; resync past this magic occurrence.
			pos = off + 1
			continue
		}
		blk, _, err := DecodeBlock(data[blockStart:blockEnd])
		if err != nil {
			pos = off + 1
			continue
		}
		if err := fn(BlockRecord{Offset: off, Block: blk}); err != nil {
			return err
		}
		pos = blockEnd
	}
}

func findMagic(data []byte, from int64, magic uint32) (int64, bool) {
	var want [4]byte
	binary.LittleEndian.PutUint32(want[:], magic)
	for i := from; i+4 <= int64(len(data)); i++ {
		if data[i] == want[0] && data[i+1] == want[1] && data[i+2] == want[2] && data[i+3] == want[3] {
			return i, true
		}
	}
	return 0, false
}
