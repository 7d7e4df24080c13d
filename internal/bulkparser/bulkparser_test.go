package bulkparser

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

const testMagic uint32 = 0x00F0FF01

func testBlock(prev chainhash.Hash256, seq uint32) *wire.Block {
	return &wire.Block{
		Header: &wire.Header{Version: 1, PrevHash: prev, Timestamp: 1700000000 + seq},
		Txs: []*wire.Transaction{{
			Version: 1,
			Inputs: []wire.TxIn{{
				PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
				Sequence: seq,
			}},
			Outputs: []wire.TxOut{{Value: 5000000000, Script: []byte{0x51}}},
		}},
	}
}

func encodeBlock(blk *wire.Block) []byte {
	buf := blk.Header.Encode()
	buf = wire.PutCompactSize(buf, uint64(len(blk.Txs)))
	for _, tx := range blk.Txs {
		buf = append(buf, tx.Encode()...)
	}
	return buf
}

func frame(blk *wire.Block) []byte {
	body := encodeBlock(blk)
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, testMagic)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func writeBlockFile(t *testing.T, dir, name string, chunks ...[]byte) string {
	t.Helper()
	var data []byte
	for _, c := range chunks {
		data = append(data, c...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestScanFilesFindsFramedBlocks(t *testing.T) {
	dir := t.TempDir()
	genesis := testBlock(chainhash.Hash256{}, 1)
	child := testBlock(genesis.Header.Hash(), 2)

	writeBlockFile(t, dir, "blk00000.dat", frame(genesis), frame(child))

	got, err := ScanDir(dir, testMagic, 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	if _, ok := got[genesis.Header.Hash()]; !ok {
		t.Fatalf("genesis block missing from scan result")
	}
}

func TestScanResyncsPastPadding(t *testing.T) {
	dir := t.TempDir()
	genesis := testBlock(chainhash.Hash256{}, 1)
	child := testBlock(genesis.Header.Hash(), 2)

	padding := make([]byte, 37) // zero bytes between frames, as the daemon leaves
	writeBlockFile(t, dir, "blk00000.dat", frame(genesis), padding, frame(child), padding)

	got, err := ScanDir(dir, testMagic, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected padding to be skipped, got %d blocks", len(got))
	}
}

func TestScanSkipsTruncatedTailRecord(t *testing.T) {
	dir := t.TempDir()
	genesis := testBlock(chainhash.Hash256{}, 1)

	// A frame header claiming more bytes than the file holds: the record the
	// daemon was mid-write on when we mapped the file.
	var truncated []byte
	truncated = binary.LittleEndian.AppendUint32(truncated, testMagic)
	truncated = binary.LittleEndian.AppendUint32(truncated, 100000)
	truncated = append(truncated, 0xAB, 0xCD)

	writeBlockFile(t, dir, "blk00000.dat", frame(genesis), truncated)

	got, err := ScanDir(dir, testMagic, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the complete block, got %d", len(got))
	}
}

func TestSequenceFromGenesisOrdersAcrossFiles(t *testing.T) {
	genesis := testBlock(chainhash.Hash256{}, 1)
	b1 := testBlock(genesis.Header.Hash(), 2)
	b2 := testBlock(b1.Header.Hash(), 3)
	orphan := testBlock(chainhash.Hash256{0xEE}, 4) // parent never seen

	blocks := map[chainhash.Hash256]*wire.Block{
		b2.Header.Hash():      b2,
		genesis.Header.Hash(): genesis,
		orphan.Header.Hash():  orphan,
		b1.Header.Hash():      b1,
	}
	ordered, orphaned := SequenceFromGenesis(blocks)
	if len(ordered) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(ordered))
	}
	if orphaned != 1 {
		t.Fatalf("expected 1 orphan, got %d", orphaned)
	}
	for i, want := range []*wire.Block{genesis, b1, b2} {
		if ordered[i].Header.Hash() != want.Header.Hash() {
			t.Fatalf("position %d out of order", i)
		}
	}
}
