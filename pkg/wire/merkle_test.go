package wire

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

func fakeTxids(n int) []chainhash.Hash256 {
	ids := make([]chainhash.Hash256, n)
	for i := range ids {
		ids[i][0] = byte(i + 1)
		ids[i][31] = byte(n)
	}
	return ids
}

func TestMerkleProofVerifiesAgainstRoot(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13} {
		txids := fakeTxids(n)
		root := ComputeMerkleRoot(txids)
		for pos := 0; pos < n; pos++ {
			proof := ComputeMerkleProof(txids, pos)
			if !VerifyMerkleProof(txids[pos], proof, root) {
				t.Fatalf("n=%d pos=%d: proof did not verify", n, pos)
			}
		}
	}
}

func TestMerkleProofWrongLeafFails(t *testing.T) {
	txids := fakeTxids(6)
	root := ComputeMerkleRoot(txids)
	proof := ComputeMerkleProof(txids, 2)
	var wrong chainhash.Hash256
	wrong[0] = 0xEE
	if VerifyMerkleProof(wrong, proof, root) {
		t.Fatalf("proof verified for a leaf not in the tree")
	}
}

func TestSingleTxRootIsTxid(t *testing.T) {
	txids := fakeTxids(1)
	if ComputeMerkleRoot(txids) != txids[0] {
		t.Fatalf("single-tx merkle root must equal the txid")
	}
}

func TestComputeMerkleBlockLayout(t *testing.T) {
	hdr := &Header{Version: 1, Timestamp: 1700000000}
	txids := fakeTxids(4)
	out := ComputeMerkleBlock(hdr, txids, 1)

	hdrLen := len(hdr.Encode())
	if len(out) <= hdrLen+4 {
		t.Fatalf("merkleblock too short: %d bytes", len(out))
	}
	// Total tx count is a fixed-width little-endian u32 right after the header.
	count := uint32(out[hdrLen]) | uint32(out[hdrLen+1])<<8 | uint32(out[hdrLen+2])<<16 | uint32(out[hdrLen+3])<<24
	if count != 4 {
		t.Fatalf("expected tx count 4, got %d", count)
	}

	nHashes, _, err := ReadCompactSize(out[hdrLen+4:])
	if err != nil {
		t.Fatalf("read hash count: %v", err)
	}
	// For a 4-leaf tree with one match: the matched leaf, its sibling, and
	// the opposite subtree hash.
	if nHashes != 3 {
		t.Fatalf("expected 3 hashes, got %d", nHashes)
	}
}
