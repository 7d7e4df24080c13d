package wire

import "github.com/Klingon-tech/tapyrus-index/pkg/chainhash"

// ComputeMerkleRoot builds a Bitcoin-style merkle root over txids,
// duplicating the last element of an odd-length level, with double-SHA256
// at every node.
func ComputeMerkleRoot(txids []chainhash.Hash256) chainhash.Hash256 {
	if len(txids) == 0 {
		return chainhash.Hash256{}
	}
	level := make([]chainhash.Hash256, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash256, len(level)/2)
		for i := 0; i < len(next); i++ {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = chainhash.DoubleSum256(buf[:])
		}
		level = next
	}
	return level[0]
}

// MerkleProof is the branch of sibling hashes and the leaf's position
// needed to recompute a merkle root from a single txid, the shape both
// Electrum's blockchain.transaction.get_merkle and the HTTP
// /tx/:txid/merkle-proof endpoint return.
type MerkleProof struct {
	Merkle []chainhash.Hash256
	Pos    int
}

// ComputeMerkleProof builds the proof for the transaction at index pos
// among txids.
func ComputeMerkleProof(txids []chainhash.Hash256, pos int) MerkleProof {
	proof := MerkleProof{Pos: pos}
	level := make([]chainhash.Hash256, len(txids))
	copy(level, txids)
	idx := pos

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		siblingIdx := idx ^ 1
		proof.Merkle = append(proof.Merkle, level[siblingIdx])

		next := make([]chainhash.Hash256, len(level)/2)
		for i := 0; i < len(next); i++ {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = chainhash.DoubleSum256(buf[:])
		}
		level = next
		idx /= 2
	}
	return proof
}

// VerifyMerkleProof recomputes a merkle root from leaf, its proof, and
// returns whether it equals root.
func VerifyMerkleProof(leaf chainhash.Hash256, proof MerkleProof, root chainhash.Hash256) bool {
	cur := leaf
	idx := proof.Pos
	for _, sibling := range proof.Merkle {
		var buf [64]byte
		if idx%2 == 0 {
			copy(buf[:32], cur[:])
			copy(buf[32:], sibling[:])
		} else {
			copy(buf[:32], sibling[:])
			copy(buf[32:], cur[:])
		}
		cur = chainhash.DoubleSum256(buf[:])
		idx /= 2
	}
	return cur == root
}

// ComputeMerkleBlock serializes a BIP37-style merkleblock proving that the
// transaction at index pos is included under header's merkle root: the full
// header, the total tx count, a depth-first list of the hashes a verifier
// needs, and the traversal flag bits.
func ComputeMerkleBlock(header *Header, txids []chainhash.Hash256, pos int) []byte {
	b := &merkleBlockBuilder{txids: txids, match: pos}

	height := 0
	for (1 << height) < len(txids) {
		height++
	}
	b.traverse(height, 0)

	buf := header.Encode()
	var count [4]byte
	count[0] = byte(len(txids))
	count[1] = byte(len(txids) >> 8)
	count[2] = byte(len(txids) >> 16)
	count[3] = byte(len(txids) >> 24)
	buf = append(buf, count[:]...)
	buf = PutCompactSize(buf, uint64(len(b.hashes)))
	for _, h := range b.hashes {
		buf = append(buf, h[:]...)
	}
	flagBytes := make([]byte, (len(b.flags)+7)/8)
	for i, set := range b.flags {
		if set {
			flagBytes[i/8] |= 1 << (uint(i) % 8)
		}
	}
	buf = PutCompactSize(buf, uint64(len(flagBytes)))
	return append(buf, flagBytes...)
}

type merkleBlockBuilder struct {
	txids  []chainhash.Hash256
	match  int
	hashes []chainhash.Hash256
	flags  []bool
}

// subtreeHash computes the hash of the subtree of the given height rooted
// at horizontal position idx, with the usual duplicate-last-node rule.
func (b *merkleBlockBuilder) subtreeHash(height, idx int) chainhash.Hash256 {
	if height == 0 {
		if idx >= len(b.txids) {
			idx = len(b.txids) - 1
		}
		return b.txids[idx]
	}
	left := b.subtreeHash(height-1, 2*idx)
	right := left
	if 2*idx+1 < b.width(height-1) {
		right = b.subtreeHash(height-1, 2*idx+1)
	}
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return chainhash.DoubleSum256(buf[:])
}

// width is the node count at a level.
func (b *merkleBlockBuilder) width(height int) int {
	return (len(b.txids) + (1 << height) - 1) >> height
}

// containsMatch reports whether the matched leaf sits under this subtree.
func (b *merkleBlockBuilder) containsMatch(height, idx int) bool {
	return b.match>>height == idx
}

func (b *merkleBlockBuilder) traverse(height, idx int) {
	parentOfMatch := b.containsMatch(height, idx)
	b.flags = append(b.flags, parentOfMatch)
	if height == 0 || !parentOfMatch {
		b.hashes = append(b.hashes, b.subtreeHash(height, idx))
		return
	}
	b.traverse(height-1, 2*idx)
	if 2*idx+1 < b.width(height-1) {
		b.traverse(height-1, 2*idx+1)
	}
}
