package wire

import (
	"encoding/binary"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Header is a Tapyrus block header. Unlike Bitcoin, Tapyrus has no
// proof-of-work field: blocks are signed by a federation, and the header
// carries an immutable merkle root (covering only fields fixed across the
// signing round) plus an aggregate signature ("proof") appended after the
// hashable fields. The block hash is computed over everything except the
// proof, so a block's identity does not change when signers append it.
type Header struct {
	Version        int32
	PrevHash       chainhash.Hash256
	MerkleRoot     chainhash.Hash256
	ImMerkleRoot   chainhash.Hash256
	Timestamp      uint32
	XFieldType     uint8
	XFieldValue    []byte
	Proof          []byte
}

// hashableBytes returns the header fields that participate in the block
// hash, excluding Proof.
func (h *Header) hashableBytes() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Version))
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = append(buf, h.ImMerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = append(buf, h.XFieldType)
	buf = PutCompactSize(buf, uint64(len(h.XFieldValue)))
	buf = append(buf, h.XFieldValue...)
	return buf
}

// Encode serializes the full header, including the trailing proof.
func (h *Header) Encode() []byte {
	buf := h.hashableBytes()
	buf = PutCompactSize(buf, uint64(len(h.Proof)))
	buf = append(buf, h.Proof...)
	return buf
}

// Hash computes the block hash: double-SHA256 of the hashable fields only.
func (h *Header) Hash() chainhash.Hash256 {
	return chainhash.DoubleSum256(h.hashableBytes())
}

// DecodeHeader parses a header from b, returning bytes consumed.
func DecodeHeader(b []byte) (*Header, int, error) {
	if len(b) < 4+32+32+32+4+1 {
		return nil, 0, ErrMalformedTx
	}
	off := 0
	h := &Header{}
	h.Version = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	var err error
	if h.PrevHash, err = chainhash.HashFromBytes(b[off : off+32]); err != nil {
		return nil, 0, err
	}
	off += 32
	if h.MerkleRoot, err = chainhash.HashFromBytes(b[off : off+32]); err != nil {
		return nil, 0, err
	}
	off += 32
	if h.ImMerkleRoot, err = chainhash.HashFromBytes(b[off : off+32]); err != nil {
		return nil, 0, err
	}
	off += 32
	h.Timestamp = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	h.XFieldType = b[off]
	off++

	xlen, n, err := ReadCompactSize(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if uint64(len(b)) < uint64(off)+xlen {
		return nil, 0, ErrMalformedTx
	}
	h.XFieldValue = append([]byte(nil), b[off:off+int(xlen)]...)
	off += int(xlen)

	plen, n, err := ReadCompactSize(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if uint64(len(b)) < uint64(off)+plen {
		return nil, 0, ErrMalformedTx
	}
	h.Proof = append([]byte(nil), b[off:off+int(plen)]...)
	off += int(plen)

	return h, off, nil
}

// Block is a header plus its transaction list.
type Block struct {
	Header *Header
	Txs    []*Transaction
}

// DecodeBlock parses a full block from b.
func DecodeBlock(b []byte) (*Block, int, error) {
	h, n, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	off := n
	nTx, n, err := ReadCompactSize(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	txs := make([]*Transaction, nTx)
	for i := range txs {
		tx, n, err := DecodeTransaction(b[off:])
		if err != nil {
			return nil, 0, err
		}
		txs[i] = tx
		off += n
	}
	return &Block{Header: h, Txs: txs}, off, nil
}

// Txids returns the double-SHA256 txid of every transaction in the block,
// in block order.
func (blk *Block) Txids() []chainhash.Hash256 {
	ids := make([]chainhash.Hash256, len(blk.Txs))
	for i, tx := range blk.Txs {
		ids[i] = tx.Txid()
	}
	return ids
}
