package query

import (
	"context"

	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// BlockSummary is a confirmed block's header plus its height and ordered
// txid list, the shape behind /block/:hash and /blocks listings.
type BlockSummary struct {
	Hash   chainhash.Hash256
	Height chainhash.Height
	Header *wire.Header
	Txids  []chainhash.Hash256
}

// Block fetches a confirmed block by hash. Orphaned (non-best-chain) blocks
// are still returned — a client asking for a specific hash gets whatever
// was confirmed under it, best-chain or not, the same way the daemon's own
// getblock behaves.
func (q *Query) Block(ctx context.Context, hash chainhash.Hash256) (*BlockSummary, error) {
	hdrData, err := q.Store.TxStore.Get(schema.BlockKey(hash))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, xerrors.New(xerrors.Client, "block not found")
		}
		return nil, xerrors.Wrap(xerrors.Corruption, "read block header", err)
	}
	var hdr wire.Header
	if err := store.Decode(hdrData, &hdr); err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "decode block header", err)
	}
	heightData, err := q.Store.TxStore.Get(schema.HeightIndexKey(hash))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "read block height", err)
	}
	if len(heightData) != 4 {
		return nil, xerrors.New(xerrors.Corruption, "malformed height index row")
	}
	height := chainhash.Height(uint32(heightData[0])<<24 | uint32(heightData[1])<<16 | uint32(heightData[2])<<8 | uint32(heightData[3]))

	txids, err := q.blockTxids(hash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "read block txids", err)
	}
	return &BlockSummary{Hash: hash, Height: height, Header: &hdr, Txids: txids}, nil
}

// BlockAtHeight resolves the best-chain block at height and fetches it.
func (q *Query) BlockAtHeight(ctx context.Context, height chainhash.Height) (*BlockSummary, error) {
	hash, ok := q.Idx.HashAtHeight(ctx, height)
	if !ok {
		return nil, xerrors.New(xerrors.Client, "no block at that height")
	}
	return q.Block(ctx, hash)
}

// Blocks lists up to count best-chain blocks starting at startHeight and
// descending, the shape behind GET /blocks[/:start].
func (q *Query) Blocks(ctx context.Context, startHeight chainhash.Height, count int) ([]*BlockSummary, error) {
	out := make([]*BlockSummary, 0, count)
	h := startHeight
	for len(out) < count {
		blk, err := q.BlockAtHeight(ctx, h)
		if err != nil {
			break
		}
		out = append(out, blk)
		if h == 0 {
			break
		}
		h--
	}
	return out, nil
}

// MerkleBlock serializes the BIP37-style merkleblock binary proof that
// /tx/:txid/merkleblock-proof serves.
func (q *Query) MerkleBlock(ctx context.Context, blk *BlockSummary, txid chainhash.Hash256) ([]byte, error) {
	pos := -1
	for i, id := range blk.Txids {
		if id == txid {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, xerrors.New(xerrors.Corruption, "txid missing from its own block's txid list")
	}
	return wire.ComputeMerkleBlock(blk.Header, blk.Txids, pos), nil
}

// MerkleProof builds the merkle branch proving txid is included in its
// confirming block, for blockchain.transaction.get_merkle and
// /tx/:txid/merkle-proof.
func (q *Query) MerkleProof(ctx context.Context, txid chainhash.Hash256) (wire.MerkleProof, TxStatus, error) {
	status, err := q.Status(ctx, txid)
	if err != nil {
		return wire.MerkleProof{}, TxStatus{}, err
	}
	if !status.Confirmed {
		return wire.MerkleProof{}, status, xerrors.New(xerrors.Client, "transaction is not confirmed")
	}
	txids, err := q.blockTxids(status.BlockHash)
	if err != nil {
		return wire.MerkleProof{}, status, xerrors.Wrap(xerrors.Corruption, "read block txids", err)
	}
	pos := -1
	for i, id := range txids {
		if id == txid {
			pos = i
			break
		}
	}
	if pos < 0 {
		return wire.MerkleProof{}, status, xerrors.New(xerrors.Corruption, "txid missing from its own block's txid list")
	}
	return wire.ComputeMerkleProof(txids, pos), status, nil
}
