package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// MaxReorgDepth bounds how far back Track will walk looking for a common
// ancestor before giving up and surfacing an error — a daemon reporting a
// fork deeper than this almost certainly means a restart with a different
// chain or a corrupted local index, neither of which rewinding further would
// fix.
const MaxReorgDepth = 1000

// Track polls the daemon for its current tip and applies new blocks (or
// rewinds and reapplies on a fork) until ctx is cancelled.
func (idx *Indexer) Track(ctx context.Context, interval time.Duration) error {
	idx.setPhase(PhaseTracking)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := idx.syncOnce(ctx); err != nil {
			idx.Log.Error().Err(err).Msg("tip sync failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syncOnce advances the local tip by at most one daemon poll's worth of
// work: if the daemon is ahead, it either extends the local chain block by
// block or, on a fork, rewinds to the common ancestor first.
func (idx *Indexer) syncOnce(ctx context.Context) error {
	daemonHash, err := idx.Node.BestBlockHash(ctx)
	if err != nil {
		return fmt.Errorf("get daemon tip: %w", err)
	}
	tip, err := idx.Tip()
	if err != nil {
		return fmt.Errorf("read local tip: %w", err)
	}
	if daemonHash == tip.Hash {
		return nil // already caught up
	}

	daemonHeight, err := idx.Node.BlockCount(ctx)
	if err != nil {
		return fmt.Errorf("get daemon height: %w", err)
	}

	if daemonHeight > tip.Height {
		nextHash, err := idx.Node.BlockHashAtHeight(ctx, tip.Height+1)
		if err == nil {
			blk, err := idx.Node.RawBlock(ctx, nextHash)
			if err == nil && blk.Header.PrevHash == tip.Hash {
				return idx.ApplyBlock(blk, tip.Height+1)
			}
		}
	}

	return idx.reorgAndResync(ctx, tip)
}

// ApplyBlock indexes a single new block on top of the current tip: it mirrors
// the bulk indexer's two phases but against one block instead of the whole
// file set, since during tracking a block's prevouts are almost always
// already confirmed (same-block spends fall back to the block's own earlier
// outputs).
func (idx *Indexer) ApplyBlock(blk *wire.Block, height chainhash.Height) error {
	blockHash := blk.Header.Hash()
	idx.Log.Info().Uint32("height", uint32(height)).Str("hash", blockHash.String()).Msg("applying block")

	hdrBytes, err := store.Encode(blk.Header)
	if err != nil {
		return err
	}
	if err := idx.Store.TxStore.Put(schema.BlockKey(blockHash), hdrBytes); err != nil {
		return err
	}
	if err := idx.Store.TxStore.Put(schema.HeightIndexKey(blockHash), beBytes(uint32(height))); err != nil {
		return err
	}
	if err := idx.Store.TxStore.Put(schema.HashByHeightKey(height), blockHash.Bytes()); err != nil {
		return err
	}
	txidsData, err := store.Encode(blk.Txids())
	if err != nil {
		return err
	}
	if err := idx.Store.TxStore.Put(schema.BlockTxidsKey(blockHash), txidsData); err != nil {
		return err
	}

	inBlock := make(map[chainhash.Hash256]*rowbuilder.TxRow, len(blk.Txs))
	rows := make([]*rowbuilder.TxRow, 0, len(blk.Txs))
	for _, tx := range blk.Txs {
		row := rowbuilder.BuildTxRow(tx)
		row.Height = height
		row.BlockHash = blockHash
		inBlock[row.Txid] = row
		rows = append(rows, row)
	}

	for _, row := range rows {
		prevoutSH := make(map[chainhash.OutPoint]chainhash.Hash256, len(row.Inputs))
		prevoutVal := make(map[chainhash.OutPoint]chainhash.Amount, len(row.Inputs))
		inputColors := make(map[chainhash.OutPoint]chainhash.ColorId, len(row.Inputs))

		for _, in := range row.Inputs {
			if in.PrevOut.IsCoinbase() {
				continue
			}
			if err := idx.Store.TxStore.Put(schema.SpentByKey(in.PrevOut.Hash, in.PrevOut.Index), row.Txid.Bytes()); err != nil {
				return err
			}
			var prevRow *rowbuilder.TxRow
			if r, ok := inBlock[in.PrevOut.Hash]; ok {
				prevRow = r
			} else {
				data, err := idx.Store.TxStore.Get(schema.TxKey(in.PrevOut.Hash))
				if err != nil {
					continue
				}
				var r rowbuilder.TxRow
				if err := store.Decode(data, &r); err != nil {
					continue
				}
				prevRow = &r
			}
			if int(in.PrevOut.Index) >= len(prevRow.Outputs) {
				continue
			}
			out := prevRow.Outputs[in.PrevOut.Index]
			prevoutSH[in.PrevOut] = out.ScriptHash
			prevoutVal[in.PrevOut] = out.Value
			if !out.Color.IsZero() {
				inputColors[in.PrevOut] = out.Color
			}
		}

		rowbuilder.ComputeFee(row, prevoutVal)

		if err := idx.Store.TxStore.Put(schema.TxKey(row.Txid), mustEncode(row)); err != nil {
			return err
		}
		if err := idx.Store.TxStore.Put(schema.TxBlockLocationKey(row.Txid, blockHash), nil); err != nil {
			return err
		}

		for _, hr := range rowbuilder.BuildFundingRows(row, idx.IndexUnspendables) {
			data, err := store.Encode(hr)
			if err != nil {
				return err
			}
			if err := idx.Store.History.Put(hr.Key(), data); err != nil {
				return err
			}
		}
		if err := idx.writeAddressIndexRows(row); err != nil {
			return err
		}
		for _, hr := range rowbuilder.BuildSpendingRows(row, prevoutSH, prevoutVal, inputColors) {
			data, err := store.Encode(hr)
			if err != nil {
				return err
			}
			if err := idx.Store.History.Put(hr.Key(), data); err != nil {
				return err
			}
		}
		for _, cr := range rowbuilder.BuildColorRows(row, inputColors, prevoutVal) {
			data, err := store.Encode(cr)
			if err != nil {
				return err
			}
			if err := idx.Store.History.Put(cr.Key(), data); err != nil {
				return err
			}
		}
	}

	if err := idx.Store.TxStore.Put(schema.DoneKey(blockHash), nil); err != nil {
		return err
	}

	return idx.writeTip(schema.Tip{Height: height, Hash: blockHash})
}

func mustEncode(row *rowbuilder.TxRow) []byte {
	data, err := store.Encode(row)
	if err != nil {
		// TxRow only contains plain fields/slices; encoding failure here
		// would mean the codec itself is broken, not bad input.
		panic(fmt.Sprintf("encode tx row: %v", err))
	}
	return data
}

// reorgAndResync walks the local chain back from tip looking for a block
// height where the daemon's hash matches ours (the common ancestor), then
// re-applies the daemon's chain forward from there. Orphaned rows are never
// deleted: HashByHeightKey is simply repointed to the new chain's blocks, so
// IsBestChain correctly stops considering the old branch's rows current.
func (idx *Indexer) reorgAndResync(ctx context.Context, tip schema.Tip) error {
	idx.Log.Warn().Uint32("height", uint32(tip.Height)).Msg("possible fork detected, searching for common ancestor")

	height := tip.Height
	for depth := 0; depth < MaxReorgDepth && height > 0; depth++ {
		daemonHash, err := idx.Node.BlockHashAtHeight(ctx, height)
		if err != nil {
			return fmt.Errorf("get daemon hash at height %d: %w", height, err)
		}
		localHash, ok := idx.HashAtHeight(ctx, height)
		if ok && daemonHash == localHash {
			if height < tip.Height {
				metrics.ReorgsDetected.Inc()
			}
			return idx.resyncFrom(ctx, height)
		}
		height--
	}
	return fmt.Errorf("no common ancestor found within %d blocks of height %d", MaxReorgDepth, tip.Height)
}

// resyncFrom re-applies the daemon's chain starting one block above
// ancestorHeight, which is already known to match the local chain.
func (idx *Indexer) resyncFrom(ctx context.Context, ancestorHeight chainhash.Height) error {
	if err := idx.writeTip(schema.Tip{Height: ancestorHeight, Hash: mustAncestorHash(idx, ctx, ancestorHeight)}); err != nil {
		return err
	}

	daemonHeight, err := idx.Node.BlockCount(ctx)
	if err != nil {
		return err
	}
	for h := ancestorHeight + 1; h <= daemonHeight; h++ {
		hash, err := idx.Node.BlockHashAtHeight(ctx, h)
		if err != nil {
			return err
		}
		blk, err := idx.Node.RawBlock(ctx, hash)
		if err != nil {
			return err
		}
		if err := idx.ApplyBlock(blk, h); err != nil {
			return err
		}
	}
	return nil
}

func mustAncestorHash(idx *Indexer, ctx context.Context, height chainhash.Height) chainhash.Hash256 {
	h, _ := idx.HashAtHeight(ctx, height)
	return h
}
