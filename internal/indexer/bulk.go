package indexer

import (
	"fmt"

	"github.com/Klingon-tech/tapyrus-index/internal/bulkparser"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// BulkIndex runs the two-phase bulk pass over every raw block file in
// blocksDir: phase 1 parses every file in parallel and writes tx rows;
// phase 2 (which requires phase 1 to be fully complete, since it point-gets
// prevouts out of the tx store) resolves prevouts and writes history rows.
func (idx *Indexer) BulkIndex(blocksDir string) error {
	idx.setPhase(PhaseBulkBuildingTx)
	idx.Log.Info().Str("dir", blocksDir).Msg("scanning raw block files")

	blocks, err := bulkparser.ScanDir(blocksDir, idx.Magic, idx.Workers)
	if err != nil {
		return fmt.Errorf("scan block files: %w", err)
	}
	ordered, orphaned := bulkparser.SequenceFromGenesis(blocks)
	if orphaned > 0 {
		idx.Log.Warn().Int("orphaned", orphaned).Msg("some block files did not chain back to genesis and were skipped")
	}

	if err := idx.bulkPhase1(ordered); err != nil {
		return fmt.Errorf("bulk phase 1: %w", err)
	}
	if err := idx.Store.Flush(); err != nil {
		return fmt.Errorf("flush after phase 1: %w", err)
	}

	idx.setPhase(PhaseBulkBuildingHistory)
	if err := idx.bulkPhase2(ordered); err != nil {
		return fmt.Errorf("bulk phase 2: %w", err)
	}

	idx.setPhase(PhaseCompacting)
	if err := idx.Store.Compact(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	idx.setPhase(PhaseTracking)
	return nil
}

// bulkPhase1 writes, for every block in height order: the block header row,
// the height<->hash index, and one tx row per transaction (fee left at
// zero — it needs phase 2's prevout resolution).
func (idx *Indexer) bulkPhase1(ordered []*wire.Block) error {
	batch := idx.Store.TxStore.(store.Batcher).NewBatch()
	const flushEvery = 2000
	pending := 0

	for height, blk := range ordered {
		h := chainhash.Height(height)
		blockHash := blk.Header.Hash()

		hdrBytes, err := store.Encode(blk.Header)
		if err != nil {
			return err
		}
		if err := batch.Put(schema.BlockKey(blockHash), hdrBytes); err != nil {
			return err
		}
		if err := batch.Put(schema.HeightIndexKey(blockHash), beBytes(uint32(h))); err != nil {
			return err
		}
		if err := batch.Put(schema.HashByHeightKey(h), blockHash.Bytes()); err != nil {
			return err
		}

		txids := blk.Txids()
		txidsData, err := store.Encode(txids)
		if err != nil {
			return err
		}
		if err := batch.Put(schema.BlockTxidsKey(blockHash), txidsData); err != nil {
			return err
		}

		for _, tx := range blk.Txs {
			row := rowbuilder.BuildTxRow(tx)
			row.Height = h
			row.BlockHash = blockHash
			data, err := store.Encode(row)
			if err != nil {
				return err
			}
			if err := batch.Put(schema.TxKey(row.Txid), data); err != nil {
				return err
			}
			if err := batch.Put(schema.TxBlockLocationKey(row.Txid, blockHash), nil); err != nil {
				return err
			}
			pending++
		}
		if err := batch.Put(schema.DoneKey(blockHash), nil); err != nil {
			return err
		}

		pending++
		if pending >= flushEvery {
			if err := batch.Commit(); err != nil {
				return err
			}
			batch = idx.Store.TxStore.(store.Batcher).NewBatch()
			pending = 0
		}
	}
	if pending > 0 {
		if err := batch.Commit(); err != nil {
			return err
		}
	}

	if len(ordered) > 0 {
		tip := schema.Tip{Height: chainhash.Height(len(ordered) - 1), Hash: ordered[len(ordered)-1].Header.Hash()}
		if err := idx.writeTip(tip); err != nil {
			return err
		}
	}
	return nil
}

// bulkPhase2 resolves every transaction's prevouts against the now-complete
// tx store and writes the resulting history and colored-coin rows, plus the
// now-known fee back onto each tx row.
func (idx *Indexer) bulkPhase2(ordered []*wire.Block) error {
	historyBatch := idx.Store.History.(store.Batcher).NewBatch()
	txBatch := idx.Store.TxStore.(store.Batcher).NewBatch()
	cacheBatch := idx.Store.Cache.(store.Batcher).NewBatch()
	const flushEvery = 2000
	pending := 0

	for _, blk := range ordered {
		blockHash := blk.Header.Hash()
		if done, err := idx.Store.TxStore.Has(schema.DoneKey(blockHash)); err != nil {
			return err
		} else if !done {
			continue
		}

		for _, tx := range blk.Txs {
			txid := tx.Txid()
			rowData, err := idx.Store.TxStore.Get(schema.TxKey(txid))
			if err != nil {
				return fmt.Errorf("missing phase-1 row for %s: %w", txid, err)
			}
			var row rowbuilder.TxRow
			if err := store.Decode(rowData, &row); err != nil {
				return err
			}

			prevoutSH := make(map[chainhash.OutPoint]chainhash.Hash256, len(row.Inputs))
			prevoutVal := make(map[chainhash.OutPoint]chainhash.Amount, len(row.Inputs))
			inputColors := make(map[chainhash.OutPoint]chainhash.ColorId, len(row.Inputs))
			for _, in := range row.Inputs {
				if in.PrevOut.IsCoinbase() {
					continue
				}
				if err := txBatch.Put(schema.SpentByKey(in.PrevOut.Hash, in.PrevOut.Index), txid.Bytes()); err != nil {
					return err
				}
				prevData, err := idx.Store.TxStore.Get(schema.TxKey(in.PrevOut.Hash))
				if err != nil {
					continue // prevout outside this bulk set (shouldn't happen for a consistent file set)
				}
				var prevRow rowbuilder.TxRow
				if err := store.Decode(prevData, &prevRow); err != nil {
					continue
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

			rowbuilder.ComputeFee(&row, prevoutVal)
			for _, hr := range rowbuilder.BuildFundingRows(&row, idx.IndexUnspendables) {
				data, err := store.Encode(hr)
				if err != nil {
					return err
				}
				if err := historyBatch.Put(hr.Key(), data); err != nil {
					return err
				}
			}
			if idx.AddressSearch {
				for _, a := range rowbuilder.BuildAddressIndexRows(&row) {
					if err := cacheBatch.Put(schema.AddressIndexKey(a.Address), a.Script); err != nil {
						return err
					}
				}
			}
			for _, hr := range rowbuilder.BuildSpendingRows(&row, prevoutSH, prevoutVal, inputColors) {
				data, err := store.Encode(hr)
				if err != nil {
					return err
				}
				if err := historyBatch.Put(hr.Key(), data); err != nil {
					return err
				}
			}
			for _, cr := range rowbuilder.BuildColorRows(&row, inputColors, prevoutVal) {
				data, err := store.Encode(cr)
				if err != nil {
					return err
				}
				if err := historyBatch.Put(cr.Key(), data); err != nil {
					return err
				}
			}

			updated, err := store.Encode(row)
			if err != nil {
				return err
			}
			if err := txBatch.Put(schema.TxKey(txid), updated); err != nil {
				return err
			}

			pending++
			if pending >= flushEvery {
				if err := historyBatch.Commit(); err != nil {
					return err
				}
				if err := txBatch.Commit(); err != nil {
					return err
				}
				if err := cacheBatch.Commit(); err != nil {
					return err
				}
				historyBatch = idx.Store.History.(store.Batcher).NewBatch()
				txBatch = idx.Store.TxStore.(store.Batcher).NewBatch()
				cacheBatch = idx.Store.Cache.(store.Batcher).NewBatch()
				pending = 0
			}
		}
	}

	if pending > 0 {
		if err := historyBatch.Commit(); err != nil {
			return err
		}
		if err := cacheBatch.Commit(); err != nil {
			return err
		}
		if err := txBatch.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func beBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
