package cache

import (
	"context"

	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// ColorStats is a colored-coin's issuance/transfer/burn summary.
type ColorStats struct {
	IssuedSum      chainhash.Amount
	TransferredSum chainhash.Amount
	BurnedSum      chainhash.Amount
	TxCount        int
}

type colorStatsEntry struct {
	Stats        ColorStats
	AnchorHeight chainhash.Height
	AnchorHash   chainhash.Hash256
}

// ColorStats returns the issued/transferred/burned summary for a color id,
// anchored and replayed the same way scripthash Stats is.
func (c *Cache) ColorStats(ctx context.Context, color chainhash.ColorId) (ColorStats, error) {
	key := "c:" + string(color[:])
	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	tip, err := c.Idx.Tip()
	if err != nil {
		return ColorStats{}, err
	}

	cacheKey := schema.ColorAggCacheKey(color)
	entry, err := c.loadColorStatsEntry(cacheKey)
	if err != nil {
		return ColorStats{}, err
	}
	if entry != nil && c.Idx.IsBestChain(entry.AnchorHash) {
		entry.Stats, err = c.replayColorStats(color, entry.Stats, entry.AnchorHeight+1)
	} else {
		entry = &colorStatsEntry{}
		entry.Stats, err = c.replayColorStats(color, ColorStats{}, 0)
	}
	if err != nil {
		return ColorStats{}, err
	}
	entry.AnchorHeight = tip.Height
	entry.AnchorHash = tip.Hash

	if err := c.storeColorStatsEntry(cacheKey, entry); err != nil {
		return ColorStats{}, err
	}
	return entry.Stats, nil
}

// replayColorStats walks every c{color} row from fromHeight forward,
// filtering out rows whose confirming block has since been orphaned, and
// folds them into base.
func (c *Cache) replayColorStats(color chainhash.ColorId, base ColorStats, fromHeight chainhash.Height) (ColorStats, error) {
	stats := base
	boundPrefix := schema.ColorHistoryPrefix(color)
	seekKey := boundPrefix
	if fromHeight > 0 {
		seekKey = schema.ColorHistoryPrefixFromHeight(color, fromHeight)
	}
	err := c.Store.History.ForEachFrom(boundPrefix, seekKey, func(key, value []byte) error {
		var row rowbuilder.ColorHistoryRow
		if err := store.Decode(value, &row); err != nil {
			return nil
		}
		if !c.colorRowIsLive(row) {
			return nil
		}
		switch row.Kind {
		case schema.ColorIssue:
			stats.IssuedSum += row.Amount
			stats.TxCount++
		case schema.ColorTransfer:
			stats.TransferredSum += row.Amount
			stats.TxCount++
		case schema.ColorBurn:
			stats.BurnedSum += row.Amount
			stats.TxCount++
		}
		return nil
	})
	return stats, err
}

func (c *Cache) colorRowIsLive(row rowbuilder.ColorHistoryRow) bool {
	if row.Height == chainhash.MaxHeight {
		return true
	}
	txRow, err := c.Idx.GetTxRow(row.Txid)
	if err != nil {
		return false
	}
	return c.Idx.IsBestChain(txRow.BlockHash)
}

func (c *Cache) loadColorStatsEntry(key []byte) (*colorStatsEntry, error) {
	data, err := c.Store.Cache.Get(key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e colorStatsEntry
	if err := store.Decode(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Cache) storeColorStatsEntry(key []byte, e *colorStatsEntry) error {
	data, err := store.Encode(e)
	if err != nil {
		return err
	}
	return c.Store.Cache.Put(key, data)
}
