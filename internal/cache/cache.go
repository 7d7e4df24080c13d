// Package cache lazily computes and caches per-scripthash and per-color
// summaries (funded/spent totals, live UTXO sets), anchored to the block
// hash they were computed against so a reorg invalidates them without any
// background sweep: the next reader just notices the anchor fell off the
// best chain and recomputes. Concurrent requests for the same key coalesce
// behind a per-key mutex so at most one recomputation is in flight.
package cache

import (
	"context"
	"sync"

	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Stats is a scripthash's funded/spent summary for one color (the all-zero
// ColorId means the native/uncolored balance).
type Stats struct {
	FundedSum   chainhash.Amount
	SpentSum    chainhash.Amount
	FundedCount int
	SpentCount  int
}

// Balance returns the live (unspent) balance implied by Stats.
func (s Stats) Balance() int64 {
	return int64(s.FundedSum) - int64(s.SpentSum)
}

type statsEntry struct {
	Stats        Stats
	AnchorHeight chainhash.Height
	AnchorHash   chainhash.Hash256
}

// Cache computes and memoizes per-scripthash/color aggregations against the
// indexer's store.
type Cache struct {
	Store *store.Store
	Idx   *indexer.Indexer

	keyMu sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Cache over st, validating entries against idx's current
// best-chain state.
func New(st *store.Store, idx *indexer.Indexer) *Cache {
	return &Cache{Store: st, Idx: idx, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns a mutex scoped to key, coalescing concurrent requests for
// the same scripthash/color into a single recomputation.
func (c *Cache) lockFor(key string) *sync.Mutex {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	return m
}

// Stats returns the funded/spent summary for a (scripthash, color) pair,
// confirmed rows only (mempool activity is layered on by the query
// package). color is the all-zero ColorId for the native balance.
func (c *Cache) Stats(ctx context.Context, sh chainhash.Hash256, color chainhash.ColorId) (Stats, error) {
	key := "s:" + string(sh[:]) + string(color[:])
	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	tip, err := c.Idx.Tip()
	if err != nil {
		return Stats{}, err
	}

	cacheKey := schema.AggCacheKey(sh, color)
	entry, err := c.loadStatsEntry(cacheKey)
	if err != nil {
		return Stats{}, err
	}
	if entry != nil && c.Idx.IsBestChain(entry.AnchorHash) {
		entry.Stats, err = c.replayStats(sh, color, entry.Stats, entry.AnchorHeight+1)
		if err != nil {
			return Stats{}, err
		}
	} else {
		entry = &statsEntry{}
		entry.Stats, err = c.replayStats(sh, color, Stats{}, 0)
		if err != nil {
			return Stats{}, err
		}
	}
	entry.AnchorHeight = tip.Height
	entry.AnchorHash = tip.Hash

	if err := c.storeStatsEntry(cacheKey, entry); err != nil {
		return Stats{}, err
	}
	return entry.Stats, nil
}

// ColorsSeen returns every color id (including the all-zero native entry,
// if present) this scripthash has a cached balance for, used to answer
// blockchain.scripthash.get_balance's "one entry per color present" shape
// without scanning the whole history fresh each time.
func (c *Cache) ColorsSeen(ctx context.Context, sh chainhash.Hash256) ([]chainhash.ColorId, error) {
	prefix := schema.AggCachePrefix(sh)
	var colors []chainhash.ColorId
	err := c.Store.Cache.ForEach(prefix, func(key, _ []byte) error {
		tail := key[len(prefix):]
		if len(tail) != chainhash.ColorIdSize {
			return nil
		}
		var color chainhash.ColorId
		copy(color[:], tail)
		colors = append(colors, color)
		return nil
	})
	return colors, err
}

// replayStats walks every H{sh} row from fromHeight forward, filtering out
// rows whose confirming block has since been orphaned and rows of a
// different color, and folds them into base.
func (c *Cache) replayStats(sh chainhash.Hash256, color chainhash.ColorId, base Stats, fromHeight chainhash.Height) (Stats, error) {
	stats := base
	boundPrefix := schema.HistoryPrefix(sh)
	seekKey := boundPrefix
	if fromHeight > 0 {
		seekKey = schema.HistoryPrefixFromHeight(sh, fromHeight)
	}
	err := c.Store.History.ForEachFrom(boundPrefix, seekKey, func(key, value []byte) error {
		var row rowbuilder.HistoryRow
		if err := store.Decode(value, &row); err != nil {
			return nil
		}
		if row.Color != color {
			return nil
		}
		if !c.rowIsLive(row) {
			return nil
		}
		switch row.Kind {
		case schema.HistoryFunding:
			stats.FundedSum += row.Value
			stats.FundedCount++
		case schema.HistorySpending:
			stats.SpentSum += row.Value
			stats.SpentCount++
		}
		return nil
	})
	return stats, err
}

// rowIsLive reports whether a history row's confirming transaction is still
// recorded against the block currently considered best chain at that
// height (non-destructive rewind means the row itself is never deleted).
func (c *Cache) rowIsLive(row rowbuilder.HistoryRow) bool {
	if row.Height == chainhash.MaxHeight {
		return true // mempool rows are handled by the mempool package, not here
	}
	txRow, err := c.Idx.GetTxRow(row.Txid)
	if err != nil {
		return false
	}
	best, ok := c.Idx.HashAtHeight(context.Background(), row.Height)
	return ok && best == txRow.BlockHash
}

// RowIsLive exposes rowIsLive to other packages (the query layer's own
// fresh history scans need the same orphan filter the cache replay uses).
func (c *Cache) RowIsLive(row rowbuilder.HistoryRow) bool {
	return c.rowIsLive(row)
}

func (c *Cache) loadStatsEntry(key []byte) (*statsEntry, error) {
	data, err := c.Store.Cache.Get(key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e statsEntry
	if err := store.Decode(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Cache) storeStatsEntry(key []byte, e *statsEntry) error {
	data, err := store.Encode(e)
	if err != nil {
		return err
	}
	return c.Store.Cache.Put(key, data)
}
