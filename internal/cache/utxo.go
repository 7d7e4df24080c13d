package cache

import (
	"context"

	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Utxo is one confirmed, currently-unspent output, the unit
// blockchain.scripthash.listunspent (and its colored/uncolored variants)
// page through.
type Utxo struct {
	Txid   chainhash.Hash256
	Vout   uint32
	Height chainhash.Height
	Value  chainhash.Amount
	Color  chainhash.ColorId // zero value means uncolored
}

type utxoSetEntry struct {
	Utxos        []Utxo
	AnchorHeight chainhash.Height
	AnchorHash   chainhash.Hash256
}

// ListUnspent returns every confirmed unspent output for sh, across every
// color, anchored the same way Stats is: a reorg past the anchor triggers a
// full recompute rather than an incremental one. Mempool activity is
// layered on separately by the query package.
func (c *Cache) ListUnspent(ctx context.Context, sh chainhash.Hash256) ([]Utxo, error) {
	key := "u:" + string(sh[:])
	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	tip, err := c.Idx.Tip()
	if err != nil {
		return nil, err
	}

	cacheKey := schema.UtxoCacheKey(sh)
	entry, err := c.loadUtxoEntry(cacheKey)
	if err != nil {
		return nil, err
	}

	if entry != nil && c.Idx.IsBestChain(entry.AnchorHash) {
		entry.Utxos, err = c.refreshUnspent(sh, entry.Utxos, entry.AnchorHeight+1)
	} else {
		entry = &utxoSetEntry{}
		entry.Utxos, err = c.refreshUnspent(sh, nil, 0)
	}
	if err != nil {
		return nil, err
	}
	entry.AnchorHeight = tip.Height
	entry.AnchorHash = tip.Hash

	if err := c.storeUtxoEntry(cacheKey, entry); err != nil {
		return nil, err
	}
	return entry.Utxos, nil
}

// refreshUnspent re-verifies every previously cached entry is still live and
// unspent, then folds in any output funded at fromHeight or later.
func (c *Cache) refreshUnspent(sh chainhash.Hash256, base []Utxo, fromHeight chainhash.Height) ([]Utxo, error) {
	live := make([]Utxo, 0, len(base))
	for _, u := range base {
		row, err := c.Idx.GetTxRow(u.Txid)
		if err != nil || !c.Idx.IsBestChain(row.BlockHash) {
			continue
		}
		spent, err := c.isSpent(u.Txid, u.Vout)
		if err != nil {
			return nil, err
		}
		if !spent {
			live = append(live, u)
		}
	}

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
		if row.Kind != schema.HistoryFunding || !c.rowIsLive(row) {
			return nil
		}
		spent, err := c.isSpent(row.Txid, row.Vout)
		if err != nil {
			return err
		}
		if spent {
			return nil
		}
		live = append(live, Utxo{
			Txid:   row.Txid,
			Vout:   row.Vout,
			Height: row.Height,
			Value:  row.Value,
			Color:  row.Color,
		})
		return nil
	})
	return live, err
}

// isSpent reports whether txid:vout has a recorded spender that is itself
// still confirmed on the best chain. A spend by an orphaned block is
// treated the same as no spend at all: the non-destructive rewind never
// deletes the O-row, so the spender's own liveness must be re-checked here.
func (c *Cache) isSpent(txid chainhash.Hash256, vout uint32) (bool, error) {
	data, err := c.Store.TxStore.Get(schema.SpentByKey(txid, vout))
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	spenderTxid, err := chainhash.HashFromBytes(data)
	if err != nil {
		return false, err
	}
	spenderRow, err := c.Idx.GetTxRow(spenderTxid)
	if err != nil {
		return false, nil
	}
	return c.Idx.IsBestChain(spenderRow.BlockHash), nil
}

func (c *Cache) loadUtxoEntry(key []byte) (*utxoSetEntry, error) {
	data, err := c.Store.Cache.Get(key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e utxoSetEntry
	if err := store.Decode(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Cache) storeUtxoEntry(key []byte, e *utxoSetEntry) error {
	data, err := store.Encode(e)
	if err != nil {
		return err
	}
	return c.Store.Cache.Put(key, data)
}
