// Package mempool maintains an in-memory replica of the daemon's mempool:
// not an admission-control pool (the daemon already decided these
// transactions are valid), just enough bookkeeping to answer unconfirmed
// balance/history/fee-estimate queries: an RW-lock pool with fee-rate
// eviction and a prevout conflict index.
package mempool

import (
	"math"
	"sort"
	"sync"

	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// PrevoutResolver looks up a confirmed output's scripthash, value, and
// color — the indexer's store, consulted when a mempool tx's prevout isn't
// itself another mempool entry (an ancestor).
type PrevoutResolver interface {
	ResolveOutput(op chainhash.OutPoint) (scriptHash chainhash.Hash256, value chainhash.Amount, color chainhash.ColorId, ok bool)
}

type entry struct {
	row     *rowbuilder.TxRow
	feeRate float64 // satoshis per byte
	seen    int64   // unix time the daemon first reported this tx
}

// Pool holds the current replica of the daemon mempool.
type Pool struct {
	mu      sync.RWMutex
	txs     map[chainhash.Hash256]*entry
	spends  map[chainhash.OutPoint]chainhash.Hash256
	maxSize int
	resolve PrevoutResolver

	// indexUnspendables mirrors the indexer's --index-unspendables flag so
	// unconfirmed history matches what confirmation will eventually record.
	indexUnspendables bool
}

// New creates an empty pool. maxSize <= 0 means unbounded.
func New(resolve PrevoutResolver, maxSize int, indexUnspendables bool) *Pool {
	return &Pool{
		txs:               make(map[chainhash.Hash256]*entry),
		spends:            make(map[chainhash.OutPoint]chainhash.Hash256),
		maxSize:           maxSize,
		resolve:           resolve,
		indexUnspendables: indexUnspendables,
	}
}

// resolvePrevoutLocked looks up a prevout's scripthash/value, first checking
// other mempool entries (so chained unconfirmed transactions resolve
// correctly) and falling back to the confirmed store. Caller must hold
// at least a read lock.
func (p *Pool) resolvePrevoutLocked(op chainhash.OutPoint) (chainhash.Hash256, chainhash.Amount, chainhash.ColorId, bool) {
	if anc, ok := p.txs[op.Hash]; ok {
		if int(op.Index) < len(anc.row.Outputs) {
			o := anc.row.Outputs[op.Index]
			return o.ScriptHash, o.Value, o.Color, true
		}
	}
	if p.resolve != nil {
		return p.resolve.ResolveOutput(op)
	}
	return chainhash.Hash256{}, 0, chainhash.ColorId{}, false
}

// Add ingests a transaction the daemon reported as being in its mempool.
// It is idempotent: re-adding a txid already present is a no-op.
func (p *Pool) Add(tx *wire.Transaction) *rowbuilder.TxRow {
	p.mu.Lock()
	defer p.mu.Unlock()

	row := rowbuilder.BuildTxRow(tx)
	if _, exists := p.txs[row.Txid]; exists {
		return row
	}
	row.Height = chainhash.MaxHeight

	var prevoutValues = make(map[chainhash.OutPoint]chainhash.Amount)
	for _, in := range row.Inputs {
		if _, v, _, ok := p.resolvePrevoutLocked(in.PrevOut); ok {
			prevoutValues[in.PrevOut] = v
		}
	}
	fee := rowbuilder.ComputeFee(row, prevoutValues)

	var feeRate float64
	if row.Size > 0 && fee > 0 {
		feeRate = float64(fee) / float64(row.Size)
	}

	if p.maxSize > 0 && len(p.txs) >= p.maxSize {
		lowestTxid, lowestRate := p.findLowestFeeRateLocked()
		if feeRate <= lowestRate {
			return row // new tx pays no more than the cheapest resident; drop it
		}
		p.removeLocked(lowestTxid)
	}

	p.txs[row.Txid] = &entry{row: row, feeRate: feeRate}
	for _, in := range row.Inputs {
		if !in.PrevOut.IsCoinbase() {
			p.spends[in.PrevOut] = row.Txid
		}
	}
	return row
}

// Remove drops a single txid, used when a single daemon RPC reports it gone
// (evicted or replaced) without a new block being involved.
func (p *Pool) Remove(txid chainhash.Hash256) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txid)
}

func (p *Pool) removeLocked(txid chainhash.Hash256) {
	e, ok := p.txs[txid]
	if !ok {
		return
	}
	for _, in := range e.row.Inputs {
		if !in.PrevOut.IsCoinbase() {
			delete(p.spends, in.PrevOut)
		}
	}
	delete(p.txs, txid)
}

// Reconcile replaces the pool's contents to exactly match currentTxids,
// the result of the periodic getrawmempool poll: anything no longer
// reported is removed (it was either confirmed or evicted by the daemon).
func (p *Pool) Reconcile(currentTxids map[chainhash.Hash256]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for txid := range p.txs {
		if !currentTxids[txid] {
			p.removeLocked(txid)
		}
	}
}

// Has reports whether txid is currently resident.
func (p *Pool) Has(txid chainhash.Hash256) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txs[txid]
	return ok
}

// Get returns a copy of the row for txid, or nil.
func (p *Pool) Get(txid chainhash.Hash256) *rowbuilder.TxRow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.txs[txid]
	if !ok {
		return nil
	}
	row := *e.row
	return &row
}

// Count returns the current resident count.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Snapshot returns a shallow copy of every resident row — the pattern the
// query layer uses to read the mempool without holding the lock for the
// whole request: clone under RLock, release, then work on the copy.
func (p *Pool) Snapshot() []*rowbuilder.TxRow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*rowbuilder.TxRow, 0, len(p.txs))
	for _, e := range p.txs {
		row := *e.row
		out = append(out, &row)
	}
	return out
}

// HistoryForScriptHash returns the unconfirmed history rows touching sh,
// scanning the current snapshot — there are at most a few thousand mempool
// entries, so a linear scan per query is cheap enough not to need an index.
func (p *Pool) HistoryForScriptHash(sh chainhash.Hash256) []rowbuilder.HistoryRow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []rowbuilder.HistoryRow
	for _, e := range p.txs {
		for _, r := range rowbuilder.BuildFundingRows(e.row, p.indexUnspendables) {
			if r.ScriptHash == sh {
				out = append(out, r)
			}
		}
		for _, in := range e.row.Inputs {
			inSH, inVal, inColor, ok := p.resolvePrevoutLocked(in.PrevOut)
			if ok && inSH == sh {
				out = append(out, rowbuilder.HistoryRow{
					ScriptHash: sh,
					Height:     chainhash.MaxHeight,
					Kind:       schema.HistorySpending,
					Txid:       e.row.Txid,
					Vout:       in.PrevOut.Index,
					Value:      inVal,
					Color:      inColor,
				})
			}
		}
	}
	return out
}

// Touch records the daemon-reported acceptance time for txid, from
// getmempoolentry metadata fetched after the tx itself. A zero existing
// value is the only one overwritten: the first report wins.
func (p *Pool) Touch(txid chainhash.Hash256, seen int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.txs[txid]; ok && e.seen == 0 {
		e.seen = seen
	}
}

// RecentEntry is the shape /mempool/recent lists: just enough to show a
// ticker of fresh arrivals.
type RecentEntry struct {
	Txid chainhash.Hash256
	Fee  int64
	Size int
	Seen int64
}

// Recent returns up to limit entries ordered newest-first by acceptance time.
func (p *Pool) Recent(limit int) []RecentEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RecentEntry, 0, len(p.txs))
	for txid, e := range p.txs {
		out = append(out, RecentEntry{Txid: txid, Fee: e.row.Fee, Size: e.row.Size, Seen: e.seen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seen > out[j].Seen })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (p *Pool) findLowestFeeRateLocked() (chainhash.Hash256, float64) {
	var lowest chainhash.Hash256
	lowestRate := math.MaxFloat64
	for txid, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowest = txid
		}
	}
	return lowest, lowestRate
}

// SelectByFeeRate returns every resident row ordered by fee rate, highest
// first, up to limit (limit <= 0 means unlimited) — used by /mempool
// listings.
func (p *Pool) SelectByFeeRate(limit int) []*rowbuilder.TxRow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].feeRate > entries[j].feeRate })

	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]*rowbuilder.TxRow, limit)
	for i := 0; i < limit; i++ {
		row := *entries[i].row
		out[i] = &row
	}
	return out
}
