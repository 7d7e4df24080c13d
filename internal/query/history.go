package query

import (
	"context"
	"sort"

	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// ScriptHashBalance is one entry of blockchain.scripthash.get_balance's
// per-color array. HasColor is false for the native/uncolored entry, which
// both transports omit the color_id field for.
type ScriptHashBalance struct {
	Color      chainhash.ColorId
	HasColor   bool
	Confirmed  int64
	Unconfirmed int64
}

// Balance returns one entry per color this scripthash has ever touched,
// confirmed or unconfirmed, folding the aggregation cache's confirmed
// totals together with a fresh scan of the mempool snapshot.
func (q *Query) Balance(ctx context.Context, sh chainhash.Hash256) ([]ScriptHashBalance, error) {
	seen := make(map[chainhash.ColorId]*ScriptHashBalance)
	order := []chainhash.ColorId{}

	get := func(c chainhash.ColorId) *ScriptHashBalance {
		b, ok := seen[c]
		if !ok {
			b = &ScriptHashBalance{Color: c, HasColor: !c.IsZero()}
			seen[c] = b
			order = append(order, c)
		}
		return b
	}

	colors, err := q.Cache.ColorsSeen(ctx, sh)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "list colors seen", err)
	}
	for _, c := range colors {
		stats, err := q.Cache.Stats(ctx, sh, c)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.Corruption, "read scripthash stats", err)
		}
		get(c).Confirmed = stats.Balance()
	}
	// The native entry is always present, even with zero activity.
	if _, ok := seen[chainhash.ColorId{}]; !ok {
		get(chainhash.ColorId{})
	}

	for _, r := range q.Pool.HistoryForScriptHash(sh) {
		b := get(r.Color)
		switch r.Kind {
		case schema.HistoryFunding:
			b.Unconfirmed += int64(r.Value)
		case schema.HistorySpending:
			b.Unconfirmed -= int64(r.Value)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		ci, cj := order[i], order[j]
		if ci.IsZero() != cj.IsZero() {
			return ci.IsZero() // native entry first
		}
		return string(ci[:]) < string(cj[:])
	})
	out := make([]ScriptHashBalance, 0, len(order))
	for _, c := range order {
		out = append(out, *seen[c])
	}
	return out, nil
}

// HistoryEntry is one transaction touching a scripthash or color, the unit
// every /txs listing paginates over.
type HistoryEntry struct {
	Txid   chainhash.Hash256
	Height chainhash.Height // chainhash.MaxHeight means unconfirmed
}

const confirmedPageSize = 25

// History returns up to one page of confirmed history for sh, newest first.
// lastSeenTxid, if non-nil, resumes after that entry (the cursor the HTTP
// and Electrum transports both expose as :last_seen_txid). Ties at the same
// height break on txid bytes descending: the block-internal transaction
// index isn't persisted in the schema, so txid is the next-most-stable tiebreak.
func (q *Query) History(ctx context.Context, sh chainhash.Hash256, lastSeenTxid *chainhash.Hash256) ([]HistoryEntry, error) {
	entries, err := q.confirmedHistory(sh)
	if err != nil {
		return nil, err
	}
	return paginate(entries, lastSeenTxid, confirmedPageSize), nil
}

// MempoolHistory returns every unconfirmed entry touching sh, unpaged (the
// listing is capped at 50 entries rather than cursor-paginated).
func (q *Query) MempoolHistory(ctx context.Context, sh chainhash.Hash256) ([]HistoryEntry, error) {
	seen := make(map[chainhash.Hash256]bool)
	var out []HistoryEntry
	for _, r := range q.Pool.HistoryForScriptHash(sh) {
		if seen[r.Txid] {
			continue
		}
		seen[r.Txid] = true
		out = append(out, HistoryEntry{Txid: r.Txid, Height: chainhash.MaxHeight})
		if len(out) >= 50 {
			break
		}
	}
	return out, nil
}

// StatusHistory returns sh's full history in subscription-status order:
// confirmed entries oldest-first, then unconfirmed entries. The Electrum
// scripthash.subscribe status is a hash over exactly this sequence.
func (q *Query) StatusHistory(ctx context.Context, sh chainhash.Hash256) ([]HistoryEntry, error) {
	confirmed, err := q.confirmedHistory(sh)
	if err != nil {
		return nil, err
	}
	// confirmedHistory sorts newest-first for pagination; statuses hash
	// oldest-first.
	out := make([]HistoryEntry, 0, len(confirmed))
	for i := len(confirmed) - 1; i >= 0; i-- {
		out = append(out, confirmed[i])
	}
	unconfirmed, err := q.MempoolHistory(ctx, sh)
	if err != nil {
		return nil, err
	}
	return append(out, unconfirmed...), nil
}

func (q *Query) confirmedHistory(sh chainhash.Hash256) ([]HistoryEntry, error) {
	byTxid := make(map[chainhash.Hash256]chainhash.Height)
	count := 0
	err := q.Store.History.ForEach(schema.HistoryPrefix(sh), func(_, value []byte) error {
		var row rowbuilder.HistoryRow
		if err := store.Decode(value, &row); err != nil {
			return nil
		}
		if !q.Cache.RowIsLive(row) {
			return nil
		}
		byTxid[row.Txid] = row.Height
		count++
		if q.TxidLimit > 0 && count > q.TxidLimit*4 {
			return errStopScan
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return nil, xerrors.Wrap(xerrors.Corruption, "scan scripthash history", err)
	}
	out := make([]HistoryEntry, 0, len(byTxid))
	for txid, h := range byTxid {
		out = append(out, HistoryEntry{Txid: txid, Height: h})
	}
	sortHistoryDesc(out)
	if q.TxidLimit > 0 && len(out) > q.TxidLimit {
		out = out[:q.TxidLimit]
	}
	return out, nil
}

func sortHistoryDesc(out []HistoryEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return string(out[i].Txid[:]) > string(out[j].Txid[:])
	})
}

// paginate finds lastSeenTxid in entries (already sorted newest-first) and
// returns up to pageSize entries after it, or the first page if nil/absent.
func paginate(entries []HistoryEntry, lastSeenTxid *chainhash.Hash256, pageSize int) []HistoryEntry {
	start := 0
	if lastSeenTxid != nil {
		for i, e := range entries {
			if e.Txid == *lastSeenTxid {
				start = i + 1
				break
			}
		}
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	if start > len(entries) {
		return nil
	}
	return entries[start:end]
}

// errStopScan is a sentinel used to cut a ForEach scan short once enough
// candidate rows have been gathered to satisfy TxidLimit after dedup.
var errStopScan = &stopScanError{}

type stopScanError struct{}

func (*stopScanError) Error() string { return "query: scan limit reached" }

// AddressPrefixSearch scans the address index for up to 10 addresses
// beginning with prefix.
func (q *Query) AddressPrefixSearch(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := q.Store.Cache.ForEach(schema.AddressIndexPrefix(prefix), func(key, _ []byte) error {
		addr := string(key[1:])
		out = append(out, addr)
		if len(out) >= 10 {
			return errStopScan
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return nil, xerrors.Wrap(xerrors.Corruption, "scan address index", err)
	}
	return out, nil
}

// Utxo is one unspent output, confirmed or from the mempool.
type Utxo struct {
	Txid      chainhash.Hash256
	Vout      uint32
	Value     chainhash.Amount
	Color     chainhash.ColorId
	Confirmed bool
	Height    chainhash.Height
}

// ListUnspent merges the confirmed cache's live UTXO set with the mempool:
// confirmed outputs the mempool has since spent are dropped, and unspent
// mempool-funded outputs are appended.
func (q *Query) ListUnspent(ctx context.Context, sh chainhash.Hash256) ([]Utxo, error) {
	confirmed, err := q.Cache.ListUnspent(ctx, sh)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "list confirmed utxos", err)
	}

	mempoolSpent := make(map[chainhash.OutPoint]bool)
	mempoolFunded := make(map[chainhash.OutPoint]Utxo)
	for _, r := range q.Pool.HistoryForScriptHash(sh) {
		op := chainhash.OutPoint{Hash: r.Txid, Index: r.Vout}
		switch r.Kind {
		case schema.HistoryFunding:
			mempoolFunded[op] = Utxo{Txid: r.Txid, Vout: r.Vout, Value: r.Value, Color: r.Color, Confirmed: false, Height: chainhash.MaxHeight}
		case schema.HistorySpending:
			mempoolSpent[op] = true
		}
	}

	out := make([]Utxo, 0, len(confirmed)+len(mempoolFunded))
	for _, u := range confirmed {
		op := chainhash.OutPoint{Hash: u.Txid, Index: u.Vout}
		if mempoolSpent[op] {
			continue
		}
		out = append(out, Utxo{Txid: u.Txid, Vout: u.Vout, Value: u.Value, Color: u.Color, Confirmed: true, Height: u.Height})
	}
	for op, u := range mempoolFunded {
		if mempoolSpent[op] {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
