package query

import (
	"context"

	"github.com/Klingon-tech/tapyrus-index/internal/cache"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// ColorStats returns the confirmed issue/transfer/burn summary for a color.
func (q *Query) ColorStats(ctx context.Context, color chainhash.ColorId) (cache.ColorStats, error) {
	stats, err := q.Cache.ColorStats(ctx, color)
	if err != nil {
		return cache.ColorStats{}, xerrors.Wrap(xerrors.Corruption, "read color stats", err)
	}
	return stats, nil
}

// ColorTxs returns up to one page of confirmed transactions touching color,
// newest first, resuming after lastSeenTxid (same cursor contract as
// History). chain/:last_seen is the HTTP route this backs.
func (q *Query) ColorTxs(ctx context.Context, color chainhash.ColorId, lastSeenTxid *chainhash.Hash256) ([]HistoryEntry, int, error) {
	byTxid := make(map[chainhash.Hash256]chainhash.Height)
	err := q.Store.History.ForEach(schema.ColorHistoryPrefix(color), func(_, value []byte) error {
		var row rowbuilder.ColorHistoryRow
		if err := store.Decode(value, &row); err != nil {
			return nil
		}
		if row.Height != chainhash.MaxHeight {
			txRow, gerr := q.Idx.GetTxRow(row.Txid)
			if gerr != nil || !q.Idx.IsBestChain(txRow.BlockHash) {
				return nil
			}
		}
		byTxid[row.Txid] = row.Height
		return nil
	})
	if err != nil {
		return nil, 0, xerrors.Wrap(xerrors.Corruption, "scan color history", err)
	}
	out := make([]HistoryEntry, 0, len(byTxid))
	for txid, h := range byTxid {
		out = append(out, HistoryEntry{Txid: txid, Height: h})
	}
	sortHistoryDesc(out)
	total := len(out)
	return paginate(out, lastSeenTxid, confirmedPageSize), total, nil
}

// ColorListing is one row of GET /colors: a color id with its summary.
type ColorListing struct {
	Color chainhash.ColorId
	Stats cache.ColorStats
}

// ListColors enumerates every color id ever seen in confirmed history,
// lexicographic order, one page at a time after lastSeen (nil means the
// first page). The second return is the total number of distinct colors,
// surfaced to HTTP clients via the x-total-results header.
func (q *Query) ListColors(ctx context.Context, lastSeen *chainhash.ColorId) ([]ColorListing, int, error) {
	var colors []chainhash.ColorId
	var prev chainhash.ColorId
	first := true
	err := q.Store.History.ForEach([]byte{schema.PrefixColorHistory}, func(key, _ []byte) error {
		if len(key) < 1+chainhash.ColorIdSize {
			return nil
		}
		var c chainhash.ColorId
		copy(c[:], key[1:1+chainhash.ColorIdSize])
		// Keys iterate sorted, so consecutive rows of one color are adjacent.
		if first || c != prev {
			colors = append(colors, c)
			prev = c
			first = false
		}
		return nil
	})
	if err != nil {
		return nil, 0, xerrors.Wrap(xerrors.Corruption, "scan color ids", err)
	}

	total := len(colors)
	start := 0
	if lastSeen != nil {
		for i, c := range colors {
			if c == *lastSeen {
				start = i + 1
				break
			}
		}
	}
	end := start + confirmedPageSize
	if end > total {
		end = total
	}
	if start > total {
		return nil, total, nil
	}

	out := make([]ColorListing, 0, end-start)
	for _, c := range colors[start:end] {
		stats, err := q.Cache.ColorStats(ctx, c)
		if err != nil {
			return nil, total, xerrors.Wrap(xerrors.Corruption, "read color stats", err)
		}
		out = append(out, ColorListing{Color: c, Stats: stats})
	}
	return out, total, nil
}

// ColorMempoolTxs returns the unconfirmed transactions with at least one
// output of color, scanning the current mempool snapshot. A transaction
// that only spends color without creating an output of it is not listed.
func (q *Query) ColorMempoolTxs(ctx context.Context, color chainhash.ColorId) ([]HistoryEntry, error) {
	seen := make(map[chainhash.Hash256]bool)
	var out []HistoryEntry
	for _, row := range q.Pool.Snapshot() {
		touches := false
		for _, o := range row.Outputs {
			if o.Color == color {
				touches = true
				break
			}
		}
		if touches && !seen[row.Txid] {
			seen[row.Txid] = true
			out = append(out, HistoryEntry{Txid: row.Txid, Height: chainhash.MaxHeight})
		}
	}
	return out, nil
}
