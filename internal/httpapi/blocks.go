package httpapi

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

const blockTxPageSize = 25

type blockJSON struct {
	ID                string `json:"id"`
	Height            uint32 `json:"height"`
	Version           int32  `json:"version"`
	Timestamp         uint32 `json:"timestamp"`
	TxCount           int    `json:"tx_count"`
	MerkleRoot        string `json:"merkle_root"`
	ImMerkleRoot      string `json:"im_merkle_root"`
	PreviousBlockHash string `json:"previousblockhash"`
}

func blockToJSON(blk *query.BlockSummary) blockJSON {
	return blockJSON{
		ID:                blk.Hash.String(),
		Height:            uint32(blk.Height),
		Version:           blk.Header.Version,
		Timestamp:         blk.Header.Timestamp,
		TxCount:           len(blk.Txids),
		MerkleRoot:        blk.Header.MerkleRoot.String(),
		ImMerkleRoot:      blk.Header.ImMerkleRoot.String(),
		PreviousBlockHash: blk.Header.PrevHash.String(),
	}
}

func paramBlockHash(r *http.Request) (chainhash.Hash256, error) {
	h, err := chainhash.HashFromString(chi.URLParam(r, "hash"))
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed block hash")
	}
	return h, nil
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	hash, err := paramBlockHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blk, err := s.query.Block(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, blockToJSON(blk))
}

func (s *Server) handleBlockStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := paramBlockHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blk, err := s.query.Block(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	inBest := s.query.Idx.IsBestChain(hash)
	out := map[string]interface{}{"in_best_chain": inBest}
	if inBest {
		out["height"] = uint32(blk.Height)
		if next, ok := s.query.Idx.HashAtHeight(r.Context(), blk.Height+1); ok {
			out["next_best"] = next.String()
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleBlockHeader(w http.ResponseWriter, r *http.Request) {
	hash, err := paramBlockHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blk, err := s.query.Block(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, hex.EncodeToString(blk.Header.Encode()))
}

func (s *Server) handleBlockTxids(w http.ResponseWriter, r *http.Request) {
	hash, err := paramBlockHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blk, err := s.query.Block(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]string, len(blk.Txids))
	for i, id := range blk.Txids {
		out[i] = id.String()
	}
	writeJSON(w, out)
}

func (s *Server) handleBlockTxs(w http.ResponseWriter, r *http.Request) {
	hash, err := paramBlockHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	blk, err := s.query.Block(r.Context(), hash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	start := 0
	if raw := chi.URLParam(r, "start_index"); raw != "" {
		start, err = strconv.Atoi(raw)
		if err != nil || start < 0 || start%blockTxPageSize != 0 {
			s.writeError(w, xerrors.New(xerrors.Client, "start index must be a multiple of the page size"))
			return
		}
	}
	if start >= len(blk.Txids) {
		writeJSON(w, []txJSON{})
		return
	}
	end := start + blockTxPageSize
	if end > len(blk.Txids) {
		end = len(blk.Txids)
	}
	out := make([]txJSON, 0, end-start)
	for _, txid := range blk.Txids[start:end] {
		row, err := s.query.GetTx(r.Context(), txid)
		if err != nil {
			s.writeError(w, err)
			return
		}
		tj, err := s.txToJSON(r, row)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, tj)
	}
	writeJSON(w, out)
}

func (s *Server) handleBlockHeight(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 32)
	if err != nil {
		s.writeError(w, xerrors.New(xerrors.Client, "malformed height"))
		return
	}
	hash, ok := s.query.Idx.HashAtHeight(r.Context(), chainhash.Height(h))
	if !ok {
		s.writeError(w, xerrors.New(xerrors.Client, "no block at that height"))
		return
	}
	writeText(w, hash.String())
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	tip, err := s.query.Tip()
	if err != nil {
		s.writeError(w, err)
		return
	}
	start := tip.Height
	if raw := chi.URLParam(r, "start"); raw != "" {
		h, perr := strconv.ParseUint(raw, 10, 32)
		if perr != nil {
			s.writeError(w, xerrors.New(xerrors.Client, "malformed start height"))
			return
		}
		start = chainhash.Height(h)
	}
	blocks, err := s.query.Blocks(r.Context(), start, 10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]blockJSON, len(blocks))
	for i, blk := range blocks {
		out[i] = blockToJSON(blk)
	}
	writeJSON(w, out)
}

func (s *Server) handleTipHeight(w http.ResponseWriter, r *http.Request) {
	tip, err := s.query.Tip()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, strconv.FormatUint(uint64(tip.Height), 10))
}

func (s *Server) handleTipHash(w http.ResponseWriter, r *http.Request) {
	tip, err := s.query.Tip()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, tip.Hash.String())
}

// ── mempool ─────────────────────────────────────────────────────────────

const mempoolTxPageSize = 50

func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	rows := s.pool.Snapshot()
	var vsize int64
	var totalFee int64
	for _, row := range rows {
		vsize += int64(row.Size)
		totalFee += row.Fee
	}
	hist := s.pool.FeeHistogram()
	histogram := make([][2]float64, len(hist))
	for i, b := range hist {
		histogram[i] = [2]float64{b.FeeRate, float64(b.VSize)}
	}
	writeJSON(w, map[string]interface{}{
		"count":         len(rows),
		"vsize":         vsize,
		"total_fee":     totalFee,
		"fee_histogram": histogram,
	})
}

func (s *Server) handleMempoolTxids(w http.ResponseWriter, r *http.Request) {
	rows := s.pool.Snapshot()
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Txid.String()
	}
	writeJSON(w, out)
}

func (s *Server) handleMempoolRecent(w http.ResponseWriter, r *http.Request) {
	recent := s.pool.Recent(10)
	out := make([]map[string]interface{}, len(recent))
	for i, e := range recent {
		out[i] = map[string]interface{}{
			"txid":  e.Txid.String(),
			"fee":   e.Fee,
			"vsize": e.Size,
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleMempoolTxs(w http.ResponseWriter, r *http.Request) {
	rows := s.pool.SelectByFeeRate(mempoolTxPageSize)
	out := make([]txJSON, 0, len(rows))
	for _, row := range rows {
		tj, err := s.txToJSON(r, row)
		if err != nil {
			continue
		}
		out = append(out, tj)
	}
	writeJSON(w, out)
}

// handleFeeEstimates reports a sat/vB rate per confirmation target from the
// local fee histogram, the same data blockchain.estimatefee falls back to.
func (s *Server) handleFeeEstimates(w http.ResponseWriter, r *http.Request) {
	hist := s.pool.FeeHistogram()
	out := make(map[string]float64)
	for _, target := range []int{1, 2, 3, 4, 5, 6, 10, 15, 20, 25} {
		out[strconv.Itoa(target)] = estimateFromHistogramHTTP(hist, target)
	}
	writeJSON(w, out)
}

// estimateFromHistogramHTTP approximates "fee to confirm within target
// blocks" as the rate needed to sit inside the top target megabytes of the
// mempool, in satoshis per byte.
func estimateFromHistogramHTTP(hist []mempool.FeeHistogramBucket, target int) float64 {
	if target < 1 {
		target = 1
	}
	return mempool.EstimateFeeRate(hist, int64(target)*1_000_000)
}

// ── colors ──────────────────────────────────────────────────────────────

type colorStatsJSON struct {
	ColorId        string `json:"color_id"`
	IssuedSum      uint64 `json:"issued_sum"`
	TransferredSum uint64 `json:"transferred_sum"`
	BurnedSum      uint64 `json:"burned_sum"`
	TxCount        int    `json:"tx_count"`
}

func (s *Server) handleColors(w http.ResponseWriter, r *http.Request) {
	var lastSeen *chainhash.ColorId
	if raw := chi.URLParam(r, "last_seen"); raw != "" {
		c, err := chainhash.ColorIdFromString(raw)
		if err != nil {
			s.writeError(w, xerrors.New(xerrors.Client, "malformed color id"))
			return
		}
		lastSeen = &c
	}
	listing, total, err := s.query.ListColors(r.Context(), lastSeen)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]colorStatsJSON, len(listing))
	for i, l := range listing {
		out[i] = colorStatsJSON{
			ColorId:        l.Color.String(),
			IssuedSum:      uint64(l.Stats.IssuedSum),
			TransferredSum: uint64(l.Stats.TransferredSum),
			BurnedSum:      uint64(l.Stats.BurnedSum),
			TxCount:        l.Stats.TxCount,
		}
	}
	w.Header().Set("x-total-results", strconv.Itoa(total))
	writeJSON(w, out)
}

func paramColorId(r *http.Request) (chainhash.ColorId, error) {
	c, err := chainhash.ColorIdFromString(chi.URLParam(r, "cid"))
	if err != nil {
		return chainhash.ColorId{}, xerrors.New(xerrors.Client, "malformed color id")
	}
	return c, nil
}

func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	color, err := paramColorId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.query.ColorStats(r.Context(), color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, colorStatsJSON{
		ColorId:        color.String(),
		IssuedSum:      uint64(stats.IssuedSum),
		TransferredSum: uint64(stats.TransferredSum),
		BurnedSum:      uint64(stats.BurnedSum),
		TxCount:        stats.TxCount,
	})
}

func (s *Server) handleColorTxs(w http.ResponseWriter, r *http.Request) {
	color, err := paramColorId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	unconfirmed, err := s.query.ColorMempoolTxs(r.Context(), color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	confirmed, total, err := s.query.ColorTxs(r.Context(), color, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("x-total-results", strconv.Itoa(total+len(unconfirmed)))
	s.serveHistoryTxs(w, r, append(unconfirmed, confirmed...))
}

func (s *Server) handleColorTxsChain(w http.ResponseWriter, r *http.Request) {
	color, err := paramColorId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	lastSeen, err := lastSeenParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, total, err := s.query.ColorTxs(r.Context(), color, lastSeen)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("x-total-results", strconv.Itoa(total))
	s.serveHistoryTxs(w, r, entries)
}

func (s *Server) handleColorTxsMempool(w http.ResponseWriter, r *http.Request) {
	color, err := paramColorId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.query.ColorMempoolTxs(r.Context(), color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveHistoryTxs(w, r, entries)
}
