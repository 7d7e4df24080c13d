package httpapi

import (
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/address"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// txStatusJSON is the confirmation object embedded in tx and utxo
// responses.
type txStatusJSON struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
}

type txVinJSON struct {
	Txid       string `json:"txid"`
	Vout       uint32 `json:"vout"`
	IsCoinbase bool   `json:"is_coinbase"`
}

type txVoutJSON struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        uint64 `json:"value"`
	ColorId      string `json:"color_id,omitempty"`
}

type txJSON struct {
	Txid     string       `json:"txid"`
	Version  uint32       `json:"version"`
	Locktime uint32       `json:"locktime"`
	Size     int          `json:"size"`
	Fee      int64        `json:"fee"`
	Vin      []txVinJSON  `json:"vin"`
	Vout     []txVoutJSON `json:"vout"`
	Status   txStatusJSON `json:"status"`
}

func statusJSON(st query.TxStatus) txStatusJSON {
	out := txStatusJSON{Confirmed: st.Confirmed}
	if st.Confirmed {
		out.BlockHeight = uint32(st.BlockHeight)
		out.BlockHash = st.BlockHash.String()
	}
	return out
}

func (s *Server) txToJSON(r *http.Request, row *rowbuilder.TxRow) (txJSON, error) {
	st, err := s.query.Status(r.Context(), row.Txid)
	if err != nil {
		return txJSON{}, err
	}
	out := txJSON{
		Txid:     row.Txid.String(),
		Version:  row.Version,
		Locktime: row.LockTime,
		Size:     row.Size,
		Fee:      row.Fee,
		Status:   statusJSON(st),
	}
	for _, in := range row.Inputs {
		out.Vin = append(out.Vin, txVinJSON{
			Txid:       in.PrevOut.Hash.String(),
			Vout:       in.PrevOut.Index,
			IsCoinbase: in.PrevOut.IsCoinbase(),
		})
	}
	for _, o := range row.Outputs {
		v := txVoutJSON{ScriptPubKey: hex.EncodeToString(o.Script), Value: uint64(o.Value)}
		if !o.Color.IsZero() {
			v.ColorId = o.Color.String()
		}
		out.Vout = append(out.Vout, v)
	}
	return out, nil
}

func paramTxid(r *http.Request) (chainhash.Hash256, error) {
	h, err := chainhash.HashFromString(chi.URLParam(r, "txid"))
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed txid")
	}
	return h, nil
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, err := s.query.GetTx(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.txToJSON(r, row)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleTxStatus(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.query.Status(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, statusJSON(st))
}

func (s *Server) handleTxHex(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, err := s.query.GetTx(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, hex.EncodeToString(row.Raw))
}

func (s *Server) handleTxRaw(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	row, err := s.query.GetTx(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(row.Raw)
}

func (s *Server) handleTxMerkleProof(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proof, st, err := s.query.MerkleProof(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	merkle := make([]string, len(proof.Merkle))
	for i, h := range proof.Merkle {
		merkle[i] = h.String()
	}
	writeJSON(w, map[string]interface{}{
		"block_height": uint32(st.BlockHeight),
		"merkle":       merkle,
		"pos":          proof.Pos,
	})
}

func (s *Server) handleTxMerkleBlockProof(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.query.Status(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !st.Confirmed {
		s.writeError(w, xerrors.New(xerrors.Client, "transaction is not confirmed"))
		return
	}
	blk, err := s.query.Block(r.Context(), st.BlockHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mb, err := s.query.MerkleBlock(r.Context(), blk, txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeText(w, hex.EncodeToString(mb))
}

func (s *Server) handleTxOutspend(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vout, perr := strconv.ParseUint(chi.URLParam(r, "vout"), 10, 32)
	if perr != nil {
		s.writeError(w, xerrors.New(xerrors.Client, "malformed vout"))
		return
	}
	sp, err := s.query.Outspend(r.Context(), txid, uint32(vout))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, outspendJSON(sp))
}

func (s *Server) handleTxOutspends(w http.ResponseWriter, r *http.Request) {
	txid, err := paramTxid(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sps, err := s.query.Outspends(r.Context(), txid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, len(sps))
	for i, sp := range sps {
		out[i] = outspendJSON(sp)
	}
	writeJSON(w, out)
}

func outspendJSON(sp query.Outspend) map[string]interface{} {
	if !sp.Spent {
		return map[string]interface{}{"spent": false}
	}
	return map[string]interface{}{"spent": true, "txid": sp.Txid.String(), "vin": sp.Vin}
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBodySize))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"error":"transaction too large"}`))
		return
	}
	txid, berr := s.query.Broadcast(r.Context(), string(body))
	if berr != nil {
		s.writeError(w, berr)
		return
	}
	writeText(w, txid.String())
}

// ── address / scripthash ────────────────────────────────────────────────

// addressScriptHash resolves {addr} to the scripthash every query
// primitive is keyed by; rawScriptHash parses {hash} directly.
func addressScriptHash(r *http.Request) (chainhash.Hash256, error) {
	addr, err := address.Decode(chi.URLParam(r, "addr"))
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed address")
	}
	return chainhash.ScriptHash(addr.Script()), nil
}

func rawScriptHash(r *http.Request) (chainhash.Hash256, error) {
	h, err := chainhash.HashFromString(chi.URLParam(r, "hash"))
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed scripthash")
	}
	return h, nil
}

type statsJSON struct {
	FundedTxoCount int    `json:"funded_txo_count"`
	FundedTxoSum   uint64 `json:"funded_txo_sum"`
	SpentTxoCount  int    `json:"spent_txo_count"`
	SpentTxoSum    uint64 `json:"spent_txo_sum"`
}

func (s *Server) serveScriptHashInfo(w http.ResponseWriter, r *http.Request, label string, sh chainhash.Hash256) {
	stats, err := s.query.Cache.Stats(r.Context(), sh, chainhash.ColorId{})
	if err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.Corruption, "read scripthash stats", err))
		return
	}
	var memFunded, memSpent uint64
	var memFundedN, memSpentN int
	for _, hr := range s.pool.HistoryForScriptHash(sh) {
		if !hr.Color.IsZero() {
			continue
		}
		switch hr.Kind {
		case schema.HistoryFunding:
			memFunded += uint64(hr.Value)
			memFundedN++
		case schema.HistorySpending:
			memSpent += uint64(hr.Value)
			memSpentN++
		}
	}
	writeJSON(w, map[string]interface{}{
		label: chi.URLParam(r, paramNameFor(label)),
		"chain_stats": statsJSON{
			FundedTxoCount: stats.FundedCount,
			FundedTxoSum:   uint64(stats.FundedSum),
			SpentTxoCount:  stats.SpentCount,
			SpentTxoSum:    uint64(stats.SpentSum),
		},
		"mempool_stats": statsJSON{
			FundedTxoCount: memFundedN,
			FundedTxoSum:   memFunded,
			SpentTxoCount:  memSpentN,
			SpentTxoSum:    memSpent,
		},
	})
}

func paramNameFor(label string) string {
	if label == "address" {
		return "addr"
	}
	return "hash"
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	sh, err := addressScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashInfo(w, r, "address", sh)
}

func (s *Server) handleScriptHash(w http.ResponseWriter, r *http.Request) {
	sh, err := rawScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashInfo(w, r, "scripthash", sh)
}

// serveHistoryTxs hydrates a history entry list into full tx objects.
func (s *Server) serveHistoryTxs(w http.ResponseWriter, r *http.Request, entries []query.HistoryEntry) {
	out := make([]txJSON, 0, len(entries))
	for _, e := range entries {
		row, err := s.query.GetTx(r.Context(), e.Txid)
		if err != nil {
			continue // confirmed row raced a reorg; skip rather than fail the page
		}
		tj, err := s.txToJSON(r, row)
		if err != nil {
			continue
		}
		out = append(out, tj)
	}
	writeJSON(w, out)
}

func (s *Server) serveScriptHashTxs(w http.ResponseWriter, r *http.Request, sh chainhash.Hash256) {
	// Combined view: every unconfirmed tx first, then the first confirmed page.
	unconfirmed, err := s.query.MempoolHistory(r.Context(), sh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	confirmed, err := s.query.History(r.Context(), sh, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveHistoryTxs(w, r, append(unconfirmed, confirmed...))
}

func (s *Server) serveScriptHashTxsChain(w http.ResponseWriter, r *http.Request, sh chainhash.Hash256) {
	lastSeen, err := lastSeenParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.query.History(r.Context(), sh, lastSeen)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveHistoryTxs(w, r, entries)
}

func lastSeenParam(r *http.Request) (*chainhash.Hash256, error) {
	raw := chi.URLParam(r, "last_seen")
	if raw == "" {
		return nil, nil
	}
	h, err := chainhash.HashFromString(raw)
	if err != nil {
		return nil, xerrors.New(xerrors.Client, "malformed last-seen txid")
	}
	return &h, nil
}

func (s *Server) handleAddressTxs(w http.ResponseWriter, r *http.Request) {
	sh, err := addressScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashTxs(w, r, sh)
}

func (s *Server) handleAddressTxsChain(w http.ResponseWriter, r *http.Request) {
	sh, err := addressScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashTxsChain(w, r, sh)
}

func (s *Server) handleAddressTxsMempool(w http.ResponseWriter, r *http.Request) {
	sh, err := addressScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, qerr := s.query.MempoolHistory(r.Context(), sh)
	if qerr != nil {
		s.writeError(w, qerr)
		return
	}
	s.serveHistoryTxs(w, r, entries)
}

func (s *Server) handleAddressUtxo(w http.ResponseWriter, r *http.Request) {
	sh, err := addressScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveUtxos(w, r, sh)
}

func (s *Server) handleScriptHashTxs(w http.ResponseWriter, r *http.Request) {
	sh, err := rawScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashTxs(w, r, sh)
}

func (s *Server) handleScriptHashTxsChain(w http.ResponseWriter, r *http.Request) {
	sh, err := rawScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveScriptHashTxsChain(w, r, sh)
}

func (s *Server) handleScriptHashTxsMempool(w http.ResponseWriter, r *http.Request) {
	sh, err := rawScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, qerr := s.query.MempoolHistory(r.Context(), sh)
	if qerr != nil {
		s.writeError(w, qerr)
		return
	}
	s.serveHistoryTxs(w, r, entries)
}

func (s *Server) handleScriptHashUtxo(w http.ResponseWriter, r *http.Request) {
	sh, err := rawScriptHash(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveUtxos(w, r, sh)
}

type utxoJSON struct {
	Txid    string       `json:"txid"`
	Vout    uint32       `json:"vout"`
	Value   uint64       `json:"value"`
	ColorId string       `json:"color_id,omitempty"`
	Status  txStatusJSON `json:"status"`
}

func (s *Server) serveUtxos(w http.ResponseWriter, r *http.Request, sh chainhash.Hash256) {
	utxos, err := s.query.ListUnspent(r.Context(), sh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]utxoJSON, 0, len(utxos))
	for _, u := range utxos {
		uj := utxoJSON{Txid: u.Txid.String(), Vout: u.Vout, Value: uint64(u.Value)}
		if !u.Color.IsZero() {
			uj.ColorId = u.Color.String()
		}
		uj.Status.Confirmed = u.Confirmed
		if u.Confirmed {
			uj.Status.BlockHeight = uint32(u.Height)
			if hash, ok := s.query.Idx.HashAtHeight(r.Context(), u.Height); ok {
				uj.Status.BlockHash = hash.String()
			}
		}
		out = append(out, uj)
	}
	writeJSON(w, out)
}

func (s *Server) handleAddressPrefix(w http.ResponseWriter, r *http.Request) {
	matches, err := s.query.AddressPrefixSearch(r.Context(), chi.URLParam(r, "prefix"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, matches)
}
