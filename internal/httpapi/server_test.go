package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/cache"
	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// newTestAPI stands up the route table over an in-memory store holding two
// blocks: a coinbase at height 0 and a spend of it at height 1.
func newTestAPI(t *testing.T) (http.Handler, []*wire.Block) {
	t.Helper()
	st := &store.Store{
		TxStore: store.NewMemory(),
		History: store.NewMemory(),
		Cache:   store.NewMemory(),
	}
	idx := indexer.New(st, nil, zerolog.Nop(), 0, 0)
	idx.IndexUnspendables = true
	if err := idx.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	coinbase := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{{Value: 5000000000, Script: []byte{0x51}}},
	}
	blk0 := &wire.Block{Header: &wire.Header{Version: 1, Timestamp: 1700000000}, Txs: []*wire.Transaction{coinbase}}
	if err := idx.ApplyBlock(blk0, 0); err != nil {
		t.Fatalf("apply block 0: %v", err)
	}

	spend := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: coinbase.Txid(), Index: 0},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{{Value: 4999999000, Script: []byte{0x52}}},
	}
	coinbase1 := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
			Sequence: 0xfffffffe,
		}},
		Outputs: []wire.TxOut{{Value: 5000000000, Script: []byte{0x53}}},
	}
	blk1 := &wire.Block{
		Header: &wire.Header{Version: 1, Timestamp: 1700000600, PrevHash: blk0.Header.Hash()},
		Txs:    []*wire.Transaction{coinbase1, spend},
	}
	if err := idx.ApplyBlock(blk1, 1); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	pool := mempool.New(idx, 0, true)
	q, err := query.New(st, idx, cache.New(st, idx), pool, nil, zerolog.Nop(), 16, 16, 0)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	srv := New("127.0.0.1:0", q, pool, zerolog.Nop(), 0)
	return srv.Handler(), []*wire.Block{blk0, blk1}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTipEndpoints(t *testing.T) {
	h, blocks := newTestAPI(t)

	rec := get(t, h, "/blocks/tip/height")
	if rec.Code != http.StatusOK || rec.Body.String() != "1" {
		t.Fatalf("tip height: code %d body %q", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/blocks/tip/hash")
	if rec.Body.String() != blocks[1].Header.Hash().String() {
		t.Fatalf("tip hash mismatch: %q", rec.Body.String())
	}
}

func TestBlockHeightResolves(t *testing.T) {
	h, blocks := newTestAPI(t)
	rec := get(t, h, "/block-height/0")
	if rec.Body.String() != blocks[0].Header.Hash().String() {
		t.Fatalf("block-height 0 mismatch: %q", rec.Body.String())
	}
	rec = get(t, h, "/block-height/7")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unindexed height, got %d", rec.Code)
	}
}

func TestTxEndpoints(t *testing.T) {
	h, blocks := newTestAPI(t)
	txid := blocks[0].Txs[0].Txid()

	rec := get(t, h, "/tx/"+txid.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("tx fetch failed: %d %s", rec.Code, rec.Body.String())
	}
	var tj txJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &tj); err != nil {
		t.Fatalf("decode tx: %v", err)
	}
	if tj.Txid != txid.String() || !tj.Status.Confirmed || tj.Status.BlockHeight != 0 {
		t.Fatalf("unexpected tx json: %+v", tj)
	}
	if len(tj.Vin) != 1 || !tj.Vin[0].IsCoinbase {
		t.Fatalf("expected coinbase vin, got %+v", tj.Vin)
	}

	rec = get(t, h, "/tx/"+strings.Repeat("00", 32))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown txid, got %d", rec.Code)
	}

	rec = get(t, h, "/tx/nothex")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed txid, got %d", rec.Code)
	}
}

func TestOutspendTracksSpentOutput(t *testing.T) {
	h, blocks := newTestAPI(t)
	coinbase := blocks[0].Txs[0].Txid()
	spender := blocks[1].Txs[1].Txid()

	rec := get(t, h, "/tx/"+coinbase.String()+"/outspend/0")
	var sp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &sp); err != nil {
		t.Fatalf("decode outspend: %v", err)
	}
	if sp["spent"] != true || sp["txid"] != spender.String() {
		t.Fatalf("unexpected outspend: %v", sp)
	}
}

func TestScriptHashUtxoReflectsSpends(t *testing.T) {
	h, blocks := newTestAPI(t)

	// The height-0 coinbase output was spent at height 1: no utxos left.
	spent := chainhash.ScriptHash([]byte{0x51})
	rec := get(t, h, "/scripthash/"+spent.String()+"/utxo")
	var utxos []utxoJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &utxos); err != nil {
		t.Fatalf("decode utxos: %v", err)
	}
	if len(utxos) != 0 {
		t.Fatalf("expected no utxos for fully spent scripthash, got %+v", utxos)
	}

	// The spend's recipient holds exactly one.
	recip := chainhash.ScriptHash([]byte{0x52})
	rec = get(t, h, "/scripthash/"+recip.String()+"/utxo")
	if err := json.Unmarshal(rec.Body.Bytes(), &utxos); err != nil {
		t.Fatalf("decode utxos: %v", err)
	}
	if len(utxos) != 1 || utxos[0].Value != 4999999000 || !utxos[0].Status.Confirmed {
		t.Fatalf("unexpected recipient utxos: %+v", utxos)
	}
	if utxos[0].Txid != blocks[1].Txs[1].Txid().String() {
		t.Fatalf("utxo txid mismatch: %s", utxos[0].Txid)
	}
}

func TestBlockEndpoints(t *testing.T) {
	h, blocks := newTestAPI(t)
	hash := blocks[1].Header.Hash()

	rec := get(t, h, "/block/"+hash.String())
	var bj blockJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &bj); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if bj.Height != 1 || bj.TxCount != 2 || bj.PreviousBlockHash != blocks[0].Header.Hash().String() {
		t.Fatalf("unexpected block json: %+v", bj)
	}

	rec = get(t, h, "/block/"+hash.String()+"/txids")
	var ids []string
	if err := json.Unmarshal(rec.Body.Bytes(), &ids); err != nil {
		t.Fatalf("decode txids: %v", err)
	}
	if len(ids) != 2 || ids[1] != blocks[1].Txs[1].Txid().String() {
		t.Fatalf("unexpected txids: %v", ids)
	}
}

func TestMempoolOverviewEmpty(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := get(t, h, "/mempool")
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode mempool: %v", err)
	}
	if body["count"] != float64(0) {
		t.Fatalf("expected empty mempool, got %v", body["count"])
	}
}

func TestColorsListingEmptyHasTotalHeader(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := get(t, h, "/colors")
	if rec.Code != http.StatusOK {
		t.Fatalf("colors listing failed: %d", rec.Code)
	}
	if got := rec.Header().Get("x-total-results"); got != "0" {
		t.Fatalf("expected x-total-results 0, got %q", got)
	}
}

func TestStatusForMapsKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{xerrors.New(xerrors.Client, "block not found"), http.StatusNotFound},
		{xerrors.New(xerrors.Client, "malformed txid"), http.StatusBadRequest},
		{xerrors.New(xerrors.Connectivity, "daemon down"), http.StatusServiceUnavailable},
		{xerrors.New(xerrors.Corruption, "bad row"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
