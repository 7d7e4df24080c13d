package electrum

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/cache"
	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// newTestServer builds a Server over an in-memory store with one confirmed
// coinbase block applied.
func newTestServer(t *testing.T) (*Server, *wire.Block) {
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

	blk := &wire.Block{
		Header: &wire.Header{Version: 1, Timestamp: 1700000000},
		Txs: []*wire.Transaction{{
			Version: 1,
			Inputs: []wire.TxIn{{
				PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
				Sequence: 0xffffffff,
			}},
			Outputs: []wire.TxOut{{Value: 5000000000, Script: []byte{0x51}}},
		}},
	}
	if err := idx.ApplyBlock(blk, 0); err != nil {
		t.Fatalf("apply block: %v", err)
	}

	pool := mempool.New(idx, 0, true)
	q, err := query.New(st, idx, cache.New(st, idx), pool, nil, zerolog.Nop(), 16, 16, 0)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return New("127.0.0.1:0", q, pool, nil, "test banner", zerolog.Nop()), blk
}

// call runs one request through a pipe-backed connection and decodes the
// reply line.
func call(t *testing.T, srv *Server, method string, params ...interface{}) response {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	c := &conn{srv: srv, netConn: server, logger: zerolog.Nop(), scriptSubs: make(map[chainhash.Hash256]string)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c.readLoop(ctx)
		server.Close()
	}()

	rawParams := make([]json.RawMessage, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal param: %v", err)
		}
		rawParams[i] = b
	}
	reqLine, err := json.Marshal(request{JSONRPC: "2.0", Method: method, Params: rawParams, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write(append(reqLine, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	line, err := bufio.NewReader(client).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestServerVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := call(t, srv, "server.version")
	got, ok := resp.Result.([]interface{})
	if !ok || len(got) != 2 {
		t.Fatalf("expected [software, protocol] pair, got %#v", resp.Result)
	}
	if got[1] != ProtocolVersion {
		t.Fatalf("expected protocol %q, got %v", ProtocolVersion, got[1])
	}
}

func TestServerBanner(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := call(t, srv, "server.banner")
	if resp.Result != "test banner" {
		t.Fatalf("unexpected banner %v", resp.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := call(t, srv, "blockchain.does.not.exist")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %#v", resp.Error)
	}
}

func TestTransactionGetReturnsHex(t *testing.T) {
	srv, blk := newTestServer(t)
	txid := blk.Txs[0].Txid()
	resp := call(t, srv, "blockchain.transaction.get", txid.String())
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	want := hex.EncodeToString(blk.Txs[0].Encode())
	if resp.Result != want {
		t.Fatalf("tx hex mismatch: got %v", resp.Result)
	}
}

func TestScriptHashSubscribeStatus(t *testing.T) {
	srv, blk := newTestServer(t)
	sh := chainhash.ScriptHash([]byte{0x51})
	resp := call(t, srv, "blockchain.scripthash.subscribe", sh.String())
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	// One funding entry at height 0.
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:", blk.Txs[0].Txid(), 0)
	want := hex.EncodeToString(h.Sum(nil))
	if resp.Result != want {
		t.Fatalf("status mismatch: got %v want %s", resp.Result, want)
	}
}

func TestScriptHashStatusEmptyIsNull(t *testing.T) {
	srv, _ := newTestServer(t)
	status, err := srv.scriptHashStatus(context.Background(), chainhash.Hash256{0xEE})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != nil {
		t.Fatalf("expected nil status for empty history, got %v", status)
	}
}

func TestGetBalanceNativeEntryAlwaysPresent(t *testing.T) {
	srv, _ := newTestServer(t)
	sh := chainhash.Hash256{0xEE} // no history at all
	resp := call(t, srv, "blockchain.scripthash.get_balance", sh.String())
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	entries, ok := resp.Result.([]interface{})
	if !ok || len(entries) != 1 {
		t.Fatalf("expected exactly the native entry, got %#v", resp.Result)
	}
	entry := entries[0].(map[string]interface{})
	if entry["confirmed"] != "0" {
		t.Fatalf("expected confirmed \"0\", got %v", entry["confirmed"])
	}
	if _, has := entry["color_id"]; has {
		t.Fatalf("native entry must omit color_id")
	}
}

func TestEstimateFromHistogram(t *testing.T) {
	hist := []mempool.FeeHistogramBucket{
		{FeeRate: 50, VSize: 400_000},
		{FeeRate: 10, VSize: 1_200_000},
		{FeeRate: 1, VSize: 4_000_000},
	}
	if got := estimateFromHistogram(hist, 1); got != 10 {
		t.Fatalf("target 1: expected 10 sat/b, got %v", got)
	}
	if got := estimateFromHistogram(hist, 3); got != 1 {
		t.Fatalf("target 3: expected 1 sat/b, got %v", got)
	}
}
