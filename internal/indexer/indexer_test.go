package indexer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	st := &store.Store{
		TxStore: store.NewMemory(),
		History: store.NewMemory(),
		Cache:   store.NewMemory(),
	}
	idx := New(st, nil, zerolog.Nop(), 0, 0)
	idx.IndexUnspendables = true
	if err := idx.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return idx
}

func coinbaseBlock(prev chainhash.Hash256, seq uint32, script []byte) *wire.Block {
	return &wire.Block{
		Header: &wire.Header{Version: 1, PrevHash: prev, Timestamp: 1700000000 + seq},
		Txs: []*wire.Transaction{{
			Version: 1,
			Inputs: []wire.TxIn{{
				PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
				Sequence: seq,
			}},
			Outputs: []wire.TxOut{{Value: 5000000000, Script: script}},
		}},
	}
}

func TestApplyBlockWritesAllRowFamilies(t *testing.T) {
	idx := newTestIndexer(t)
	blk := coinbaseBlock(chainhash.Hash256{}, 1, []byte{0x51})
	if err := idx.ApplyBlock(blk, 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	hash := blk.Header.Hash()
	txid := blk.Txs[0].Txid()

	for _, key := range [][]byte{
		schema.BlockKey(hash),
		schema.HeightIndexKey(hash),
		schema.BlockTxidsKey(hash),
		schema.TxKey(txid),
		schema.TxBlockLocationKey(txid, hash),
		schema.DoneKey(hash),
	} {
		if _, err := idx.Store.TxStore.Get(key); err != nil {
			t.Fatalf("missing row %q: %v", key[0], err)
		}
	}

	tip, err := idx.Tip()
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	if tip.Hash != hash || tip.Height != 0 {
		t.Fatalf("tip not advanced: %+v", tip)
	}
	if !idx.IsBestChain(hash) {
		t.Fatalf("freshly applied block must be best chain")
	}
}

func TestApplyBlockRecordsSpendEdges(t *testing.T) {
	idx := newTestIndexer(t)
	blk0 := coinbaseBlock(chainhash.Hash256{}, 1, []byte{0x51})
	if err := idx.ApplyBlock(blk0, 0); err != nil {
		t.Fatalf("apply block 0: %v", err)
	}
	coinbaseTxid := blk0.Txs[0].Txid()

	spend := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: coinbaseTxid, Index: 0},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{{Value: 4999999000, Script: []byte{0x52}}},
	}
	blk1 := &wire.Block{
		Header: &wire.Header{Version: 1, PrevHash: blk0.Header.Hash(), Timestamp: 1700000600},
		Txs:    []*wire.Transaction{coinbaseBlock(chainhash.Hash256{}, 2, []byte{0x53}).Txs[0], spend},
	}
	if err := idx.ApplyBlock(blk1, 1); err != nil {
		t.Fatalf("apply block 1: %v", err)
	}

	spender, err := idx.Store.TxStore.Get(schema.SpentByKey(coinbaseTxid, 0))
	if err != nil {
		t.Fatalf("spent-by edge missing: %v", err)
	}
	got, _ := chainhash.HashFromBytes(spender)
	if got != spend.Txid() {
		t.Fatalf("spent-by edge points at wrong tx")
	}

	row, err := idx.GetTxRow(spend.Txid())
	if err != nil {
		t.Fatalf("get spend row: %v", err)
	}
	if row.Fee != 1000 {
		t.Fatalf("expected fee 1000 from resolved prevout, got %d", row.Fee)
	}
}

func TestReorgRepointsWithoutDeleting(t *testing.T) {
	idx := newTestIndexer(t)
	blk0 := coinbaseBlock(chainhash.Hash256{}, 1, []byte{0x51})
	if err := idx.ApplyBlock(blk0, 0); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	branchA := coinbaseBlock(blk0.Header.Hash(), 2, []byte{0x52})
	if err := idx.ApplyBlock(branchA, 1); err != nil {
		t.Fatalf("apply branch A: %v", err)
	}
	if !idx.IsBestChain(branchA.Header.Hash()) {
		t.Fatalf("branch A should be best before the reorg")
	}

	// A competing block at the same height wins the reorg.
	branchB := coinbaseBlock(blk0.Header.Hash(), 3, []byte{0x53})
	if err := idx.ApplyBlock(branchB, 1); err != nil {
		t.Fatalf("apply branch B: %v", err)
	}

	if idx.IsBestChain(branchA.Header.Hash()) {
		t.Fatalf("orphaned branch A still reported as best chain")
	}
	if !idx.IsBestChain(branchB.Header.Hash()) {
		t.Fatalf("branch B should be best after the reorg")
	}

	// Non-destructive rewind: A's rows are still present, just dead.
	if _, err := idx.Store.TxStore.Get(schema.BlockKey(branchA.Header.Hash())); err != nil {
		t.Fatalf("orphaned block rows must not be deleted: %v", err)
	}
	if _, err := idx.Store.TxStore.Get(schema.TxKey(branchA.Txs[0].Txid())); err != nil {
		t.Fatalf("orphaned tx rows must not be deleted: %v", err)
	}

	// A tx confirmed only on the orphaned branch no longer resolves as an
	// available prevout.
	op := chainhash.OutPoint{Hash: branchA.Txs[0].Txid(), Index: 0}
	if _, _, _, ok := idx.ResolveOutput(op); ok {
		t.Fatalf("orphaned output must not resolve")
	}
	opB := chainhash.OutPoint{Hash: branchB.Txs[0].Txid(), Index: 0}
	if _, _, _, ok := idx.ResolveOutput(opB); !ok {
		t.Fatalf("best-chain output must resolve")
	}
}

func TestHashAtHeightUnindexed(t *testing.T) {
	idx := newTestIndexer(t)
	if _, ok := idx.HashAtHeight(context.Background(), 42); ok {
		t.Fatalf("expected no hash at unindexed height")
	}
}
