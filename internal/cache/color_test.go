package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

func newTestCache(t *testing.T) (*Cache, *indexer.Indexer) {
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
	return New(st, idx), idx
}

func coloredOut(value uint64, color chainhash.ColorId) wire.TxOut {
	script := append([]byte{0x76, 0xa9, 0x14}, rowbuilder.OpColor)
	script = append(script, color[:]...)
	return wire.TxOut{Value: chainhash.Amount(value), Script: script}
}

func coinbaseTx(seq uint32, outs ...wire.TxOut) *wire.Transaction {
	return &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Index: 0xFFFFFFFF},
			Sequence: seq,
		}},
		Outputs: outs,
	}
}

func applyNext(t *testing.T, idx *indexer.Indexer, prev chainhash.Hash256, height chainhash.Height, txs ...*wire.Transaction) *wire.Block {
	t.Helper()
	blk := &wire.Block{
		Header: &wire.Header{Version: 1, PrevHash: prev, Timestamp: 1700000000 + uint32(height)},
		Txs:    txs,
	}
	if err := idx.ApplyBlock(blk, height); err != nil {
		t.Fatalf("apply block at %d: %v", height, err)
	}
	return blk
}

// The canonical colored-coin lifecycle: issue 100 units, transfer them as
// 40 plus 60 of colored change, then spend the 60 into a 50-unit output,
// burning 10 — the summary must read issued=100 and burned=10.
func TestColorStatsIssueTransferBurn(t *testing.T) {
	c, idx := newTestCache(t)
	var color chainhash.ColorId
	color[0] = 0xc1
	color[1] = 0x77

	// Height 0: issuance of 100 from an uncolored coinbase.
	issue := coinbaseTx(1, coloredOut(100, color), wire.TxOut{Value: 5000000000, Script: []byte{0x51}})
	blk0 := applyNext(t, idx, chainhash.Hash256{}, 0, issue)

	// Height 1: transfer 40, keep 60 as colored change.
	transfer := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: issue.Txid(), Index: 0},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{coloredOut(40, color), coloredOut(60, color)},
	}
	blk1 := applyNext(t, idx, blk0.Header.Hash(), 1, coinbaseTx(2, wire.TxOut{Value: 5000000000, Script: []byte{0x52}}), transfer)

	// Height 2: spend the 60-unit change into a 50-unit colored output,
	// burning 10.
	burn := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: transfer.Txid(), Index: 1},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{coloredOut(50, color)},
	}
	applyNext(t, idx, blk1.Header.Hash(), 2, coinbaseTx(3, wire.TxOut{Value: 5000000000, Script: []byte{0x53}}), burn)

	stats, err := c.ColorStats(context.Background(), color)
	if err != nil {
		t.Fatalf("color stats: %v", err)
	}
	if stats.IssuedSum != 100 {
		t.Fatalf("issued_sum: got %d, want 100", stats.IssuedSum)
	}
	if stats.BurnedSum != 10 {
		t.Fatalf("burned_sum: got %d, want 10", stats.BurnedSum)
	}
}
