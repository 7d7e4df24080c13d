package mempool

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

type fakeResolver struct {
	values map[chainhash.OutPoint]chainhash.Amount
}

func (f *fakeResolver) ResolveOutput(op chainhash.OutPoint) (chainhash.Hash256, chainhash.Amount, chainhash.ColorId, bool) {
	v, ok := f.values[op]
	return chainhash.Hash256{0x42}, v, chainhash.ColorId{}, ok
}

func mkTx(seq uint32, value uint64) *wire.Transaction {
	return &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: chainhash.Hash256{0x01}, Index: 0},
			Sequence: seq,
		}},
		Outputs: []wire.TxOut{{Value: chainhash.Amount(value), Script: []byte{0x51}}},
	}
}

func TestPoolAddIsIdempotent(t *testing.T) {
	p := New(nil, 0, true)
	tx := mkTx(1, 1000)
	row1 := p.Add(tx)
	row2 := p.Add(tx)
	if row1.Txid != row2.Txid {
		t.Fatalf("expected same txid on re-add")
	}
	if p.Count() != 1 {
		t.Fatalf("expected count 1, got %d", p.Count())
	}
}

func TestPoolResolvesPrevoutFromStore(t *testing.T) {
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{0x01}, Index: 0}
	resolver := &fakeResolver{values: map[chainhash.OutPoint]chainhash.Amount{prevout: 1000}}
	p := New(resolver, 0, true)

	row := p.Add(mkTx(1, 900))
	if row.Fee != 100 {
		t.Fatalf("expected fee 100, got %d", row.Fee)
	}
}

func TestPoolEvictsLowestFeeRateWhenFull(t *testing.T) {
	p := New(nil, 1, true)
	p.Add(mkTx(1, 1000))
	p.Add(mkTx(2, 1000))

	// Neither tx resolves a prevout value, so both have fee -1000 (0 in,
	// 1000 out) and feeRate 0, since only a positive fee sets a rate;
	// the pool should keep exactly one entry either way.
	if p.Count() != 1 {
		t.Fatalf("expected pool capped at 1, got %d", p.Count())
	}
}

func TestPoolReconcileDropsStaleEntries(t *testing.T) {
	p := New(nil, 0, true)
	row := p.Add(mkTx(1, 1000))
	p.Reconcile(map[chainhash.Hash256]bool{})
	if p.Has(row.Txid) {
		t.Fatalf("expected entry to be dropped after reconcile with empty set")
	}
}

func TestFeeHistogramCumulative(t *testing.T) {
	prevout1 := chainhash.OutPoint{Hash: chainhash.Hash256{0x01}, Index: 0}
	resolver := &fakeResolver{values: map[chainhash.OutPoint]chainhash.Amount{prevout1: 10000}}
	p := New(resolver, 0, true)
	p.Add(mkTx(1, 9000)) // fee 1000

	hist := p.FeeHistogram()
	if len(hist) == 0 {
		t.Fatalf("expected non-empty histogram")
	}
	if hist[0].VSize <= 0 {
		t.Fatalf("expected positive cumulative vsize")
	}
}
