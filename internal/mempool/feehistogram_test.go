package mempool

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

func addWithFee(t *testing.T, p *Pool, seq uint32, prevValue, outValue uint64) {
	t.Helper()
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{byte(seq)}, Index: 0}
	p.resolve.(*fakeResolver).values[prevout] = chainhash.Amount(prevValue)
	p.Add(&wire.Transaction{
		Version: 1,
		Inputs:  []wire.TxIn{{PrevOut: prevout, Sequence: seq}},
		Outputs: []wire.TxOut{{Value: chainhash.Amount(outValue), Script: []byte{0x51}}},
	})
}

func TestFeeHistogramEmptyPool(t *testing.T) {
	p := New(nil, 0, true)
	if got := p.FeeHistogram(); got != nil {
		t.Fatalf("expected nil histogram for empty pool, got %v", got)
	}
}

func TestFeeHistogramIsCumulativeAndDescending(t *testing.T) {
	p := New(&fakeResolver{values: map[chainhash.OutPoint]chainhash.Amount{}}, 0, true)
	addWithFee(t, p, 1, 100_000, 50_000) // large fee
	addWithFee(t, p, 2, 100_000, 90_000)
	addWithFee(t, p, 3, 100_000, 99_000) // small fee

	hist := p.FeeHistogram()
	if len(hist) == 0 {
		t.Fatalf("expected non-empty histogram")
	}
	var prevRate = hist[0].FeeRate + 1
	var prevSize int64
	for _, b := range hist {
		if b.FeeRate >= prevRate {
			t.Fatalf("fee rates must strictly descend: %v", hist)
		}
		if b.VSize <= prevSize {
			t.Fatalf("cumulative vsize must grow: %v", hist)
		}
		prevRate, prevSize = b.FeeRate, b.VSize
	}
}

func TestEstimateFeeRatePicksCoveringBucket(t *testing.T) {
	hist := []FeeHistogramBucket{
		{FeeRate: 40, VSize: 100},
		{FeeRate: 20, VSize: 300},
		{FeeRate: 5, VSize: 900},
	}
	if got := EstimateFeeRate(hist, 250); got != 20 {
		t.Fatalf("expected rate 20 to cover 250 bytes, got %v", got)
	}
	// Beyond the whole mempool: cheapest rate suffices.
	if got := EstimateFeeRate(hist, 10_000); got != 5 {
		t.Fatalf("expected cheapest rate for oversize target, got %v", got)
	}
	if got := EstimateFeeRate(nil, 100); got != 0 {
		t.Fatalf("expected zero estimate with no data, got %v", got)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	p := New(nil, 0, true)
	tx1 := mkTx(10, 1000)
	tx2 := mkTx(11, 1000)
	p.Add(tx1)
	p.Add(tx2)
	p.Touch(tx1.Txid(), 100)
	p.Touch(tx2.Txid(), 200)

	recent := p.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(recent))
	}
	if recent[0].Txid != tx2.Txid() {
		t.Fatalf("expected newest entry first")
	}

	// First report wins; a later Touch must not move the entry.
	p.Touch(tx1.Txid(), 999)
	recent = p.Recent(10)
	if recent[0].Txid != tx2.Txid() {
		t.Fatalf("re-touch must not reorder entries")
	}
}
