package rowbuilder

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

func TestBuildTxRowBasic(t *testing.T) {
	tx := &wire.Transaction{
		Version: 1,
		Inputs: []wire.TxIn{{
			PrevOut:  chainhash.OutPoint{Hash: chainhash.Hash256{}, Index: 0xFFFFFFFF},
			Sequence: 0xffffffff,
		}},
		Outputs: []wire.TxOut{{Value: 5000000000, Script: []byte{0x51}}},
	}

	row := BuildTxRow(tx)
	if !row.Coinbase {
		t.Fatalf("expected coinbase tx to be detected")
	}
	if len(row.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(row.Outputs))
	}
	if row.Outputs[0].Value != 5000000000 {
		t.Fatalf("unexpected output value %d", row.Outputs[0].Value)
	}
}

func TestExtractColorIdRoundTrip(t *testing.T) {
	var id chainhash.ColorId
	id[0] = 0xc1
	id[1] = 0xaa

	plain := []byte{0x76, 0xa9, 0x14} // fake pay-to-pubkey-hash prefix
	script := append(append([]byte{}, plain...), OpColor)
	script = append(script, id[:]...)

	got, underlying, ok := ExtractColorId(script)
	if !ok {
		t.Fatalf("expected colored script to be detected")
	}
	if got != id {
		t.Fatalf("color id mismatch: got %s", got)
	}
	if string(underlying) != string(plain) {
		t.Fatalf("underlying script mismatch")
	}
}

func TestExtractColorIdUncolored(t *testing.T) {
	script := []byte{0x76, 0xa9, 0x14}
	_, _, ok := ExtractColorId(script)
	if ok {
		t.Fatalf("expected uncolored script to report false")
	}
}

func TestComputeFeeNonCoinbase(t *testing.T) {
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{1}, Index: 0}
	row := &TxRow{
		Inputs:  []TxRowInput{{PrevOut: prevout}},
		Outputs: []TxRowOutput{{Value: 900}},
	}
	values := map[chainhash.OutPoint]chainhash.Amount{prevout: 1000}
	fee := ComputeFee(row, values)
	if fee != 100 {
		t.Fatalf("expected fee 100, got %d", fee)
	}
}

func TestComputeFeeCoinbaseIsZero(t *testing.T) {
	row := &TxRow{Coinbase: true, Outputs: []TxRowOutput{{Value: 5000000000}}}
	fee := ComputeFee(row, nil)
	if fee != 0 {
		t.Fatalf("expected coinbase fee 0, got %d", fee)
	}
}
