package rowbuilder

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

func coloredScript(color chainhash.ColorId) []byte {
	script := []byte{0x76, 0xa9, 0x14, OpColor}
	return append(script, color[:]...)
}

func testColor(tag byte) chainhash.ColorId {
	var c chainhash.ColorId
	c[0] = 0xc1
	c[1] = tag
	return c
}

func colorRowsOfKind(rows []ColorHistoryRow, kind byte) []ColorHistoryRow {
	var out []ColorHistoryRow
	for _, r := range rows {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func TestBuildColorRowsIssuance(t *testing.T) {
	color := testColor(1)
	row := &TxRow{
		Txid:    chainhash.Hash256{0x01},
		Inputs:  []TxRowInput{{PrevOut: chainhash.OutPoint{Hash: chainhash.Hash256{0xAA}, Index: 0}}},
		Outputs: []TxRowOutput{{Value: 100, Color: color, Script: coloredScript(color)}},
	}
	// The spent input is uncolored: the color is born here.
	rows := BuildColorRows(row, nil, nil)

	issued := colorRowsOfKind(rows, schema.ColorIssue)
	if len(issued) != 1 || issued[0].Amount != 100 || issued[0].Color != color {
		t.Fatalf("expected one issuance of 100, got %+v", rows)
	}
	if len(colorRowsOfKind(rows, schema.ColorBurn)) != 0 {
		t.Fatalf("issuance must not record a burn: %+v", rows)
	}
}

func TestBuildColorRowsTransfer(t *testing.T) {
	color := testColor(2)
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{0xAA}, Index: 0}
	row := &TxRow{
		Txid:    chainhash.Hash256{0x02},
		Inputs:  []TxRowInput{{PrevOut: prevout}},
		Outputs: []TxRowOutput{{Value: 40, Color: color, Script: coloredScript(color)}},
	}
	inputColors := map[chainhash.OutPoint]chainhash.ColorId{prevout: color}
	values := map[chainhash.OutPoint]chainhash.Amount{prevout: 40}

	rows := BuildColorRows(row, inputColors, values)
	transfers := colorRowsOfKind(rows, schema.ColorTransfer)
	if len(transfers) != 1 || transfers[0].Amount != 40 {
		t.Fatalf("expected one transfer of 40, got %+v", rows)
	}
	if len(colorRowsOfKind(rows, schema.ColorBurn)) != 0 {
		t.Fatalf("a full transfer must not record a burn: %+v", rows)
	}
}

func TestBuildColorRowsFullBurn(t *testing.T) {
	color := testColor(3)
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{0xAA}, Index: 1}
	row := &TxRow{
		Txid:   chainhash.Hash256{0x03},
		Inputs: []TxRowInput{{PrevOut: prevout}},
		// Only an uncolored change output: the whole colored input is burned.
		Outputs: []TxRowOutput{{Value: 500, Script: []byte{0x51}}},
	}
	inputColors := map[chainhash.OutPoint]chainhash.ColorId{prevout: color}
	values := map[chainhash.OutPoint]chainhash.Amount{prevout: 10}

	rows := BuildColorRows(row, inputColors, values)
	burns := colorRowsOfKind(rows, schema.ColorBurn)
	if len(burns) != 1 {
		t.Fatalf("expected one burn row, got %+v", rows)
	}
	if burns[0].Amount != 10 || burns[0].Color != color {
		t.Fatalf("expected burn of 10 units of %s, got %+v", color, burns[0])
	}
}

func TestBuildColorRowsPartialBurn(t *testing.T) {
	color := testColor(4)
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{0xAA}, Index: 2}
	row := &TxRow{
		Txid:    chainhash.Hash256{0x04},
		Inputs:  []TxRowInput{{PrevOut: prevout}},
		Outputs: []TxRowOutput{{Value: 30, Color: color, Script: coloredScript(color)}},
	}
	inputColors := map[chainhash.OutPoint]chainhash.ColorId{prevout: color}
	values := map[chainhash.OutPoint]chainhash.Amount{prevout: 50}

	rows := BuildColorRows(row, inputColors, values)
	transfers := colorRowsOfKind(rows, schema.ColorTransfer)
	burns := colorRowsOfKind(rows, schema.ColorBurn)
	if len(transfers) != 1 || transfers[0].Amount != 30 {
		t.Fatalf("expected a transfer of the surviving 30, got %+v", rows)
	}
	if len(burns) != 1 || burns[0].Amount != 20 {
		t.Fatalf("expected the 20-unit shortfall recorded as a burn, got %+v", rows)
	}
}

func TestBuildColorRowsIndependentColors(t *testing.T) {
	burned, issued := testColor(5), testColor(6)
	prevout := chainhash.OutPoint{Hash: chainhash.Hash256{0xAA}, Index: 3}
	row := &TxRow{
		Txid:    chainhash.Hash256{0x05},
		Inputs:  []TxRowInput{{PrevOut: prevout}},
		Outputs: []TxRowOutput{{Value: 7, Color: issued, Script: coloredScript(issued)}},
	}
	inputColors := map[chainhash.OutPoint]chainhash.ColorId{prevout: burned}
	values := map[chainhash.OutPoint]chainhash.Amount{prevout: 3}

	rows := BuildColorRows(row, inputColors, values)
	if len(rows) != 2 {
		t.Fatalf("expected one issuance and one burn, got %+v", rows)
	}
	burns := colorRowsOfKind(rows, schema.ColorBurn)
	if len(burns) != 1 || burns[0].Color != burned || burns[0].Amount != 3 {
		t.Fatalf("wrong burn row: %+v", rows)
	}
	iss := colorRowsOfKind(rows, schema.ColorIssue)
	if len(iss) != 1 || iss[0].Color != issued || iss[0].Amount != 7 {
		t.Fatalf("wrong issuance row: %+v", rows)
	}
}
