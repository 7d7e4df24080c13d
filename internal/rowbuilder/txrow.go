// Package rowbuilder turns parsed transactions into the rows the store
// schema persists: tx rows (phase 1, a pure function of the tx itself) and
// history rows (phase 2, which need prevout resolution).
package rowbuilder

import (
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// TxRowInput is the stored shape of one transaction input.
type TxRowInput struct {
	PrevOut chainhash.OutPoint
}

// TxRowOutput is the stored shape of one transaction output, with its
// scripthash and (if colored) color identifier precomputed so the query
// layer never has to re-derive them from raw script bytes.
type TxRowOutput struct {
	Value      chainhash.Amount
	Script     []byte
	ScriptHash chainhash.Hash256
	Color      chainhash.ColorId // zero value means uncolored
}

// TxRow is the T{txid} row: everything about a transaction that is known
// without resolving any prevout. Height/BlockHash are filled in once the
// indexer knows which block (if any) confirms it; Fee is filled in during
// phase 2 once prevout values are resolved.
type TxRow struct {
	Txid      chainhash.Hash256
	Version   uint32
	LockTime  uint32
	Inputs    []TxRowInput
	Outputs   []TxRowOutput
	Raw       []byte // full canonical wire encoding, for hex/raw serving and re-broadcast round-trips
	Size      int
	Height    chainhash.Height
	BlockHash chainhash.Hash256
	Fee       int64
	Coinbase  bool
}

// BuildTxRow derives the phase-1 tx row from a parsed wire transaction.
// This never touches the store: it is a pure function with no shared
// state. Bulk phase 1 calls it sequentially, once per transaction.
func BuildTxRow(tx *wire.Transaction) *TxRow {
	raw := tx.Encode()
	row := &TxRow{
		Txid:     tx.Txid(),
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Coinbase: tx.IsCoinbase(),
		Raw:      raw,
		Size:     len(raw),
	}
	row.Inputs = make([]TxRowInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		row.Inputs[i] = TxRowInput{PrevOut: in.PrevOut}
	}
	row.Outputs = make([]TxRowOutput, len(tx.Outputs))
	for i, out := range tx.Outputs {
		colorID, underlying, colored := ExtractColorId(out.Script)
		sh := chainhash.ScriptHash(out.Script)
		o := TxRowOutput{Value: out.Value, Script: out.Script, ScriptHash: sh}
		if colored {
			o.Color = colorID
			// The scripthash used for balance/history lookups is always over
			// the full locking script including the color tag, matching how
			// a wallet would compute it when asking for this scripthash's
			// colored balance; underlying is kept available for callers that
			// need the bare pay-to-script half.
			_ = underlying
		}
		row.Outputs[i] = o
	}
	return row
}

// OpColor is the Tapyrus script opcode marking a trailing color identifier.
// A colored output's script is: <ordinary locking script> OP_COLOR <33-byte
// color id>.
const OpColor = 0xbc

// ExtractColorId reports whether script carries a trailing OP_COLOR tag and,
// if so, returns the color identifier and the script with the tag stripped.
func ExtractColorId(script []byte) (chainhash.ColorId, []byte, bool) {
	const tagLen = 1 + chainhash.ColorIdSize
	if len(script) < tagLen || script[len(script)-tagLen] != OpColor {
		return chainhash.ColorId{}, script, false
	}
	var id chainhash.ColorId
	copy(id[:], script[len(script)-chainhash.ColorIdSize:])
	return id, script[:len(script)-tagLen], true
}

// ComputeFee fills row.Fee given the resolved value of every prevout it
// spends. Coinbase transactions have no fee (they mint the block reward)
// and are left at zero.
func ComputeFee(row *TxRow, prevoutValues map[chainhash.OutPoint]chainhash.Amount) int64 {
	if row.Coinbase {
		return 0
	}
	var in, out int64
	for _, i := range row.Inputs {
		in += int64(prevoutValues[i.PrevOut])
	}
	for _, o := range row.Outputs {
		out += int64(o.Value)
	}
	fee := in - out
	row.Fee = fee
	return fee
}
