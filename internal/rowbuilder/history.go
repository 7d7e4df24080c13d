package rowbuilder

import (
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// HistoryRow is one funding or spending event for a scripthash, the unit
// the query layer pages through, 25 confirmed entries per page.
type HistoryRow struct {
	ScriptHash chainhash.Hash256
	Height     chainhash.Height
	Kind       byte // schema.HistoryFunding or schema.HistorySpending
	Txid       chainhash.Hash256
	Vout       uint32
	Value      chainhash.Amount
	Color      chainhash.ColorId // zero value means uncolored
}

// Key returns the full H-row key for this entry.
func (h HistoryRow) Key() []byte {
	return schema.HistoryKey(h.ScriptHash, h.Height, h.Kind, h.Txid, h.Vout)
}

// BuildFundingRows returns one history row per output of row, always
// derivable without resolving any prevout. Provably-unspendable outputs
// (OP_RETURN-style) are skipped unless indexUnspendables is set, the
// --index-unspendables opt-in.
func BuildFundingRows(row *TxRow, indexUnspendables bool) []HistoryRow {
	out := make([]HistoryRow, 0, len(row.Outputs))
	for i, o := range row.Outputs {
		if !indexUnspendables && IsUnspendable(o.Script) {
			continue
		}
		out = append(out, HistoryRow{
			ScriptHash: o.ScriptHash,
			Height:     row.Height,
			Kind:       schema.HistoryFunding,
			Txid:       row.Txid,
			Vout:       uint32(i),
			Value:      o.Value,
			Color:      o.Color,
		})
	}
	return out
}

// OpReturn is the opcode marking a provably-unspendable output.
const OpReturn = 0x6a

// IsUnspendable reports whether script can never be satisfied by any
// unlocking script, the same test an operator's --index-unspendables flag
// gates funding-row creation on.
func IsUnspendable(script []byte) bool {
	return len(script) > 0 && script[0] == OpReturn
}

// BuildSpendingRows returns one history row per input of row, given the
// scripthash and value each input's prevout carried — resolved via a
// point-get against the tx store in phase 2, the reason spending rows lag
// funding rows by one pass.
func BuildSpendingRows(row *TxRow, prevoutScriptHash map[chainhash.OutPoint]chainhash.Hash256, prevoutValue map[chainhash.OutPoint]chainhash.Amount, prevoutColor map[chainhash.OutPoint]chainhash.ColorId) []HistoryRow {
	var out []HistoryRow
	for _, in := range row.Inputs {
		if row.Coinbase {
			continue
		}
		sh, ok := prevoutScriptHash[in.PrevOut]
		if !ok {
			continue
		}
		out = append(out, HistoryRow{
			ScriptHash: sh,
			Height:     row.Height,
			Kind:       schema.HistorySpending,
			Txid:       row.Txid,
			Vout:       in.PrevOut.Index,
			Value:      prevoutValue[in.PrevOut],
			Color:      prevoutColor[in.PrevOut],
		})
	}
	return out
}

// ColorHistoryRow is one issue/transfer/burn event for a color id.
type ColorHistoryRow struct {
	Color  chainhash.ColorId
	Height chainhash.Height
	Kind   byte // schema.ColorIssue, ColorTransfer, or ColorBurn
	Txid   chainhash.Hash256
	Amount chainhash.Amount
}

// Key returns the full color-history row key for this entry.
func (c ColorHistoryRow) Key() []byte {
	return schema.ColorHistoryKey(c.Color, c.Height, c.Kind, c.Txid)
}

// BuildColorRows classifies row's colored outputs/inputs into issuance,
// transfer, or burn events. An output is an issuance if none of the tx's
// inputs carried the same color (the color is "born" in this tx); a
// transfer if both sides carry it; a burn is recorded when the colored
// amount spent exceeds the colored amount recreated, for the difference.
// prevoutValue carries each input's resolved value, the same map spending
// rows are built from.
func BuildColorRows(row *TxRow, inputColors map[chainhash.OutPoint]chainhash.ColorId, prevoutValue map[chainhash.OutPoint]chainhash.Amount) []ColorHistoryRow {
	var rows []ColorHistoryRow

	inputSum := make(map[chainhash.ColorId]chainhash.Amount)
	for _, in := range row.Inputs {
		if c, ok := inputColors[in.PrevOut]; ok && !c.IsZero() {
			inputSum[c] += prevoutValue[in.PrevOut]
		}
	}

	outputSum := make(map[chainhash.ColorId]chainhash.Amount)
	for _, o := range row.Outputs {
		if o.Color.IsZero() {
			continue
		}
		outputSum[o.Color] += o.Value
		kind := byte(schema.ColorTransfer)
		if _, carried := inputSum[o.Color]; !carried {
			kind = schema.ColorIssue
		}
		rows = append(rows, ColorHistoryRow{
			Color:  o.Color,
			Height: row.Height,
			Kind:   kind,
			Txid:   row.Txid,
			Amount: o.Value,
		})
	}

	for c, in := range inputSum {
		if out := outputSum[c]; in > out {
			rows = append(rows, ColorHistoryRow{
				Color:  c,
				Height: row.Height,
				Kind:   schema.ColorBurn,
				Txid:   row.Txid,
				Amount: in - out,
			})
		}
	}

	return rows
}
