package wire

import (
	"encoding/binary"
	"errors"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// ErrMalformedTx is returned when a transaction fails to parse.
var ErrMalformedTx = errors.New("wire: malformed transaction")

// TxIn is a transaction input: a previous outpoint plus its unlocking script.
type TxIn struct {
	PrevOut  chainhash.OutPoint
	Script   []byte
	Sequence uint32
}

// TxOut is a transaction output: a value and a locking script. Tapyrus
// colored-coin outputs carry their color tag inside Script (a trailing
// OP_COLOR tag) rather than as a separate wire field, so Script is kept raw here;
// internal/rowbuilder is responsible for extracting the color identifier.
type TxOut struct {
	Value  chainhash.Amount
	Script []byte
}

// Transaction is a full Tapyrus transaction. Tapyrus carries no segwit
// marker/flag/witness fields, so the wire layout is the pre-segwit Bitcoin
// transaction format: version, inputs, outputs, locktime.
type Transaction struct {
	Version  uint32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime uint32
}

// Encode serializes the transaction to its canonical wire bytes.
func (tx *Transaction) Encode() []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)
	buf = PutCompactSize(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.Hash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = PutCompactSize(buf, uint64(len(in.Script)))
		buf = append(buf, in.Script...)
		buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	}
	buf = PutCompactSize(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(out.Value))
		buf = PutCompactSize(buf, uint64(len(out.Script)))
		buf = append(buf, out.Script...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	return buf
}

// DecodeTransaction parses a transaction from b, returning the number of
// bytes consumed so callers can continue scanning a block's tx list.
func DecodeTransaction(b []byte) (*Transaction, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrMalformedTx
	}
	off := 0
	tx := &Transaction{}
	tx.Version = binary.LittleEndian.Uint32(b[off:])
	off += 4

	nIn, n, err := ReadCompactSize(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	tx.Inputs = make([]TxIn, nIn)
	for i := range tx.Inputs {
		if len(b) < off+36 {
			return nil, 0, ErrMalformedTx
		}
		h, err := chainhash.HashFromBytes(b[off : off+32])
		if err != nil {
			return nil, 0, ErrMalformedTx
		}
		idx := binary.LittleEndian.Uint32(b[off+32 : off+36])
		off += 36
		scriptLen, n, err := ReadCompactSize(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if uint64(len(b)) < uint64(off)+scriptLen {
			return nil, 0, ErrMalformedTx
		}
		script := append([]byte(nil), b[off:off+int(scriptLen)]...)
		off += int(scriptLen)
		if len(b) < off+4 {
			return nil, 0, ErrMalformedTx
		}
		seq := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		tx.Inputs[i] = TxIn{PrevOut: chainhash.OutPoint{Hash: h, Index: idx}, Script: script, Sequence: seq}
	}

	nOut, n, err := ReadCompactSize(b[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	tx.Outputs = make([]TxOut, nOut)
	for i := range tx.Outputs {
		if len(b) < off+8 {
			return nil, 0, ErrMalformedTx
		}
		value := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		scriptLen, n, err := ReadCompactSize(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if uint64(len(b)) < uint64(off)+scriptLen {
			return nil, 0, ErrMalformedTx
		}
		script := append([]byte(nil), b[off:off+int(scriptLen)]...)
		off += int(scriptLen)
		tx.Outputs[i] = TxOut{Value: chainhash.Amount(value), Script: script}
	}

	if len(b) < off+4 {
		return nil, 0, ErrMalformedTx
	}
	tx.LockTime = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	return tx, off, nil
}

// Txid computes the transaction's double-SHA256 identifier over its
// canonical wire encoding.
func (tx *Transaction) Txid() chainhash.Hash256 {
	return chainhash.DoubleSum256(tx.Encode())
}

// IsCoinbase reports whether this is a block's first, reward-minting
// transaction (single input spending the synthetic coinbase outpoint).
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsCoinbase()
}
