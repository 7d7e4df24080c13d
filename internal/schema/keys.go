// Package schema builds the fixed-layout binary keys used by every on-disk
// row. Integer fields inside keys are big-endian so lexicographic iteration
// matches height order.
package schema

import (
	"encoding/binary"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Row-type prefix bytes. A single byte keeps every key family trivially
// distinguishable under a ForEach prefix scan.
const (
	PrefixBlockByHash     = 'B' // B{blockhash} -> serialized block header
	PrefixHeightIndex     = 'X' // X{blockhash} -> height (for best-chain membership checks)
	PrefixHashByHeight    = 'M' // M{height} -> blockhash (best-chain lookup)
	PrefixDone            = 'D' // D{blockhash} -> "" once every tx in the block has a T-row
	PrefixBlockTxids      = 'x' // x{blockhash} -> ordered txid list (block summary/merkle source)
	PrefixTxRow           = 'T' // T{txid} -> tx row (inputs/outputs/fee/size)
	PrefixTxBlockLocation = 'C' // C{txid}{blockhash} -> "" (presence: the block confirms txid)
	PrefixSpentBy         = 'O' // O{txid}{vout} -> spending txid, if the output is spent
	PrefixHistory         = 'H' // H{scripthash}{height}{F|S}{...} -> funding/spending history entry
	PrefixAddressIndex    = 'a' // a{address} -> locking script (address-prefix search)
	PrefixColorHistory    = 'c' // c{colorid}{height}{I|T|B}{txid} -> colored-coin history entry
	PrefixAggCache        = 'U' // U{scripthash}{colorid} -> cached per-color balance aggregation
	PrefixUtxoCache       = 'u' // u{scripthash} -> cached live UTXO set
	PrefixColorAggCache   = 'z' // z{colorid} -> cached colored-coin issue/transfer/burn aggregation
	TipKey                = 't' // t -> current tip (height + blockhash)
)

func beUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func beUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// BlockKey builds the B{blockhash} key.
func BlockKey(hash chainhash.Hash256) []byte {
	return append([]byte{PrefixBlockByHash}, hash[:]...)
}

// HeightIndexKey builds the X{blockhash} key.
func HeightIndexKey(hash chainhash.Hash256) []byte {
	return append([]byte{PrefixHeightIndex}, hash[:]...)
}

// HashByHeightKey builds the M{height} key. Height is encoded big-endian so
// a prefix scan over M yields ascending height order.
func HashByHeightKey(height chainhash.Height) []byte {
	out := []byte{PrefixHashByHeight}
	return append(out, beUint32(uint32(height))...)
}

// DoneKey builds the D{blockhash} done-marker key. Its presence means every
// transaction of the block has a materialized T-row; phase 2 of the bulk
// import only processes blocks whose done marker is set.
func DoneKey(hash chainhash.Hash256) []byte {
	return append([]byte{PrefixDone}, hash[:]...)
}

// BlockTxidsKey builds the x{blockhash} key holding the block's ordered
// txid list, the source for merkle proofs and block/txs listings.
func BlockTxidsKey(hash chainhash.Hash256) []byte {
	return append([]byte{PrefixBlockTxids}, hash[:]...)
}

// TxKey builds the T{txid} key.
func TxKey(txid chainhash.Hash256) []byte {
	return append([]byte{PrefixTxRow}, txid[:]...)
}

// TxBlockLocationKey builds the C{txid}{blockhash} key.
func TxBlockLocationKey(txid, blockHash chainhash.Hash256) []byte {
	out := append([]byte{PrefixTxBlockLocation}, txid[:]...)
	return append(out, blockHash[:]...)
}

// TxBlockLocationPrefix builds the C{txid} scan prefix, used to find every
// block a txid was ever confirmed in (including orphaned branches).
func TxBlockLocationPrefix(txid chainhash.Hash256) []byte {
	return append([]byte{PrefixTxBlockLocation}, txid[:]...)
}

// SpentByKey builds the O{txid}{vout} key: presence (value holds the
// spending txid) marks that output as spent, maintained by the indexer as
// it writes spending history rows and consulted by the live UTXO cache
// instead of diffing the full funding/spending history on every read.
func SpentByKey(txid chainhash.Hash256, vout uint32) []byte {
	out := append([]byte{PrefixSpentBy}, txid[:]...)
	return append(out, beUint32(vout)...)
}

// History entry kind tags, placed after the height so funding rows sort
// before spending rows at the same height.
const (
	HistoryFunding  = 'F'
	HistorySpending = 'S'
)

// HistoryKey builds a full H{scripthash}{height}{kind}{txid}{vout} key.
// Height is big-endian so a scripthash's rows iterate in confirmation
// order; unconfirmed rows use chainhash.MaxHeight and therefore always
// sort last.
func HistoryKey(sh chainhash.Hash256, height chainhash.Height, kind byte, txid chainhash.Hash256, vout uint32) []byte {
	out := append([]byte{PrefixHistory}, sh[:]...)
	out = append(out, beUint32(uint32(height))...)
	out = append(out, kind)
	out = append(out, txid[:]...)
	return append(out, beUint32(vout)...)
}

// HistoryPrefix builds the H{scripthash} scan prefix for every history
// entry of an address/scripthash, confirmed and unconfirmed.
func HistoryPrefix(sh chainhash.Hash256) []byte {
	return append([]byte{PrefixHistory}, sh[:]...)
}

// HistoryPrefixFromHeight builds a scan prefix starting at a given height,
// used to resume a cache replay from an anchor instead of rescanning from
// genesis.
func HistoryPrefixFromHeight(sh chainhash.Hash256, height chainhash.Height) []byte {
	out := append([]byte{PrefixHistory}, sh[:]...)
	return append(out, beUint32(uint32(height))...)
}

// AddressIndexKey builds the a{address} key, mapping a textual address to
// its locking script for the address-prefix search endpoint.
func AddressIndexKey(address string) []byte {
	return append([]byte{PrefixAddressIndex}, []byte(address)...)
}

// AddressIndexPrefix builds a scan prefix over every address beginning
// with prefix, capped by the caller at 10 matches.
func AddressIndexPrefix(prefix string) []byte {
	return append([]byte{PrefixAddressIndex}, []byte(prefix)...)
}

// Colored-coin history entry kind tags.
const (
	ColorIssue    = 'I'
	ColorTransfer = 'T'
	ColorBurn     = 'B'
)

// ColorHistoryKey builds c{colorid}{height}{kind}{txid} for colored-coin
// issuance/transfer/burn history, ordered the same way as address history.
func ColorHistoryKey(color chainhash.ColorId, height chainhash.Height, kind byte, txid chainhash.Hash256) []byte {
	out := append([]byte{PrefixColorHistory}, color[:]...)
	out = append(out, beUint32(uint32(height))...)
	out = append(out, kind)
	return append(out, txid[:]...)
}

// ColorHistoryPrefix builds the c{colorid} scan prefix.
func ColorHistoryPrefix(color chainhash.ColorId) []byte {
	return append([]byte{PrefixColorHistory}, color[:]...)
}

// ColorHistoryPrefixFromHeight builds a scan prefix starting at a given
// height, used to resume a color aggregation cache replay from an anchor.
func ColorHistoryPrefixFromHeight(color chainhash.ColorId, height chainhash.Height) []byte {
	out := append([]byte{PrefixColorHistory}, color[:]...)
	return append(out, beUint32(uint32(height))...)
}

// AggCacheKey builds the U{scripthash}{colorid} key for a cached per-color
// balance aggregation. color is the all-zero ColorId for the native/
// uncolored balance.
func AggCacheKey(sh chainhash.Hash256, color chainhash.ColorId) []byte {
	out := append([]byte{PrefixAggCache}, sh[:]...)
	return append(out, color[:]...)
}

// AggCachePrefix builds the U{scripthash} scan prefix over every cached
// per-color balance for a scripthash, used to enumerate which colors a
// scripthash has ever touched.
func AggCachePrefix(sh chainhash.Hash256) []byte {
	return append([]byte{PrefixAggCache}, sh[:]...)
}

// UtxoCacheKey builds the u{scripthash} key for a cached live UTXO set.
func UtxoCacheKey(sh chainhash.Hash256) []byte {
	return append([]byte{PrefixUtxoCache}, sh[:]...)
}

// ColorAggCacheKey builds the z{colorid} key for a cached colored-coin
// aggregation.
func ColorAggCacheKey(color chainhash.ColorId) []byte {
	return append([]byte{PrefixColorAggCache}, color[:]...)
}

// Tip is the single t row: the current best-chain height and hash.
type Tip struct {
	Height chainhash.Height
	Hash   chainhash.Hash256
}

var tipKeyBytes = []byte{TipKey}

// TipRowKey is the fixed key for the tip pointer.
func TipRowKey() []byte { return tipKeyBytes }
