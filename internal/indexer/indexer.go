// Package indexer orchestrates turning raw blocks into store rows: an
// initial two-phase bulk pass over the daemon's block files, then
// incremental tip-following with non-destructive reorg handling.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/nodeclient"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Phase is the indexer's coarse lifecycle state.
type Phase int

const (
	PhaseFresh Phase = iota
	PhaseBulkBuildingTx
	PhaseBulkBuildingHistory
	PhaseCompacting
	PhaseTracking
)

// Indexer owns the store and drives it through bulk indexing and then
// continuous tip-following.
type Indexer struct {
	Store   *store.Store
	Node    *nodeclient.Client
	Log     zerolog.Logger
	Magic   uint32
	Workers int

	// IndexUnspendables mirrors the operator's --index-unspendables flag:
	// when false, OP_RETURN-style outputs get no history/funding row.
	IndexUnspendables bool
	// AddressSearch mirrors --address-search: when true, every standard
	// P2PKH/P2SH output also gets an a{address} -> script row.
	AddressSearch bool

	mu    sync.RWMutex
	phase Phase
}

// New creates an Indexer. workers <= 0 defaults to runtime.GOMAXPROCS at
// call sites that build worker pools from it.
func New(st *store.Store, node *nodeclient.Client, log zerolog.Logger, magic uint32, workers int) *Indexer {
	return &Indexer{Store: st, Node: node, Log: log, Magic: magic, Workers: workers}
}

// writeAddressIndexRows writes an a{address} -> script row for every
// standard-script output of row, when AddressSearch is enabled.
func (idx *Indexer) writeAddressIndexRows(row *rowbuilder.TxRow) error {
	if !idx.AddressSearch {
		return nil
	}
	for _, a := range rowbuilder.BuildAddressIndexRows(row) {
		if err := idx.Store.Cache.Put(schema.AddressIndexKey(a.Address), a.Script); err != nil {
			return fmt.Errorf("write address index row: %w", err)
		}
	}
	return nil
}

// Phase returns the current lifecycle phase.
func (idx *Indexer) Phase() Phase {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.phase
}

func (idx *Indexer) setPhase(p Phase) {
	idx.mu.Lock()
	idx.phase = p
	idx.mu.Unlock()
}

// Bootstrap establishes a defined starting state: if the store has no tip
// row yet, it writes one at a sentinel "no blocks indexed" height so
// crash-recovery logic always has something to read rather than needing a
// special nil-tip case at every call site.
func (idx *Indexer) Bootstrap() error {
	_, err := idx.Store.History.Get(schema.TipRowKey())
	if err == nil {
		return nil // tip already exists
	}
	if err != store.ErrNotFound {
		return fmt.Errorf("read tip: %w", err)
	}
	return idx.writeTip(schema.Tip{Height: 0, Hash: chainhash.Hash256{}})
}

func (idx *Indexer) writeTip(tip schema.Tip) error {
	data, err := store.Encode(tip)
	if err != nil {
		return err
	}
	return idx.Store.History.Put(schema.TipRowKey(), data)
}

// Tip returns the current best-chain pointer.
func (idx *Indexer) Tip() (schema.Tip, error) {
	data, err := idx.Store.History.Get(schema.TipRowKey())
	if err != nil {
		return schema.Tip{}, err
	}
	var tip schema.Tip
	if err := store.Decode(data, &tip); err != nil {
		return schema.Tip{}, err
	}
	return tip, nil
}

// HashAtHeight looks up the best-chain block hash at height, or ok=false if
// no block is indexed at that height (including if it was later orphaned).
func (idx *Indexer) HashAtHeight(ctx context.Context, height chainhash.Height) (chainhash.Hash256, bool) {
	data, err := idx.Store.TxStore.Get(schema.HashByHeightKey(height))
	if err != nil {
		return chainhash.Hash256{}, false
	}
	h, err := chainhash.HashFromBytes(data)
	return h, err == nil
}

// IsBestChain reports whether hash is the block actually indexed at its own
// recorded height — false means it was orphaned by a later reorg. Rows
// belonging to an orphaned block are never deleted (non-destructive
// rewind); every reader must filter through this check.
func (idx *Indexer) IsBestChain(hash chainhash.Hash256) bool {
	heightBytes, err := idx.Store.TxStore.Get(schema.HeightIndexKey(hash))
	if err != nil {
		return false
	}
	var height uint32
	if len(heightBytes) != 4 {
		return false
	}
	height = beUint32(heightBytes)
	atHeight, err := idx.Store.TxStore.Get(schema.HashByHeightKey(chainhash.Height(height)))
	if err != nil {
		return false
	}
	current, err := chainhash.HashFromBytes(atHeight)
	return err == nil && current == hash
}

// GetTxRow fetches and decodes a confirmed tx row, regardless of which
// branch confirmed it — callers that care about best-chain membership must
// check IsBestChain(row.BlockHash) themselves.
func (idx *Indexer) GetTxRow(txid chainhash.Hash256) (*rowbuilder.TxRow, error) {
	data, err := idx.Store.TxStore.Get(schema.TxKey(txid))
	if err != nil {
		return nil, err
	}
	var row rowbuilder.TxRow
	if err := store.Decode(data, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// ResolveOutput implements mempool.PrevoutResolver: it looks up a
// confirmed output's scripthash, value, and color for a mempool tx whose
// prevout is not itself another mempool entry. Orphaned (non-best-chain)
// confirmations are treated as not found, since the indexer never deletes
// their rows on rewind.
func (idx *Indexer) ResolveOutput(op chainhash.OutPoint) (chainhash.Hash256, chainhash.Amount, chainhash.ColorId, bool) {
	row, err := idx.GetTxRow(op.Hash)
	if err != nil || int(op.Index) >= len(row.Outputs) {
		return chainhash.Hash256{}, 0, chainhash.ColorId{}, false
	}
	if !idx.IsBestChain(row.BlockHash) {
		return chainhash.Hash256{}, 0, chainhash.ColorId{}, false
	}
	out := row.Outputs[op.Index]
	return out.ScriptHash, out.Value, out.Color, true
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
