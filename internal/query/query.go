// Package query is the read layer every transport (Electrum, HTTP) calls
// into: it fuses store range scans, the aggregation cache, and the mempool
// snapshot into the shapes a wallet actually wants (balances, history pages,
// UTXO sets, merkle proofs), and owns the hot-data LRU caches sized by
// --tx-cache-size/--blocktxids-cache-size.
package query

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/cache"
	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/nodeclient"
	"github.com/Klingon-tech/tapyrus-index/internal/rowbuilder"
	"github.com/Klingon-tech/tapyrus-index/internal/schema"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// Query is the shared read-side handle constructed once at startup and
// passed by reference to every Electrum connection handler and HTTP route.
type Query struct {
	Store *store.Store
	Idx   *indexer.Indexer
	Cache *cache.Cache
	Pool  *mempool.Pool
	Node  *nodeclient.Client
	Log   zerolog.Logger

	// TxidLimit caps how many confirmed history entries a scripthash's
	// listings consider: the whole list is truncated to it before paging,
	// and entries past it are left out rather than rejected (0 = no limit).
	// Color listings are not capped.
	TxidLimit int

	txCache         *lru.Cache[chainhash.Hash256, *rowbuilder.TxRow]
	blockTxidsCache *lru.Cache[chainhash.Hash256, []chainhash.Hash256]
}

// New builds a Query. txCacheSize/blockTxidsCacheSize <= 0 disable the
// corresponding cache (every lookup falls through to the store).
func New(st *store.Store, idx *indexer.Indexer, c *cache.Cache, pool *mempool.Pool, node *nodeclient.Client, log zerolog.Logger, txCacheSize, blockTxidsCacheSize, txidLimit int) (*Query, error) {
	q := &Query{Store: st, Idx: idx, Cache: c, Pool: pool, Node: node, Log: log, TxidLimit: txidLimit}
	if txCacheSize > 0 {
		tc, err := lru.New[chainhash.Hash256, *rowbuilder.TxRow](txCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create tx cache: %w", err)
		}
		q.txCache = tc
	}
	if blockTxidsCacheSize > 0 {
		bc, err := lru.New[chainhash.Hash256, []chainhash.Hash256](blockTxidsCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create block-txids cache: %w", err)
		}
		q.blockTxidsCache = bc
	}
	return q, nil
}

// Tip returns the current best-chain pointer.
func (q *Query) Tip() (schema.Tip, error) {
	return q.Idx.Tip()
}

// GetTx hydrates a transaction row by txid, checking the mempool first
// (mempool rows are never cached, since they mutate under reconciliation),
// then the confirmed tx cache, then the store itself on a cache miss.
func (q *Query) GetTx(ctx context.Context, txid chainhash.Hash256) (*rowbuilder.TxRow, error) {
	if row := q.Pool.Get(txid); row != nil {
		return row, nil
	}
	if q.txCache != nil {
		if row, ok := q.txCache.Get(txid); ok {
			return row, nil
		}
	}
	row, err := q.Idx.GetTxRow(txid)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, xerrors.New(xerrors.Client, "transaction not found")
		}
		return nil, xerrors.Wrap(xerrors.Corruption, "decode tx row", err)
	}
	if q.txCache != nil {
		q.txCache.Add(txid, row)
	}
	return row, nil
}

// Broadcast relays a raw transaction through the daemon and, on success,
// adds it to the local mempool replica immediately so a follow-up query
// sees it without waiting for the next mempool poll.
func (q *Query) Broadcast(ctx context.Context, rawHex string) (chainhash.Hash256, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed transaction hex")
	}
	tx, _, err := wire.DecodeTransaction(raw)
	if err != nil {
		return chainhash.Hash256{}, xerrors.New(xerrors.Client, "malformed transaction")
	}
	txid, err := q.Node.SendRawTransaction(ctx, hex.EncodeToString(raw))
	if err != nil {
		var rpcErr *nodeclient.RPCError
		if errors.As(err, &rpcErr) {
			// The daemon examined and rejected the tx: the client's fault,
			// not an infrastructure failure.
			return chainhash.Hash256{}, xerrors.Wrap(xerrors.Client, "daemon rejected transaction", err)
		}
		return chainhash.Hash256{}, err
	}
	q.Pool.Add(tx)
	return txid, nil
}

// TxStatus is the confirmation state of a transaction, the shape behind
// GET /tx/:txid/status and the Electrum get_merkle "height" field.
type TxStatus struct {
	Confirmed   bool
	BlockHeight chainhash.Height
	BlockHash   chainhash.Hash256
}

// Status reports whether txid is confirmed on the best chain right now.
func (q *Query) Status(ctx context.Context, txid chainhash.Hash256) (TxStatus, error) {
	if q.Pool.Has(txid) {
		return TxStatus{Confirmed: false}, nil
	}
	row, err := q.GetTx(ctx, txid)
	if err != nil {
		return TxStatus{}, err
	}
	if row.Height == chainhash.MaxHeight || !q.Idx.IsBestChain(row.BlockHash) {
		return TxStatus{Confirmed: false}, nil
	}
	return TxStatus{Confirmed: true, BlockHeight: row.Height, BlockHash: row.BlockHash}, nil
}

// blockTxids returns the ordered txid list for a confirmed block, through
// the LRU cache.
func (q *Query) blockTxids(blockHash chainhash.Hash256) ([]chainhash.Hash256, error) {
	if q.blockTxidsCache != nil {
		if ids, ok := q.blockTxidsCache.Get(blockHash); ok {
			return ids, nil
		}
	}
	data, err := q.Store.TxStore.Get(schema.BlockTxidsKey(blockHash))
	if err != nil {
		return nil, err
	}
	var ids []chainhash.Hash256
	if err := store.Decode(data, &ids); err != nil {
		return nil, xerrors.Wrap(xerrors.Corruption, "decode block txids", err)
	}
	if q.blockTxidsCache != nil {
		q.blockTxidsCache.Add(blockHash, ids)
	}
	return ids, nil
}

// Outspend reports the spender of one specific output, if any.
type Outspend struct {
	Spent bool
	Txid  chainhash.Hash256
	Vin   uint32
}

// Outspend looks up who (if anyone) has spent txid:vout, checking confirmed
// spends first and then the inputs of every tx in the mempool snapshot.
func (q *Query) Outspend(ctx context.Context, txid chainhash.Hash256, vout uint32) (Outspend, error) {
	data, err := q.Store.TxStore.Get(schema.SpentByKey(txid, vout))
	if err == nil {
		spender, herr := chainhash.HashFromBytes(data)
		if herr == nil {
			if spRow, gerr := q.Idx.GetTxRow(spender); gerr == nil && q.Idx.IsBestChain(spRow.BlockHash) {
				return Outspend{Spent: true, Txid: spender}, nil
			}
		}
	} else if err != store.ErrNotFound {
		return Outspend{}, xerrors.Wrap(xerrors.Corruption, "read spentby row", err)
	}

	op := chainhash.OutPoint{Hash: txid, Index: vout}
	for _, row := range q.Pool.Snapshot() {
		for i, in := range row.Inputs {
			if in.PrevOut == op {
				return Outspend{Spent: true, Txid: row.Txid, Vin: uint32(i)}, nil
			}
		}
	}
	return Outspend{Spent: false}, nil
}

// Outspends reports the spend state of every output of txid, in vout order.
func (q *Query) Outspends(ctx context.Context, txid chainhash.Hash256) ([]Outspend, error) {
	row, err := q.GetTx(ctx, txid)
	if err != nil {
		return nil, err
	}
	out := make([]Outspend, len(row.Outputs))
	for i := range row.Outputs {
		sp, err := q.Outspend(ctx, txid, uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = sp
	}
	return out, nil
}
