package nodeclient

import (
	"context"
	"encoding/hex"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// BlockCount returns the daemon's current best height.
func (c *Client) BlockCount(ctx context.Context) (chainhash.Height, error) {
	var height uint32
	if err := c.CallWithRetry(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return chainhash.Height(height), nil
}

// BestBlockHash returns the daemon's current tip hash.
func (c *Client) BestBlockHash(ctx context.Context) (chainhash.Hash256, error) {
	var s string
	if err := c.CallWithRetry(ctx, "getbestblockhash", nil, &s); err != nil {
		return chainhash.Hash256{}, err
	}
	return chainhash.HashFromString(s)
}

// BlockHashAtHeight returns the best-chain block hash at height, used by
// the tip poller to detect a reorg (compare against the locally stored hash
// at that height).
func (c *Client) BlockHashAtHeight(ctx context.Context, height chainhash.Height) (chainhash.Hash256, error) {
	var s string
	if err := c.CallWithRetry(ctx, "getblockhash", []interface{}{uint32(height)}, &s); err != nil {
		return chainhash.Hash256{}, err
	}
	return chainhash.HashFromString(s)
}

// RawBlock fetches a block's raw serialized bytes and parses it — used by
// tip tracking for every new block and for the reorg resync; the bulk
// import reads the daemon's block files directly via internal/bulkparser.
func (c *Client) RawBlock(ctx context.Context, hash chainhash.Hash256) (*wire.Block, error) {
	var hexData string
	if err := c.CallWithRetry(ctx, "getblock", []interface{}{hash.String(), 0}, &hexData); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, err
	}
	blk, _, err := wire.DecodeBlock(raw)
	return blk, err
}

// MempoolTxids returns every txid currently in the daemon's mempool.
func (c *Client) MempoolTxids(ctx context.Context) ([]chainhash.Hash256, error) {
	var hexIDs []string
	if err := c.CallWithRetry(ctx, "getrawmempool", nil, &hexIDs); err != nil {
		return nil, err
	}
	out := make([]chainhash.Hash256, 0, len(hexIDs))
	for _, s := range hexIDs {
		h, err := chainhash.HashFromString(s)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// RawMempoolTx fetches one mempool (or recently-confirmed, if the daemon
// still has it) transaction's raw bytes.
func (c *Client) RawMempoolTx(ctx context.Context, txid chainhash.Hash256) (*wire.Transaction, error) {
	var hexData string
	if err := c.CallWithRetry(ctx, "getrawtransaction", []interface{}{txid.String(), false}, &hexData); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, err
	}
	tx, _, err := wire.DecodeTransaction(raw)
	return tx, err
}

// SendRawTransaction broadcasts a transaction, returning its txid. Used by
// the HTTP/Electrum transaction-broadcast endpoints — this indexer itself
// never constructs transactions, it only relays what a client submits.
func (c *Client) SendRawTransaction(ctx context.Context, rawHex string) (chainhash.Hash256, error) {
	var s string
	if err := c.CallWithRetry(ctx, "sendrawtransaction", []interface{}{rawHex}, &s); err != nil {
		return chainhash.Hash256{}, err
	}
	return chainhash.HashFromString(s)
}

// RelayFee returns the daemon's minimum relay fee rate, in coins per kB as
// the daemon reports it.
func (c *Client) RelayFee(ctx context.Context) (float64, error) {
	var info struct {
		RelayFee float64 `json:"relayfee"`
	}
	if err := c.CallWithRetry(ctx, "getnetworkinfo", nil, &info); err != nil {
		return 0, err
	}
	return info.RelayFee, nil
}

// EstimateFee asks the daemon for a fee rate (coins per kB) expected to
// confirm within target blocks. This indexer also maintains its own mempool
// fee histogram (internal/mempool) for when the daemon doesn't support
// estimation or the query layer needs a sub-block-granularity answer.
func (c *Client) EstimateFee(ctx context.Context, target int) (float64, error) {
	var result struct {
		FeeRate float64 `json:"feerate"`
	}
	if err := c.CallWithRetry(ctx, "estimatesmartfee", []interface{}{target}, &result); err != nil {
		return 0, err
	}
	return result.FeeRate, nil
}

// MempoolEntry is the subset of getmempoolentry this indexer tracks
// alongside a mempool transaction's derived rows.
type MempoolEntry struct {
	Fee   chainhash.Amount
	VSize int64
	Time  int64
}

// MempoolEntries fetches fee/size/time metadata for a batch of mempool
// txids, used when a new txid first appears so the mempool replica can
// record its acceptance time without re-deriving it from the tx bytes.
func (c *Client) MempoolEntries(ctx context.Context, txids []chainhash.Hash256) (map[chainhash.Hash256]MempoolEntry, error) {
	out := make(map[chainhash.Hash256]MempoolEntry, len(txids))
	for _, txid := range txids {
		var raw struct {
			Fees struct {
				Base float64 `json:"base"`
			} `json:"fees"`
			VSize int64 `json:"vsize"`
			Time  int64 `json:"time"`
		}
		if err := c.CallWithRetry(ctx, "getmempoolentry", []interface{}{txid.String()}, &raw); err != nil {
			continue // entry may have left the mempool between getrawmempool and this call
		}
		out[txid] = MempoolEntry{
			Fee:   chainhash.Amount(raw.Fees.Base * 1e8),
			VSize: raw.VSize,
			Time:  raw.Time,
		}
	}
	return out, nil
}

// BlockHeader fetches and decodes a single block header by hash, without
// its transaction body. Nothing in the repository calls it; the Electrum
// header handlers read headers from the index via query.BlockAtHeight.
func (c *Client) BlockHeader(ctx context.Context, hash chainhash.Hash256) (*wire.Header, error) {
	var hexData string
	if err := c.CallWithRetry(ctx, "getblockheader", []interface{}{hash.String(), false}, &hexData); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, err
	}
	hdr, _, err := wire.DecodeHeader(raw)
	return hdr, err
}
