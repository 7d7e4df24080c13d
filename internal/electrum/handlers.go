package electrum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// JSON-RPC 2.0 error codes.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeNotFound       = -32000
)

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// errorFor maps an error-kind to the JSON-RPC error object a client sees.
func errorFor(err error) *rpcError {
	switch xerrors.KindOf(err) {
	case xerrors.Client:
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	case xerrors.Connectivity, xerrors.Protocol:
		return &rpcError{Code: codeInternal, Message: "daemon unavailable"}
	default:
		return &rpcError{Code: codeInternal, Message: "internal error"}
	}
}

func (c *conn) handle(ctx context.Context, req *request) {
	metrics.ElectrumRequests.WithLabelValues(req.Method).Inc()

	result, rpcErr := c.dispatch(ctx, req)
	if req.ID == nil {
		return // notification-style request, no reply expected
	}
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	c.writeResponse(resp)
}

func (c *conn) dispatch(ctx context.Context, req *request) (interface{}, *rpcError) {
	switch req.Method {
	case "server.version":
		return []string{ServerVersion, ProtocolVersion}, nil
	case "server.banner":
		return c.srv.banner, nil
	case "server.ping":
		return nil, nil
	case "blockchain.headers.subscribe":
		return c.handleHeadersSubscribe(ctx)
	case "blockchain.block.header":
		return c.handleBlockHeader(ctx, req.Params)
	case "blockchain.estimatefee":
		return c.handleEstimateFee(ctx, req.Params)
	case "blockchain.relayfee":
		return c.handleRelayFee(ctx)
	case "blockchain.transaction.get":
		return c.handleTransactionGet(ctx, req.Params)
	case "blockchain.transaction.broadcast":
		return c.handleTransactionBroadcast(ctx, req.Params)
	case "blockchain.transaction.get_merkle":
		return c.handleGetMerkle(ctx, req.Params)
	case "blockchain.scripthash.get_balance":
		return c.handleGetBalance(ctx, req.Params)
	case "blockchain.scripthash.listunspent":
		return c.handleListUnspent(ctx, req.Params, listAll)
	case "blockchain.scripthash.listcoloredunspent":
		return c.handleListColoredUnspent(ctx, req.Params)
	case "blockchain.scripthash.listuncoloredunspent":
		return c.handleListUnspent(ctx, req.Params, listUncolored)
	case "blockchain.scripthash.subscribe":
		return c.handleScriptHashSubscribe(ctx, req.Params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func paramHash(params []json.RawMessage, i int) (chainhash.Hash256, *rpcError) {
	var s string
	if i >= len(params) || json.Unmarshal(params[i], &s) != nil {
		return chainhash.Hash256{}, &rpcError{Code: codeInvalidParams, Message: "expected a hex hash parameter"}
	}
	h, err := chainhash.HashFromString(s)
	if err != nil {
		return chainhash.Hash256{}, &rpcError{Code: codeInvalidParams, Message: "malformed hash"}
	}
	return h, nil
}

// headerResult is the {height, hex} object headers.subscribe returns and
// pushes.
type headerResult struct {
	Height uint32 `json:"height"`
	Hex    string `json:"hex"`
}

func (s *Server) tipHeader(ctx context.Context) (*headerResult, error) {
	tip, err := s.query.Tip()
	if err != nil {
		return nil, err
	}
	blk, err := s.query.Block(ctx, tip.Hash)
	if err != nil {
		return nil, err
	}
	return &headerResult{Height: uint32(tip.Height), Hex: hex.EncodeToString(blk.Header.Encode())}, nil
}

func (c *conn) handleHeadersSubscribe(ctx context.Context) (interface{}, *rpcError) {
	hdr, err := c.srv.tipHeader(ctx)
	if err != nil {
		return nil, errorFor(err)
	}
	c.subMu.Lock()
	c.headerSub = true
	c.subsActivated = true
	c.subMu.Unlock()
	return hdr, nil
}

func (c *conn) handleBlockHeader(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	var height uint32
	if len(params) < 1 || json.Unmarshal(params[0], &height) != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "expected a block height"}
	}
	blk, err := c.srv.query.BlockAtHeight(ctx, chainhash.Height(height))
	if err != nil {
		return nil, errorFor(err)
	}
	return hex.EncodeToString(blk.Header.Encode()), nil
}

func (c *conn) handleEstimateFee(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	target := 2
	if len(params) > 0 {
		json.Unmarshal(params[0], &target)
	}
	rate, err := c.srv.node.EstimateFee(ctx, target)
	if err == nil && rate > 0 {
		return rate, nil
	}
	// The daemon couldn't estimate; fall back to the local mempool
	// histogram, converting sat/byte to coin/kB.
	hist := c.srv.pool.FeeHistogram()
	if satPerByte := estimateFromHistogram(hist, target); satPerByte > 0 {
		return satPerByte * 1000 / 1e8, nil
	}
	return -1, nil
}

// estimateFromHistogram approximates "fee to confirm within target blocks"
// as the rate needed to sit inside the top target megabytes of the mempool.
func estimateFromHistogram(hist []mempool.FeeHistogramBucket, target int) float64 {
	if target < 1 {
		target = 1
	}
	return mempool.EstimateFeeRate(hist, int64(target)*1_000_000)
}

func (c *conn) handleRelayFee(ctx context.Context) (interface{}, *rpcError) {
	fee, err := c.srv.node.RelayFee(ctx)
	if err != nil {
		return nil, errorFor(err)
	}
	return fee, nil
}

func (c *conn) handleTransactionGet(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	txid, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	var verbose bool
	if len(params) > 1 {
		json.Unmarshal(params[1], &verbose)
	}
	if verbose {
		return nil, &rpcError{Code: codeInvalidParams, Message: "verbose transactions are not supported, request the hex form"}
	}
	row, err := c.srv.query.GetTx(ctx, txid)
	if err != nil {
		return nil, errorFor(err)
	}
	return hex.EncodeToString(row.Raw), nil
}

func (c *conn) handleTransactionBroadcast(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	var rawHex string
	if len(params) < 1 || json.Unmarshal(params[0], &rawHex) != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "expected raw transaction hex"}
	}
	txid, err := c.srv.query.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, errorFor(err)
	}
	return txid.String(), nil
}

func (c *conn) handleGetMerkle(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	txid, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	proof, status, err := c.srv.query.MerkleProof(ctx, txid)
	if err != nil {
		return nil, errorFor(err)
	}
	merkle := make([]string, len(proof.Merkle))
	for i, h := range proof.Merkle {
		merkle[i] = h.String()
	}
	return map[string]interface{}{
		"block_height": uint32(status.BlockHeight),
		"merkle":       merkle,
		"pos":          proof.Pos,
	}, nil
}

// balanceEntry is one element of get_balance's per-color array. Amounts are
// decimal strings; the native entry omits color_id.
type balanceEntry struct {
	Confirmed   string `json:"confirmed"`
	Unconfirmed string `json:"unconfirmed"`
	ColorId     string `json:"color_id,omitempty"`
}

func (c *conn) handleGetBalance(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	sh, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	balances, err := c.srv.query.Balance(ctx, sh)
	if err != nil {
		return nil, errorFor(err)
	}
	out := make([]balanceEntry, 0, len(balances))
	for _, b := range balances {
		e := balanceEntry{
			Confirmed:   strconv.FormatInt(b.Confirmed, 10),
			Unconfirmed: strconv.FormatInt(b.Unconfirmed, 10),
		}
		if b.HasColor {
			e.ColorId = b.Color.String()
		}
		out = append(out, e)
	}
	return out, nil
}

// unspentEntry is one listunspent item; color_id appears only on colored
// outputs.
type unspentEntry struct {
	TxHash  string `json:"tx_hash"`
	TxPos   uint32 `json:"tx_pos"`
	Height  uint32 `json:"height"`
	Value   uint64 `json:"value"`
	ColorId string `json:"color_id,omitempty"`
}

type listFilter int

const (
	listAll listFilter = iota
	listUncolored
)

func (c *conn) handleListUnspent(ctx context.Context, params []json.RawMessage, filter listFilter) (interface{}, *rpcError) {
	sh, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	utxos, err := c.srv.query.ListUnspent(ctx, sh)
	if err != nil {
		return nil, errorFor(err)
	}
	out := make([]unspentEntry, 0, len(utxos))
	for _, u := range utxos {
		if filter == listUncolored && !u.Color.IsZero() {
			continue
		}
		out = append(out, toUnspentEntry(u.Txid, u.Vout, u.Confirmed, u.Height, uint64(u.Value), u.Color))
	}
	return out, nil
}

func (c *conn) handleListColoredUnspent(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	sh, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	var wantColor *chainhash.ColorId
	if len(params) > 1 {
		var s string
		if json.Unmarshal(params[1], &s) == nil && s != "" {
			col, err := chainhash.ColorIdFromString(s)
			if err != nil {
				return nil, &rpcError{Code: codeInvalidParams, Message: "malformed color id"}
			}
			wantColor = &col
		}
	}
	utxos, err := c.srv.query.ListUnspent(ctx, sh)
	if err != nil {
		return nil, errorFor(err)
	}
	out := make([]unspentEntry, 0, len(utxos))
	for _, u := range utxos {
		if u.Color.IsZero() {
			continue
		}
		if wantColor != nil && u.Color != *wantColor {
			continue
		}
		out = append(out, toUnspentEntry(u.Txid, u.Vout, u.Confirmed, u.Height, uint64(u.Value), u.Color))
	}
	return out, nil
}

func toUnspentEntry(txid chainhash.Hash256, vout uint32, confirmed bool, height chainhash.Height, value uint64, color chainhash.ColorId) unspentEntry {
	e := unspentEntry{TxHash: txid.String(), TxPos: vout, Value: value}
	if confirmed {
		e.Height = uint32(height)
	}
	if !color.IsZero() {
		e.ColorId = color.String()
	}
	return e
}

func (c *conn) handleScriptHashSubscribe(ctx context.Context, params []json.RawMessage) (interface{}, *rpcError) {
	sh, perr := paramHash(params, 0)
	if perr != nil {
		return nil, perr
	}
	status, err := c.srv.scriptHashStatus(ctx, sh)
	if err != nil {
		return nil, errorFor(err)
	}
	c.subMu.Lock()
	c.scriptSubs[sh] = statusString(status)
	c.subsActivated = true
	c.subMu.Unlock()
	return status, nil
}

// scriptHashStatus computes the subscription status: sha256 over the
// concatenation of "{txid}:{height}:" for every history entry, confirmed
// oldest-first then unconfirmed (height 0). No history at all yields null.
func (s *Server) scriptHashStatus(ctx context.Context, sh chainhash.Hash256) (interface{}, error) {
	entries, err := s.query.StatusHistory(ctx, sh)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	h := sha256.New()
	for _, e := range entries {
		height := uint32(e.Height)
		if e.Height == chainhash.MaxHeight {
			height = 0
		}
		fmt.Fprintf(h, "%s:%d:", e.Txid, height)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
