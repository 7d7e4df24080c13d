// Package nodeclient talks JSON-RPC 2.0 to the Tapyrus daemon, with
// cookie-file auth and bounded exponential backoff around every call, since
// this is the indexer's single upstream dependency and a node restart must
// not be fatal.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
)

// Client is a JSON-RPC 2.0 HTTP client for the Tapyrus daemon.
type Client struct {
	endpoint string
	userpass string // "user:password", Basic-auth encoded lazily per request
	http     *http.Client
}

// New creates a client targeting endpoint, authenticating with an explicit
// user:password credential.
func New(endpoint, userpass string) *Client {
	return &Client{
		endpoint: endpoint,
		userpass: userpass,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewFromCookie reads a daemon .cookie file (format "user:password", the
// same convention Bitcoin-derived daemons use) and builds a Client from it.
func NewFromCookie(endpoint, cookiePath string) (*Client, error) {
	data, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("read cookie file %s: %w", cookiePath, err)
	}
	cookie := strings.TrimSpace(string(data))
	if !strings.Contains(cookie, ":") {
		return nil, fmt.Errorf("cookie file %s does not contain user:password", cookiePath)
	}
	return New(endpoint, cookie), nil
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned, wrapped in a Protocol-kind xerrors.Error, when the
// daemon responds with a JSON-RPC error object — the daemon answered but refused
// the call, as opposed to a Connectivity failure where it didn't answer.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes method once, with no retry. Most callers want CallWithRetry;
// Call exists for callers (e.g. a health check) that want to observe a
// single failure immediately.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.Protocol, "marshal rpc request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.Connectivity, "build rpc request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.userpass != "" {
		parts := strings.SplitN(c.userpass, ":", 2)
		httpReq.SetBasicAuth(parts[0], parts[1])
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.Connectivity, "daemon rpc request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Wrap(xerrors.Connectivity, "read rpc response", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return xerrors.Wrap(xerrors.Protocol, "decode rpc response", err)
	}
	if rpcResp.Error != nil {
		return xerrors.Wrap(xerrors.Protocol, "daemon rpc error", &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message})
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return xerrors.Wrap(xerrors.Protocol, "decode rpc result", err)
		}
	}
	return nil
}

// CallWithRetry wraps Call in a bounded exponential backoff, retrying only
// Connectivity-kind failures (a daemon mid-restart or momentarily
// overloaded) — Protocol and Client-kind errors are not retried since
// retrying the same malformed call forever would just waste time.
func (c *Client) CallWithRetry(ctx context.Context, method string, params, result interface{}) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error {
		err := c.Call(ctx, method, params, result)
		if err == nil {
			return nil
		}
		if xerrors.KindOf(err) != xerrors.Connectivity {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		metrics.DaemonRPCErrors.Inc()
	}
	return err
}
