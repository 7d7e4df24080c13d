// Package httpapi is the REST transport: a read API over the query layer
// plus transaction broadcast. Routing uses chi with CORS and a per-request
// deadline.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
)

// maxTxBodySize caps a POST /tx body. A transaction larger than this would
// not relay anyway.
const maxTxBodySize = 1 << 20

// defaultRequestTimeout bounds request handling; on expiry the client gets
// a 504 and the handler's scan iterators unwind with the request context.
const defaultRequestTimeout = 30 * time.Second

// Server is the REST API server.
type Server struct {
	addr    string
	query   *query.Query
	pool    *mempool.Pool
	logger  zerolog.Logger
	timeout time.Duration

	srv *http.Server
	ln  net.Listener
}

// New builds the server and its route table. timeout <= 0 selects the
// default request deadline.
func New(addr string, q *query.Query, pool *mempool.Pool, logger zerolog.Logger, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{addr: addr, query: q, pool: pool, logger: logger, timeout: timeout}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(s.countRequests)

	r.Route("/tx", func(r chi.Router) {
		r.Post("/", s.handleBroadcast)
		r.Get("/{txid}", s.handleTx)
		r.Get("/{txid}/status", s.handleTxStatus)
		r.Get("/{txid}/hex", s.handleTxHex)
		r.Get("/{txid}/raw", s.handleTxRaw)
		r.Get("/{txid}/merkle-proof", s.handleTxMerkleProof)
		r.Get("/{txid}/merkleblock-proof", s.handleTxMerkleBlockProof)
		r.Get("/{txid}/outspend/{vout}", s.handleTxOutspend)
		r.Get("/{txid}/outspends", s.handleTxOutspends)
	})

	r.Route("/address/{addr}", func(r chi.Router) {
		r.Get("/", s.handleAddress)
		r.Get("/txs", s.handleAddressTxs)
		r.Get("/txs/chain", s.handleAddressTxsChain)
		r.Get("/txs/chain/{last_seen}", s.handleAddressTxsChain)
		r.Get("/txs/mempool", s.handleAddressTxsMempool)
		r.Get("/utxo", s.handleAddressUtxo)
	})
	r.Route("/scripthash/{hash}", func(r chi.Router) {
		r.Get("/", s.handleScriptHash)
		r.Get("/txs", s.handleScriptHashTxs)
		r.Get("/txs/chain", s.handleScriptHashTxsChain)
		r.Get("/txs/chain/{last_seen}", s.handleScriptHashTxsChain)
		r.Get("/txs/mempool", s.handleScriptHashTxsMempool)
		r.Get("/utxo", s.handleScriptHashUtxo)
	})
	r.Get("/address-prefix/{prefix}", s.handleAddressPrefix)

	r.Route("/block", func(r chi.Router) {
		r.Get("/{hash}", s.handleBlock)
		r.Get("/{hash}/status", s.handleBlockStatus)
		r.Get("/{hash}/header", s.handleBlockHeader)
		r.Get("/{hash}/txids", s.handleBlockTxids)
		r.Get("/{hash}/txs", s.handleBlockTxs)
		r.Get("/{hash}/txs/{start_index}", s.handleBlockTxs)
	})
	r.Get("/block-height/{height}", s.handleBlockHeight)
	r.Get("/blocks", s.handleBlocks)
	r.Get("/blocks/{start}", s.handleBlocks)
	r.Get("/blocks/tip/height", s.handleTipHeight)
	r.Get("/blocks/tip/hash", s.handleTipHash)

	r.Route("/mempool", func(r chi.Router) {
		r.Get("/", s.handleMempool)
		r.Get("/txids", s.handleMempoolTxids)
		r.Get("/recent", s.handleMempoolRecent)
		r.Get("/txs", s.handleMempoolTxs)
		r.Get("/txs/{start}", s.handleMempoolTxs)
	})
	r.Get("/fee-estimates", s.handleFeeEstimates)

	r.Get("/colors", s.handleColors)
	r.Get("/colors/{last_seen}", s.handleColors)
	r.Route("/color/{cid}", func(r chi.Router) {
		r.Get("/", s.handleColor)
		r.Get("/txs", s.handleColorTxs)
		r.Get("/txs/chain", s.handleColorTxsChain)
		r.Get("/txs/chain/{last_seen}", s.handleColorTxsChain)
		r.Get("/txs/mempool", s.handleColorTxsMempool)
	})

	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
	}
	return s
}

// Start binds and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Stop drains in-flight requests up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// countRequests feeds the HTTP request counter, labeling by the matched
// chi route pattern rather than the raw path so cardinality stays bounded.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status()/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(route, status).Inc()
	})
}

// writeJSON serializes v with a 200.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing left to do but drop the connection.
		return
	}
}

// writeText serves a plain-text scalar (heights, hashes, hex blobs).
func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(body))
}

// writeError maps an error kind to a status code and a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": clientMessage(err, status)})
}

func statusFor(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.Client:
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no block") {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case xerrors.Connectivity, xerrors.Consistency:
		return http.StatusServiceUnavailable
	case xerrors.Resource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error, status int) string {
	if status < 500 {
		return err.Error()
	}
	return "internal error"
}
