// Package metrics holds the process-wide Prometheus registry: counters and
// gauges initialized once at startup and never torn down, served on the
// --monitoring-addr HTTP listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TipHeight is the best-chain height the store is currently consistent to.
	TipHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapyrus_index_tip_height",
		Help: "Best-chain height the index is consistent to.",
	})

	// BlocksIndexed is registered, but no code path increments it, so it
	// always reads zero.
	BlocksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapyrus_index_blocks_indexed_total",
		Help: "Registered but never incremented; always zero.",
	})

	// ReorgsDetected counts fork-point rewinds.
	ReorgsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapyrus_index_reorgs_total",
		Help: "Chain reorganizations handled since process start.",
	})

	// MempoolSize is the current resident mempool replica size.
	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapyrus_index_mempool_txs",
		Help: "Transactions currently tracked in the mempool replica.",
	})

	// ElectrumConnections is the number of currently open Electrum sessions.
	ElectrumConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapyrus_index_electrum_connections",
		Help: "Open Electrum protocol connections.",
	})

	// ElectrumRequests counts Electrum method calls by method name.
	ElectrumRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapyrus_index_electrum_requests_total",
		Help: "Electrum method calls served, by method.",
	}, []string{"method"})

	// HTTPRequests counts REST requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapyrus_index_http_requests_total",
		Help: "HTTP REST requests served, by route and status class.",
	}, []string{"route", "status"})

	// DaemonRPCErrors counts failed daemon RPC calls after retry.
	DaemonRPCErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapyrus_index_daemon_rpc_errors_total",
		Help: "Daemon JSON-RPC calls that failed after retries.",
	})
)

// Serve exposes /metrics on addr, blocking until the listener fails or
// is shut down. An empty addr disables monitoring entirely.
func Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}
