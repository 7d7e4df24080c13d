// Tapyrus index daemon.
//
// Usage:
//
//	tapyrus-indexd [flags]    Run the indexer
//	tapyrus-indexd --help     Show help
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Klingon-tech/tapyrus-index/internal/cache"
	"github.com/Klingon-tech/tapyrus-index/internal/config"
	"github.com/Klingon-tech/tapyrus-index/internal/electrum"
	"github.com/Klingon-tech/tapyrus-index/internal/httpapi"
	"github.com/Klingon-tech/tapyrus-index/internal/indexer"
	"github.com/Klingon-tech/tapyrus-index/internal/logging"
	"github.com/Klingon-tech/tapyrus-index/internal/mempool"
	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/nodeclient"
	"github.com/Klingon-tech/tapyrus-index/internal/query"
	"github.com/Klingon-tech/tapyrus-index/internal/store"
	"github.com/Klingon-tech/tapyrus-index/internal/xerrors"
)

// pollInterval is the tip- and mempool-poll cadence.
const pollInterval = 5 * time.Second

// Network magic framing raw block files, by network id.
const (
	magicProd uint32 = 0x00F0FF01
	magicDev  uint32 = 0x00C4E9B1
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── 1. Load config (defaults → files → env → flags) ─────────────────
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}

	// ── 2. Init logger ──────────────────────────────────────────────────
	if err := logging.Init(cfg.LogLevel, cfg.LogJSON, cfg.LogFile, cfg.Timestamp); err != nil {
		os.Stderr.WriteString("Error initializing logger: " + err.Error() + "\n")
		return 1
	}
	logger := logging.WithComponent("main")
	logger.Info().
		Str("network", cfg.NetworkID).
		Str("db_dir", cfg.DBDir).
		Str("daemon_rpc", cfg.DaemonRPCAddr).
		Msg("starting tapyrus-index")

	// ── 3. Open the store ───────────────────────────────────────────────
	dbPath := filepath.Join(cfg.DBDir, cfg.NetworkID)
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		logger.Error().Err(err).Str("path", dbPath).Msg("failed to create db dir")
		return 1
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error().Err(err).Str("path", dbPath).Msg("failed to open store")
		return 1
	}
	defer st.Close()

	// ── 4. Daemon RPC client ────────────────────────────────────────────
	endpoint := "http://" + cfg.DaemonRPCAddr
	var node *nodeclient.Client
	if cfg.Cookie != "" {
		node = nodeclient.New(endpoint, cfg.Cookie)
	} else {
		cookiePath := cfg.CookiePath
		if cookiePath == "" {
			cookiePath = filepath.Join(cfg.DaemonDir, ".cookie")
		}
		node, err = nodeclient.NewFromCookie(endpoint, cookiePath)
		if err != nil {
			logger.Error().Err(err).Msg("failed to read daemon cookie")
			return 1
		}
	}

	// ── 5. Indexer + bulk import ────────────────────────────────────────
	idx := indexer.New(st, node, logging.Indexer, magicFor(cfg.NetworkID), cfg.BulkIndexThreads)
	idx.IndexUnspendables = cfg.IndexUnspendables
	idx.AddressSearch = cfg.AddressSearch

	if err := idx.Bootstrap(); err != nil {
		logger.Error().Err(err).Msg("store bootstrap failed")
		return 1
	}

	if !cfg.JSONRPCImport {
		blocksDir := filepath.Join(cfg.DaemonDir, "blocks")
		if _, statErr := os.Stat(blocksDir); statErr == nil {
			if err := idx.BulkIndex(blocksDir); err != nil {
				logger.Error().Err(err).Msg("bulk index failed")
				if xerrors.IsFatal(err) {
					return 1
				}
				// Non-fatal: fall through to RPC catch-up in the tracking loop.
			}
		} else {
			logger.Warn().Str("dir", blocksDir).Msg("daemon block dir not readable, falling back to RPC import")
		}
	}

	// ── 6. Mempool replica, cache, query layer ──────────────────────────
	pool := mempool.New(idx, 0, cfg.IndexUnspendables)
	agg := cache.New(st, idx)
	q, err := query.New(st, idx, agg, pool, node, logging.Query,
		cfg.TxCacheSize, cfg.BlockTxidsCacheSize, cfg.TxidLimit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build query layer")
		return 1
	}

	// ── 7. Transports ───────────────────────────────────────────────────
	electrumSrv := electrum.New(cfg.ElectrumRPCAddr, q, pool, node, cfg.ServerBanner, logging.Electrum)
	if err := electrumSrv.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start electrum server")
		return 1
	}
	httpSrv := httpapi.New(cfg.HTTPAddr, q, pool, logging.HTTP, 0)
	if err := httpSrv.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start http server")
		electrumSrv.Stop()
		return 1
	}
	if cfg.MonitoringAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MonitoringAddr); err != nil {
				logger.Warn().Err(err).Msg("monitoring server stopped")
			}
		}()
	}

	// ── 8. Pollers, until SIGINT/SIGTERM ────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := &mempool.Poller{Pool: pool, Node: node, Log: logging.Mempool}
	go poller.Run(ctx, pollInterval)
	go reportTip(ctx, idx)

	trackDone := make(chan error, 1)
	go func() { trackDone <- idx.Track(ctx, pollInterval) }()

	trackStopped := false
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case trackErr := <-trackDone:
		trackStopped = true
		// Track only returns on its own when tracking itself failed.
		if trackErr != nil && xerrors.IsFatal(trackErr) {
			logger.Error().Err(trackErr).Msg("index corruption detected, wipe db-dir and resync")
			return 1
		}
		logger.Error().Err(trackErr).Msg("tip tracking stopped, shutting down")
	}

	// ── 9. Graceful drain: transports first, then pollers, then store ───
	// Stop accepting and finish in-flight requests while indexing is still
	// live, then halt the tip-tracker and mempool-poller; the store closes
	// last via the deferred st.Close.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http drain incomplete")
	}
	electrumSrv.Stop()

	cancel()
	if !trackStopped {
		<-trackDone
	}
	return 0
}

// reportTip keeps the tip-height gauge current.
func reportTip(ctx context.Context, idx *indexer.Indexer) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if tip, err := idx.Tip(); err == nil {
			metrics.TipHeight.Set(float64(tip.Height))
		}
	}
}

// magicFor maps a network id to its block-file framing magic.
func magicFor(networkID string) uint32 {
	if networkID == "dev" {
		return magicDev
	}
	return magicProd
}
