package mempool

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/tapyrus-index/internal/metrics"
	"github.com/Klingon-tech/tapyrus-index/internal/nodeclient"
	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

// Poller keeps a Pool in step with the daemon's mempool by diffing
// getrawmempool against the local replica every interval.
type Poller struct {
	Pool *Pool
	Node *nodeclient.Client
	Log  zerolog.Logger
}

// Run polls until ctx is cancelled. Errors are logged and the next tick
// retried — a daemon restart must not kill the poller.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.syncOnce(ctx); err != nil {
			p.Log.Error().Err(err).Msg("mempool poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syncOnce fetches the daemon's current txid set, evicts local entries the
// daemon no longer reports, and ingests new arrivals (fetching their raw
// bytes plus acceptance metadata).
func (p *Poller) syncOnce(ctx context.Context) error {
	txids, err := p.Node.MempoolTxids(ctx)
	if err != nil {
		return err
	}

	current := make(map[chainhash.Hash256]bool, len(txids))
	var fresh []chainhash.Hash256
	for _, txid := range txids {
		current[txid] = true
		if !p.Pool.Has(txid) {
			fresh = append(fresh, txid)
		}
	}
	p.Pool.Reconcile(current)

	for _, txid := range fresh {
		tx, err := p.Node.RawMempoolTx(ctx, txid)
		if err != nil {
			// Gone between getrawmempool and now; next poll settles it.
			p.Log.Debug().Str("txid", txid.String()).Err(err).Msg("mempool tx vanished before fetch")
			continue
		}
		p.Pool.Add(tx)
	}

	if len(fresh) > 0 {
		entries, err := p.Node.MempoolEntries(ctx, fresh)
		if err == nil {
			for txid, e := range entries {
				p.Pool.Touch(txid, e.Time)
			}
		}
	}

	metrics.MempoolSize.Set(float64(p.Pool.Count()))
	return nil
}
