package mempool

import "sort"

// FeeHistogramBucket is one step of a cumulative fee-rate histogram: "this
// many vsize-bytes of mempool pay at least this fee rate", the data behind
// blockchain.estimatefee and /fee-estimates. The histogram is not kept:
// FeeHistogram rebuilds it from every resident entry on each call.
type FeeHistogramBucket struct {
	FeeRate float64 // satoshis per byte
	VSize   int64   // cumulative size, in bytes, of txs at or above FeeRate
}

// FeeHistogram builds the cumulative histogram over the pool's current
// contents, highest fee rate first.
func (p *Pool) FeeHistogram() []FeeHistogramBucket {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.txs) == 0 {
		return nil
	}
	type pair struct {
		rate float64
		size int64
	}
	pairs := make([]pair, 0, len(p.txs))
	for _, e := range p.txs {
		pairs = append(pairs, pair{rate: e.feeRate, size: int64(e.row.Size)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].rate > pairs[j].rate })

	var buckets []FeeHistogramBucket
	var cumulative int64
	for i, pr := range pairs {
		cumulative += pr.size
		if i+1 < len(pairs) && pairs[i+1].rate == pr.rate {
			continue // keep accumulating until the fee rate actually changes
		}
		buckets = append(buckets, FeeHistogramBucket{FeeRate: pr.rate, VSize: cumulative})
	}
	return buckets
}

// EstimateFeeRate returns the lowest fee rate, in satoshis per byte, that
// would place a transaction in the top targetVSize bytes of the mempool —
// a simple stand-in for blockchain.estimatefee's confirmation-target logic,
// sized in bytes rather than blocks since this indexer doesn't predict
// block inclusion directly.
func EstimateFeeRate(histogram []FeeHistogramBucket, targetVSize int64) float64 {
	for _, b := range histogram {
		if b.VSize >= targetVSize {
			return b.FeeRate
		}
	}
	if len(histogram) > 0 {
		return histogram[len(histogram)-1].FeeRate
	}
	return 0
}
