package chainhash

import "fmt"

// Amount is a quantity of satoshis, or a colored-coin token amount.
type Amount uint64

// Height is a block height; MaxHeight marks a mempool (unconfirmed) row.
type Height uint32

// MaxHeight is used as the height field for unconfirmed rows so that
// big-endian key ordering still sorts unconfirmed entries after every
// real block height.
const MaxHeight Height = 0xFFFFFFFF

// OutPoint identifies a transaction output being spent.
type OutPoint struct {
	Hash  Hash256
	Index uint32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

// IsCoinbase reports whether this outpoint is the synthetic coinbase
// prevout (zero hash, max index) used by the first input of a block reward.
func (o OutPoint) IsCoinbase() bool {
	return o.Hash.IsZero() && o.Index == 0xFFFFFFFF
}
