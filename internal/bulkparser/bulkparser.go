// Package bulkparser reads the daemon's raw block files directly (the same
// magic-framed records the daemon itself writes) instead of fetching every
// block over RPC, which keeps the initial import off the RPC socket
// entirely.
package bulkparser

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
	"github.com/Klingon-tech/tapyrus-index/pkg/wire"
)

// ScanDir lists every block file under dir (matching the "blkNNNNN.dat"
// naming the daemon uses) and parses them in parallel with up to workers
// concurrent goroutines. Block order across files does not matter: the
// result is returned as a hash-indexed map for the caller to sequence by
// walking PrevHash links.
func ScanDir(dir string, magic uint32, workers int) (map[chainhash.Hash256]*wire.Block, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "blk") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return ScanFiles(paths, magic, workers)
}

// ScanFiles parses the given files in parallel.
func ScanFiles(paths []string, magic uint32, workers int) (map[chainhash.Hash256]*wire.Block, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var mu sync.Mutex
	result := make(map[chainhash.Hash256]*wire.Block)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			return scanOneFile(path, magic, func(blk *wire.Block) {
				h := blk.Header.Hash()
				mu.Lock()
				result[h] = blk
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanOneFile(path string, magic uint32, fn func(*wire.Block)) error {
	mf, err := wire.OpenMappedFile(path)
	if err != nil {
		return err
	}
	defer mf.Close()
	return mf.Scan(magic, func(rec wire.BlockRecord) error {
		fn(rec.Block)
		return nil
	})
}

// SequenceFromGenesis walks PrevHash links starting from the all-zero
// genesis prevhash to build a height-ordered chain out of an unordered
// block map. Blocks whose ancestor chain never reaches genesis (e.g. an
// orphaned side-branch read from a stale block file) are left out of the
// returned slice; the indexer logs how many were dropped.
func SequenceFromGenesis(blocks map[chainhash.Hash256]*wire.Block) (ordered []*wire.Block, orphaned int) {
	byPrev := make(map[chainhash.Hash256]*wire.Block, len(blocks))
	for _, blk := range blocks {
		byPrev[blk.Header.PrevHash] = blk
	}

	var zero chainhash.Hash256
	cur, ok := byPrev[zero]
	for ok {
		ordered = append(ordered, cur)
		h := cur.Header.Hash()
		cur, ok = byPrev[h]
	}
	orphaned = len(blocks) - len(ordered)
	return ordered, orphaned
}
