package store

import "fmt"

// Column family namespace bytes. These sit ahead of each row's own schema
// prefix byte (B, X, T, H, ...), so e.g. a history row's full Badger key is
// {nsHistory}{H}{scripthash}{height}{...}.
const (
	nsTxStore byte = 0x01
	nsHistory byte = 0x02
	nsCache   byte = 0x03
)

// Store owns one Badger instance and exposes the three logical column
// families the indexer and query layer read and write: tx rows, history
// rows, and the aggregation cache. It also holds the advisory directory
// lock for the process's lifetime.
type Store struct {
	backend *BadgerDB
	lock    *DirLock

	TxStore DB
	History DB
	Cache   DB
}

// Open opens the Badger database at dataDir, acquires the directory lock,
// and wires up the three column-family views.
func Open(dataDir string) (*Store, error) {
	lock, err := AcquireDirLock(dataDir)
	if err != nil {
		return nil, err
	}
	backend, err := openBadger(dataDir)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &Store{
		backend: backend,
		lock:    lock,
		TxStore: NewPrefixDB(backend, []byte{nsTxStore}),
		History: NewPrefixDB(backend, []byte{nsHistory}),
		Cache:   NewPrefixDB(backend, []byte{nsCache}),
	}, nil
}

// Flush forces pending writes to disk. Called between bulk-index phases.
func (s *Store) Flush() error {
	return s.backend.Flush()
}

// Compact runs value-log garbage collection until there is nothing left to
// reclaim, matching Badger's own recommended GC loop.
func (s *Store) Compact() error {
	for {
		if err := s.backend.RunGC(0.5); err != nil {
			if err.Error() == "Nothing to GC" || err.Error() == "Value log GC attempt didn't result in any cleanup" {
				return nil
			}
			return fmt.Errorf("compact: %w", err)
		}
	}
}

// Close releases the directory lock and closes the underlying database.
func (s *Store) Close() error {
	err := s.backend.Close()
	if lerr := s.lock.Release(); err == nil {
		err = lerr
	}
	return err
}
