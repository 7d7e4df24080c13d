// Package store provides the embedded key-value storage abstraction that
// backs every on-disk row the indexer writes: tx rows, history rows, and
// the aggregation cache, each as a logical column family over one Badger
// instance.
package store

// DB is the key-value interface every storage backend implements.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates all keys with the given prefix in ascending key
	// order. The callback receives a copy of the key and value; returning
	// a non-nil error stops iteration early and is propagated to the caller.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// ForEachFrom iterates every key matching boundPrefix, starting at the
	// first key >= seekKey instead of at boundPrefix itself — used to resume
	// a scan partway through a keyspace (e.g. "every history row for this
	// scripthash from height H onward") without the seek key itself having
	// to be a valid standalone prefix.
	ForEachFrom(boundPrefix, seekKey []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batcher is implemented by backends that can build an atomic write batch.
type Batcher interface {
	NewBatch() Batch
}

// Batch accumulates puts and deletes for a single atomic commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: key not found" }
