package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock is an advisory file lock over dataDir/LOCK, guarding against a
// second tapyrus-indexd instance pointed at the same db-dir concurrently
// running bulk indexing or tip-following against the same rows.
type DirLock struct {
	fl *flock.Flock
}

// AcquireDirLock takes an exclusive, non-blocking lock on dataDir. It
// returns an error immediately if another process already holds it, rather
// than blocking — a stuck lock almost always means an operator meant to
// run one instance and started two.
func AcquireDirLock(dataDir string) (*DirLock, error) {
	fl := flock.New(filepath.Join(dataDir, "LOCK"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock in %s: %w", dataDir, err)
	}
	if !ok {
		return nil, fmt.Errorf("db-dir %s is already locked by another tapyrus-indexd instance", dataDir)
	}
	return &DirLock{fl: fl}, nil
}

// Release drops the lock.
func (l *DirLock) Release() error {
	return l.fl.Unlock()
}
