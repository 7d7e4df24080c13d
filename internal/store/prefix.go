package store

// PrefixDB namespaces an inner DB under a fixed byte prefix. Badger has no
// native column families, so the three logical stores the indexer needs
// (txstore, history, cache) are emulated as three PrefixDB views over one
// *BadgerDB.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB wraps inner so every key is implicitly prefixed.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.prefixed(key)) }

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.prefixed(key), value) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.prefixed(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.prefixed(key)) }

// ForEach strips the PrefixDB's own namespace prefix before handing keys to
// fn, so callers see only their logical keyspace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.ForEachFrom(prefix, prefix, fn)
}

// ForEachFrom strips the PrefixDB's own namespace prefix the same way
// ForEach does, but starts iteration at seekKey instead of boundPrefix.
func (p *PrefixDB) ForEachFrom(boundPrefix, seekKey []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEachFrom(p.prefixed(boundPrefix), p.prefixed(seekKey), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key in this namespace.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.inner.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch that transparently prefixes every key, delegating
// to the inner DB's own batch when it supports one so the commit stays
// atomic; otherwise it falls back to sequential non-atomic writes.
func (p *PrefixDB) NewBatch() Batch {
	if batcher, ok := p.inner.(Batcher); ok {
		return &prefixBatch{inner: batcher.NewBatch(), prefix: p.prefix}
	}
	return &prefixFallbackBatch{db: p}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) prefixed(key []byte) []byte {
	out := make([]byte, len(pb.prefix)+len(key))
	copy(out, pb.prefix)
	copy(out[len(pb.prefix):], key)
	return out
}

func (pb *prefixBatch) Put(key, value []byte) error { return pb.inner.Put(pb.prefixed(key), value) }
func (pb *prefixBatch) Delete(key []byte) error     { return pb.inner.Delete(pb.prefixed(key)) }
func (pb *prefixBatch) Commit() error                { return pb.inner.Commit() }

type prefixFallbackBatch struct {
	db  *PrefixDB
	ops []prefixOp
}

type prefixOp struct {
	key   []byte
	value []byte // nil means delete
}

func (fb *prefixFallbackBatch) Put(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte{}, value...)
	fb.ops = append(fb.ops, prefixOp{k, v})
	return nil
}

func (fb *prefixFallbackBatch) Delete(key []byte) error {
	fb.ops = append(fb.ops, prefixOp{append([]byte(nil), key...), nil})
	return nil
}

func (fb *prefixFallbackBatch) Commit() error {
	for _, op := range fb.ops {
		if op.value == nil {
			if err := fb.db.Delete(op.key); err != nil {
				return err
			}
		} else if err := fb.db.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}
