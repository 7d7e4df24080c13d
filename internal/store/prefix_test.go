package store

import "testing"

func TestPrefixDBIsolatesNamespace(t *testing.T) {
	inner := NewMemory()
	a := NewPrefixDB(inner, []byte{0x01})
	b := NewPrefixDB(inner, []byte{0x02})

	if err := a.Put([]byte("k"), []byte("a-value")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := b.Put([]byte("k"), []byte("b-value")); err != nil {
		t.Fatalf("put b: %v", err)
	}

	va, err := a.Get([]byte("k"))
	if err != nil || string(va) != "a-value" {
		t.Fatalf("a.Get = %q, %v", va, err)
	}
	vb, err := b.Get([]byte("k"))
	if err != nil || string(vb) != "b-value" {
		t.Fatalf("b.Get = %q, %v", vb, err)
	}
}

func TestPrefixDBForEachStripsPrefix(t *testing.T) {
	inner := NewMemory()
	p := NewPrefixDB(inner, []byte{0x01})

	if err := p.Put([]byte("H01"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := p.Put([]byte("H02"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got []string
	err := p.ForEach([]byte("H"), func(key, value []byte) error {
		got = append(got, string(key)+"="+string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
}

func TestPrefixDBForEachFromResumesPastFixedWidthField(t *testing.T) {
	inner := NewMemory()
	p := NewPrefixDB(inner, []byte{0x01})

	// Keys share the "H{sh}" prefix but differ in a fixed-width height field
	// that follows it, the same shape as a history row key — ForEachFrom
	// must keep matching past the seek key's exact height, not stop there.
	p.Put([]byte("Hsh\x00\x00\x00\x01rest"), []byte("1"))
	p.Put([]byte("Hsh\x00\x00\x00\x02rest"), []byte("2"))
	p.Put([]byte("Hsh\x00\x00\x00\x03rest"), []byte("3"))

	var got []string
	err := p.ForEachFrom([]byte("Hsh"), []byte("Hsh\x00\x00\x00\x02"), func(key, value []byte) error {
		got = append(got, string(value))
		return nil
	})
	if err != nil {
		t.Fatalf("foreach from: %v", err)
	}
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Fatalf("expected [2 3], got %v", got)
	}
}

func TestPrefixDBDeleteAll(t *testing.T) {
	inner := NewMemory()
	p := NewPrefixDB(inner, []byte{0x03})
	p.Put([]byte("a"), []byte("1"))
	p.Put([]byte("b"), []byte("2"))

	if err := p.DeleteAll(); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if ok, _ := p.Has([]byte("a")); ok {
		t.Fatalf("expected a to be gone")
	}
	if ok, _ := inner.Has([]byte{0x03, 'a'}); ok {
		t.Fatalf("expected inner key to be gone too")
	}
}

func TestPrefixDBBatchCommit(t *testing.T) {
	inner := NewMemory()
	p := NewPrefixDB(inner, []byte{0x01})
	batch := p.NewBatch()
	if err := batch.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("batch put: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	v, err := p.Get([]byte("x"))
	if err != nil || string(v) != "1" {
		t.Fatalf("get after commit = %q, %v", v, err)
	}
}
