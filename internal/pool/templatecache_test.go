package pool

import "testing"

type fakeBlock struct {
	ts    int64
	nonce uint64
}

func (b fakeBlock) Timestamp() int64 { return b.ts }
func (b fakeBlock) WithNonce(nonce uint64) Block {
	return fakeBlock{ts: b.ts, nonce: nonce}
}

type fakePoW struct {
	hash    [32]byte
	solves  bool
	target  [32]byte
}

func (p fakePoW) PrePoWHash() [32]byte { return p.hash }
func (p fakePoW) CheckWork(nonce uint64) (bool, [32]byte) { return p.solves, p.target }

func TestTemplateCacheInsertAndEviction(t *testing.T) {
	c := NewTemplateCache(2)
	h1, h2, h3 := hashFor(1), hashFor(2), hashFor(3)

	if !c.Insert(h1, &Template{Block: fakeBlock{ts: 1}, PoW: fakePoW{hash: h1}}) {
		t.Fatal("expected first insert to succeed")
	}
	if c.Insert(h1, &Template{}) {
		t.Fatal("expected duplicate insert to report already-present")
	}
	c.Insert(h2, &Template{Block: fakeBlock{ts: 2}, PoW: fakePoW{hash: h2}})

	if c.Len() != 2 {
		t.Fatalf("expected 2 cached templates, got %d", c.Len())
	}

	c.Insert(h3, &Template{Block: fakeBlock{ts: 3}, PoW: fakePoW{hash: h3}})
	if c.Len() != 3 {
		t.Fatalf("cache does not self-evict on insert, expected 3 got %d", c.Len())
	}

	evicted, ok := c.EvictOldest()
	if !ok || evicted != h1 {
		t.Fatalf("expected to evict oldest hash %x, got %x (ok=%v)", h1, evicted, ok)
	}
	if c.Has(h1) {
		t.Fatal("expected h1 to be evicted")
	}
	if !c.Has(h2) || !c.Has(h3) {
		t.Fatal("expected h2 and h3 to remain cached")
	}
}
