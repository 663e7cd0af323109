package indexer

import "testing"

func event(chainID uint64, txHash string, logIndex uint32) Event {
	return Event{ChainID: chainID, TransactionHash: txHash, LogIndex: logIndex}
}

func TestEventCache_LRUEvictsOldestInsertion(t *testing.T) {
	c, err := NewEventCache(2)
	if err != nil {
		t.Fatal(err)
	}

	a := event(1, "0xa", 0)
	b := event(1, "0xb", 0)
	d := event(1, "0xc", 0) // variable named d to avoid shadowing the "c" cache

	c.Put(a)
	c.Put(b)
	c.Put(d)

	if c.Contains(a.CacheKey()) {
		t.Fatal("expected oldest-inserted key A to be evicted")
	}
	if !c.Contains(b.CacheKey()) || !c.Contains(d.CacheKey()) {
		t.Fatal("expected B and C to remain cached")
	}
}

func TestEventCache_PeekDoesNotPromote(t *testing.T) {
	c, err := NewEventCache(2)
	if err != nil {
		t.Fatal(err)
	}

	a := event(1, "0xa", 0)
	b := event(1, "0xb", 0)
	d := event(1, "0xc", 0)

	c.Put(a)
	c.Put(b)

	// Reading A repeatedly via Peek must not protect it from eviction — this is the crux of
	// "insertion order" vs "access order" LRU.
	for i := 0; i < 5; i++ {
		if _, ok := c.Peek(a.CacheKey()); !ok {
			t.Fatal("expected A to still be present before eviction")
		}
	}

	c.Put(d)

	if c.Contains(a.CacheKey()) {
		t.Fatal("Peek must not have promoted A; it should have been evicted as oldest-inserted")
	}
}

func TestEventCache_Stats(t *testing.T) {
	c, err := NewEventCache(3)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(event(1, "0xa", 0))
	c.Put(event(1, "0xb", 0))

	size, max := c.Stats()
	if size != 2 || max != 3 {
		t.Fatalf("Stats() = (%d, %d), want (2, 3)", size, max)
	}
}
