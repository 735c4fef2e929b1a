package ds

import "testing"

type slabObj struct {
	a, b int64
}

func TestArenaAllocateReusesFreedSlots(t *testing.T) {
	c := NewChunkAllocator[slabObj]()
	a := c.NewArena()

	p1 := a.Allocate()
	p1.a = 42
	a.Free(p1)

	p2 := a.Allocate()
	if p2 != p1 {
		t.Fatalf("expected Allocate to reuse freed slot %p, got %p", p1, p2)
	}
	if p2.a != 0 {
		t.Fatalf("expected reused slot zeroed, got %+v", *p2)
	}
}

func TestArenaAllocateSpansChunks(t *testing.T) {
	c := NewChunkAllocator[slabObj]()
	a := c.NewArena()

	seen := make(map[*slabObj]bool)
	for i := 0; i < chunkSize*3+7; i++ {
		p := a.Allocate()
		if seen[p] {
			t.Fatalf("Allocate returned duplicate pointer at iteration %d", i)
		}
		seen[p] = true
	}
}

func TestChunkAllocatorArenaCount(t *testing.T) {
	c := NewChunkAllocator[int]()
	if c.ArenaCount() != 0 {
		t.Fatalf("expected 0 arenas initially, got %d", c.ArenaCount())
	}
	c.NewArena()
	c.NewArena()
	if c.ArenaCount() != 2 {
		t.Fatalf("expected 2 arenas, got %d", c.ArenaCount())
	}
}
