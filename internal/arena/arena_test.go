package arena

import (
	"testing"
)

func TestArenaAllocWithinBlock(t *testing.T) {
	t.Parallel()
	a := New(64)
	first := a.Alloc(16)
	second := a.Alloc(16)
	if len(a.blocks) != 1 {
		t.Fatalf("expected single block for small allocations, got %d", len(a.blocks))
	}
	if &first[0] == &second[0] {
		t.Fatalf("expected distinct backing arrays for successive allocations")
	}
}

func TestArenaGrowsOnOverflow(t *testing.T) {
	t.Parallel()
	a := New(8)
	a.Alloc(8)
	a.Alloc(1) // does not fit in remaining 0 bytes of block 1
	if len(a.blocks) != 2 {
		t.Fatalf("expected a new block to be prepended, got %d blocks", len(a.blocks))
	}
}

func TestArenaOversizeRequestGetsDedicatedBlock(t *testing.T) {
	t.Parallel()
	a := New(DefaultBlockSize)
	big := a.Alloc(DefaultBlockSize * 2)
	if len(big) != DefaultBlockSize*2 {
		t.Fatalf("expected %d bytes, got %d", DefaultBlockSize*2, len(big))
	}
}

func TestArenaResetReusesBlocks(t *testing.T) {
	t.Parallel()
	a := New(32)
	a.Alloc(16)
	a.Alloc(16)
	if len(a.blocks) != 1 {
		t.Fatalf("setup: expected 1 block, got %d", len(a.blocks))
	}
	a.Reset()
	if a.Bytes() != 0 {
		t.Fatalf("expected zero used bytes after reset, got %d", a.Bytes())
	}
	a.Alloc(16)
	if len(a.blocks) != 1 {
		t.Fatalf("expected reset to reuse the existing block, got %d blocks", len(a.blocks))
	}
}

func TestArenaDestroyClearsBlocks(t *testing.T) {
	t.Parallel()
	a := New(32)
	a.Alloc(16)
	a.Destroy()
	if len(a.blocks) != 0 {
		t.Fatalf("expected no blocks after destroy, got %d", len(a.blocks))
	}
}

func TestPoolRecyclesArenas(t *testing.T) {
	t.Parallel()
	p := NewPool(32)
	a := p.Get()
	a.Alloc(16)
	p.Put(a)
	a2 := p.Get()
	if a2.Bytes() != 0 {
		t.Fatalf("expected recycled arena to be reset, got %d used bytes", a2.Bytes())
	}
}
