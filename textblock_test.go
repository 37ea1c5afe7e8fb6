package macho

import "testing"

func TestIdealCapacity(t *testing.T) {
	cases := []struct{ size, want uint64 }{
		{0, 0},
		{3, 4},  // 3*4/3 = 4
		{90, 120},
		{1000, 1333},
	}
	for _, c := range cases {
		if got := idealCapacity(c.size); got != c.want {
			t.Errorf("idealCapacity(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

// newTestImageForBlocks wires up an Image with a single __text section
// big enough that allocateTextBlock never has to extend it, so tests can
// focus on the free-list and tail-append logic in isolation.
func newTestImageForBlocks(t *testing.T) *Image {
	t.Helper()
	img := &Image{
		pageSize:   0x1000,
		textSegIdx: 0,
		blocks:     make(map[DeclID]*textBlock),
		locals:     make([]nlist64, 8), // vm-addresses live in locals[LocalSymIndex]
	}
	img.cmds = []loadCommand{
		&segmentCommand64{
			SegName: "__TEXT",
			VMAddr:  textVMAddr,
			Sections: []section64{
				{SectName: "__text", Addr: textVMAddr + 0x1000, Size: 0x10000, Offset: 0x1000},
			},
		},
	}
	img.textSectIdx = 0
	return img
}

func allocDecl(t *testing.T, img *Image, id DeclID, size uint64) uint64 {
	t.Helper()
	img.blocks[id] = &textBlock{LocalSymIndex: int(id)}
	v, err := img.allocateTextBlock(id, size, 1)
	if err != nil {
		t.Fatalf("allocateTextBlock(%d, %d): %v", id, size, err)
	}
	return v
}

func TestAllocateTextBlockTailAppend(t *testing.T) {
	img := newTestImageForBlocks(t)
	v1 := allocDecl(t, img, 1, 16)
	v2 := allocDecl(t, img, 2, 16)

	if v1 != img.textSection().Addr {
		t.Errorf("first block at %#x, want section start %#x", v1, img.textSection().Addr)
	}
	if v2 <= v1 {
		t.Errorf("second block at %#x did not come after first at %#x", v2, v1)
	}
	// idealCapacity(16) = 21, so the second block must start at least
	// 21 bytes after the first.
	if v2-v1 < idealCapacity(16) {
		t.Errorf("gap %#x smaller than ideal capacity %#x", v2-v1, idealCapacity(16))
	}
}

func TestFreeListLIFOReuse(t *testing.T) {
	img := newTestImageForBlocks(t)
	allocDecl(t, img, 1, 16)
	allocDecl(t, img, 2, 1000) // big, so freeing it leaves a generous gap
	allocDecl(t, img, 3, 16)
	v3 := img.vaddrOf(3)

	img.freeTextBlock(2)
	if !img.inTextFreeList(1) {
		t.Fatal("decl 1 should become free-list eligible once decl 2 is unlinked")
	}

	img.blocks[4] = &textBlock{}
	v4, err := img.allocateTextBlock(4, 16, 1)
	if err != nil {
		t.Fatalf("allocateTextBlock: %v", err)
	}
	if v4 >= v3 {
		t.Errorf("expected reuse of freed gap before decl 3 at %#x, got %#x", v3, v4)
	}
	if img.inTextFreeList(2) {
		t.Error("freed decl 2 itself should never reappear in the free list")
	}
}

func TestGrowTextBlockInPlace(t *testing.T) {
	img := newTestImageForBlocks(t)
	v := allocDecl(t, img, 1, 16)
	// Decl 1 is the tail block, so its capacity is unbounded and growing
	// to 20 still fits without moving.
	nv, err := img.growTextBlock(1, 20, 1)
	if err != nil {
		t.Fatalf("growTextBlock: %v", err)
	}
	if nv != v {
		t.Errorf("growTextBlock relocated from %#x to %#x when it should have grown in place", v, nv)
	}
	if img.blocks[1].Size != 20 {
		t.Errorf("block size = %d, want 20", img.blocks[1].Size)
	}
}

func TestGrowTextBlockRelocates(t *testing.T) {
	img := newTestImageForBlocks(t)
	v1 := allocDecl(t, img, 1, 16)
	allocDecl(t, img, 2, 16) // bounds decl 1's capacity to idealCapacity(16) = 21

	nv, err := img.growTextBlock(1, 1000, 1)
	if err != nil {
		t.Fatalf("growTextBlock: %v", err)
	}
	if nv == v1 {
		t.Error("expected relocation when growth exceeds the capacity bounded by the successor block")
	}
}

func TestShrinkTextBlockIsSizeOnly(t *testing.T) {
	img := newTestImageForBlocks(t)
	allocDecl(t, img, 1, 100)
	img.shrinkTextBlock(1, 10)
	if img.blocks[1].Size != 10 {
		t.Errorf("size = %d, want 10", img.blocks[1].Size)
	}
}
