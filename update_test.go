package macho

import "testing"

func newTestImageForUpdate(t *testing.T) *Image {
	t.Helper()
	return &Image{
		blocks:      make(map[DeclID]*textBlock),
		declExports: make(map[DeclID][]*Export),
		failures:    newFailureMap(),
		locals:      []nlist64{{}},
		strtab:      []byte{0},
	}
}

func TestAllocateDeclIndexesIsIdempotent(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.allocateDeclIndexes(1)
	b1 := img.blocks[1]
	img.allocateDeclIndexes(1)
	if img.blocks[1] != b1 {
		t.Error("second call replaced the existing block")
	}
}

func TestAllocateDeclIndexesGrows(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.allocateDeclIndexes(1)
	img.allocateDeclIndexes(2)
	if img.blocks[1].LocalSymIndex == img.blocks[2].LocalSymIndex {
		t.Error("two live decls share a local symbol index")
	}
	if img.blocks[1].OffsetTableIndex == img.blocks[2].OffsetTableIndex {
		t.Error("two live decls share a GOT index")
	}
}

func TestAllocateDeclIndexesReusesFreedSlotsLIFO(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.allocateDeclIndexes(1)
	img.allocateDeclIndexes(2)
	local1, got1 := img.blocks[1].LocalSymIndex, img.blocks[1].OffsetTableIndex
	local2, got2 := img.blocks[2].LocalSymIndex, img.blocks[2].OffsetTableIndex

	img.freeDecl(1)
	img.freeDecl(2)
	// freeDecl appends to the free lists in call order, and
	// allocateDeclIndexes pops from the tail (LIFO): decl 2's slots come
	// back first.
	img.allocateDeclIndexes(3)
	if img.blocks[3].LocalSymIndex != local2 || img.blocks[3].OffsetTableIndex != got2 {
		t.Errorf("decl 3 got local=%d got=%d, want the most recently freed slots local=%d got=%d",
			img.blocks[3].LocalSymIndex, img.blocks[3].OffsetTableIndex, local2, got2)
	}
	img.allocateDeclIndexes(4)
	if img.blocks[4].LocalSymIndex != local1 || img.blocks[4].OffsetTableIndex != got1 {
		t.Errorf("decl 4 did not reuse decl 1's freed slots")
	}
}

func TestUpdateDeclExportsAssignsEntryPoint(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.cmds = []loadCommand{&segmentCommand64{SegName: "__TEXT", VMAddr: textVMAddr}}
	img.textSegIdx = 0
	img.textSectIdx = 0
	img.allocateDeclIndexes(1)
	img.locals[img.blocks[1].LocalSymIndex] = nlist64{Nvalue: textVMAddr}

	lerr := img.updateDeclExports(1, []Export{{Name: "_start", Linkage: LinkageStrong}})
	if lerr != nil {
		t.Fatalf("updateDeclExports: %v", lerr)
	}
	if !img.hasEntryAddr || img.entryAddr != textVMAddr {
		t.Errorf("entry point not recorded: hasEntryAddr=%v entryAddr=%#x", img.hasEntryAddr, img.entryAddr)
	}
	if len(img.globals) != 1 {
		t.Fatalf("got %d globals, want 1", len(img.globals))
	}
}

func TestUpdateDeclExportsPreservesGlobalSlotAcrossCalls(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.cmds = []loadCommand{&segmentCommand64{SegName: "__TEXT", VMAddr: textVMAddr}}
	img.textSegIdx = 0
	img.textSectIdx = 0
	img.allocateDeclIndexes(1)

	img.updateDeclExports(1, []Export{{Name: "_foo", Linkage: LinkageStrong}})
	firstSlot := img.declExports[1][0].GlobalSymIndex

	img.updateDeclExports(1, []Export{{Name: "_foo", Linkage: LinkageStrong}})
	secondSlot := img.declExports[1][0].GlobalSymIndex

	if firstSlot != secondSlot {
		t.Errorf("global slot changed across calls: %d -> %d", firstSlot, secondSlot)
	}
	if len(img.globals) != 1 {
		t.Errorf("got %d globals, want exactly 1 (no duplicate appended)", len(img.globals))
	}
}

func TestDeleteExportReturnsSlotToFreeList(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.cmds = []loadCommand{&segmentCommand64{SegName: "__TEXT", VMAddr: textVMAddr}}
	img.textSegIdx = 0
	img.textSectIdx = 0
	img.allocateDeclIndexes(1)
	img.updateDeclExports(1, []Export{{Name: "_foo", Linkage: LinkageStrong}})

	e := img.declExports[1][0]
	img.deleteExport(e)
	if e.hasGlobalSymbol {
		t.Error("hasGlobalSymbol should be cleared")
	}
	if img.globals[0].Ntype != 0 {
		t.Error("freed global slot should be marked debris (Ntype == 0)")
	}
	if len(img.globalFreeList) != 1 {
		t.Errorf("got %d entries in the global free list, want 1", len(img.globalFreeList))
	}
}

func TestFreeDeclUnlinksAndFreesExports(t *testing.T) {
	img := newTestImageForUpdate(t)
	img.cmds = []loadCommand{&segmentCommand64{
		SegName: "__TEXT", VMAddr: textVMAddr,
		Sections: []section64{{SectName: "__text", Addr: textVMAddr, Size: 0x1000, Offset: 0x1000}},
	}}
	img.textSegIdx = 0
	img.textSectIdx = 0

	img.allocateDeclIndexes(1)
	img.blocks[1] = &textBlock{LocalSymIndex: img.blocks[1].LocalSymIndex, OffsetTableIndex: img.blocks[1].OffsetTableIndex}
	img.allocateTextBlock(1, 16, 1)
	img.updateDeclExports(1, []Export{{Name: "_foo", Linkage: LinkageStrong}})

	img.freeDecl(1)
	if _, ok := img.blocks[1]; ok {
		t.Error("decl 1 should be forgotten after freeDecl")
	}
	if _, ok := img.declExports[1]; ok {
		t.Error("decl 1's export cache should be forgotten after freeDecl")
	}
	if len(img.localFreeList) != 1 || len(img.gotFreeList) != 1 {
		t.Error("freeDecl should return both the local symbol and GOT slots")
	}
}
