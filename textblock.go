package macho

import "math"

// textBlock is one decl's code block inside __TEXT,__text (spec.md §3).
// It does not store its own vm-address: that lives in the nlist entry at
// LocalSymIndex, so moving a block (grow/relocate) only ever requires
// updating that one nlist's Nvalue plus the doubly-linked neighbours —
// never a second source of truth to keep in sync. This is the "stable
// index into a generational arena" the design notes (spec.md §9) call
// for: DeclID is the stable handle, Image.blocks is the arena, and a
// decl's identity survives grow/shrink/relocate without ever changing.
type textBlock struct {
	LocalSymIndex    int
	OffsetTableIndex int
	Size             uint64
	Prev, Next       DeclID
}

func (img *Image) block(id DeclID) *textBlock {
	return img.blocks[id]
}

func (img *Image) vaddrOf(id DeclID) uint64 {
	b := img.blocks[id]
	return img.locals[b.LocalSymIndex].Nvalue
}

func (img *Image) setVaddr(id DeclID, v uint64) {
	b := img.blocks[id]
	img.locals[b.LocalSymIndex].Nvalue = v
}

// capacity implements spec.md §3 invariant 5.
func (img *Image) capacity(id DeclID) uint64 {
	b := img.blocks[id]
	v := img.vaddrOf(id)
	if b.Next != noDecl {
		return img.vaddrOf(b.Next) - v
	}
	return math.MaxUint64 - v
}

// idealCapacity is size * 4/3 (spec.md §3 invariant 6).
func idealCapacity(size uint64) uint64 {
	return satMul(size, 4) / 3
}

// freeListEligible implements spec.md §3 invariant 6.
func (img *Image) freeListEligible(id DeclID) bool {
	b := img.blocks[id]
	if b.Next == noDecl {
		return false
	}
	cap := img.capacity(id)
	ideal := idealCapacity(b.Size)
	if cap < ideal {
		return false
	}
	return cap-ideal >= minTextCapacity
}

func (img *Image) removeFromTextFreeList(id DeclID) {
	for i, v := range img.textBlockFreeList {
		if v == id {
			img.textBlockFreeList = append(img.textBlockFreeList[:i], img.textBlockFreeList[i+1:]...)
			return
		}
	}
}

func (img *Image) inTextFreeList(id DeclID) bool {
	for _, v := range img.textBlockFreeList {
		if v == id {
			return true
		}
	}
	return false
}

// insertTextBlockAfter splices a freshly-placed block for id into the
// list immediately after afterID (noDecl meaning "as the first block").
func (img *Image) insertTextBlockAfter(afterID, id DeclID) {
	b := img.blocks[id]
	if afterID == noDecl {
		b.Prev = noDecl
		b.Next = noDecl
		img.lastTextBlock = id
		return
	}
	after := img.blocks[afterID]
	b.Prev = afterID
	b.Next = after.Next
	if after.Next != noDecl {
		img.blocks[after.Next].Prev = id
	} else {
		img.lastTextBlock = id
	}
	after.Next = id
}

// allocateTextBlock implements spec.md §4.C's three-tier placement
// algorithm: free-list scan, tail append, empty section.
func (img *Image) allocateTextBlock(id DeclID, newSize uint64, align uint64) (uint64, *LinkError) {
	b := img.blocks[id]
	ideal := idealCapacity(newSize)

	// 1. Free-list scan.
	for _, bigID := range append([]DeclID(nil), img.textBlockFreeList...) {
		big := img.blocks[bigID]
		cap := img.capacity(bigID)
		bigVaddr := img.vaddrOf(bigID)
		idealEnd := bigVaddr + idealCapacity(big.Size)
		capEnd := bigVaddr + cap
		candidate := alignDown(satSub(capEnd, ideal), align)
		if candidate < idealEnd {
			if !img.freeListEligible(bigID) {
				img.removeFromTextFreeList(bigID)
			}
			continue
		}
		img.insertTextBlockAfter(bigID, id)
		img.setVaddr(id, candidate)
		if candidate-idealEnd < minTextCapacity {
			img.removeFromTextFreeList(bigID)
		}
		b.Size = newSize
		img.extendTextSectionIfNeeded(candidate, newSize)
		img.cmdTableDirty = true
		return candidate, nil
	}

	// 2. Tail append.
	if img.lastTextBlock != noDecl {
		last := img.blocks[img.lastTextBlock]
		candidate := alignUp(img.vaddrOf(img.lastTextBlock)+idealCapacity(last.Size), align)
		img.insertTextBlockAfter(img.lastTextBlock, id)
		img.setVaddr(id, candidate)
		b.Size = newSize
		if err := img.extendTextSectionIfNeeded(candidate, newSize); err != nil {
			return 0, err
		}
		img.cmdTableDirty = true
		return candidate, nil
	}

	// 3. Empty section.
	textSect := img.textSection()
	candidate := textSect.Addr
	img.insertTextBlockAfter(noDecl, id)
	img.setVaddr(id, candidate)
	b.Size = newSize
	if err := img.extendTextSectionIfNeeded(candidate, newSize); err != nil {
		return 0, err
	}
	img.cmdTableDirty = true
	return candidate, nil
}

// extendTextSectionIfNeeded grows __text (and its containing __TEXT
// segment) when a placement runs past the current section size,
// provided the allocator already reserved enough file slack; otherwise
// this is the documented "must move the entire text section" limitation
// (spec.md §4.C).
func (img *Image) extendTextSectionIfNeeded(vaddr, size uint64) *LinkError {
	textSect := img.textSection()
	end := (vaddr + size) - textSect.Addr
	if end <= textSect.Size {
		return nil
	}
	if img.allocatedSize(uint64(textSect.Offset)) < end {
		return ErrMustMoveTextSection
	}
	textSect.Size = end
	seg := img.segment("__TEXT")
	if segEnd := textSect.Addr + end - seg.VMAddr; segEnd > seg.VMSize {
		seg.VMSize = segEnd
		seg.FileSize = segEnd
	}
	return nil
}

// growTextBlock implements spec.md §4.C's Grow algorithm: when the block
// already fits at an aligned address it stays put (only its Size is
// updated and __text extended if needed), otherwise a relocation
// via allocateTextBlock. Callers must rewrite the block's GOT slot if
// the returned address differs from the old one.
func (img *Image) growTextBlock(id DeclID, newSize uint64, align uint64) (uint64, *LinkError) {
	v := img.vaddrOf(id)
	b := img.blocks[id]
	if alignDown(v, align) == v && newSize <= img.capacity(id) {
		b.Size = newSize
		if err := img.extendTextSectionIfNeeded(v, newSize); err != nil {
			return 0, err
		}
		return v, nil
	}
	img.unlinkTextBlock(id)
	return img.allocateTextBlock(id, newSize, align)
}

// shrinkTextBlock only records the block's new Size. It never inserts a
// free-list node, even when the shrink makes the block free-list
// eligible, and never moves the block.
func (img *Image) shrinkTextBlock(id DeclID, newSize uint64) {
	img.blocks[id].Size = newSize
}

// unlinkTextBlock removes id from the block list without touching its
// symbol/GOT slots, used both by growTextBlock (relocate in place) and
// freeTextBlock (permanent removal).
func (img *Image) unlinkTextBlock(id DeclID) {
	b := img.blocks[id]
	prev, next := b.Prev, b.Next
	predAlreadyFree := prev != noDecl && img.inTextFreeList(prev)
	if prev != noDecl {
		img.blocks[prev].Next = next
	}
	if next != noDecl {
		img.blocks[next].Prev = prev
	} else {
		img.lastTextBlock = prev
	}
	img.removeFromTextFreeList(id)
	if prev != noDecl && !predAlreadyFree && img.freeListEligible(prev) {
		img.textBlockFreeList = append(img.textBlockFreeList, prev)
	}
	b.Prev = noDecl
	b.Next = noDecl
}

// freeTextBlock implements spec.md §4.C's Free algorithm.
func (img *Image) freeTextBlock(id DeclID) {
	img.unlinkTextBlock(id)
}

// satMul saturates a*b at math.MaxUint64 rather than overflowing
// (spec.md §9, "saturating arithmetic").
func satMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

// satSub saturates a-b at 0 rather than wrapping, used where a candidate
// capacity may legitimately be smaller than the size being fit.
func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
