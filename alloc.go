package macho

import "math"

// region is a file-offset range occupied by some existing piece of the
// image, consulted by detectAllocCollision/allocatedSize (spec.md §4.B).
type region struct {
	offset uint64
	size   uint64
}

// occupiedRegions enumerates every file region the space allocator must
// avoid: the header, the tight-packed load-command area, every section,
// the export trie, the symbol table, and the string table.
func (img *Image) occupiedRegions() []region {
	regions := []region{{0, machHeader64Size}}

	cmdsSize := uint64(0)
	for _, c := range img.cmds {
		cmdsSize += uint64(c.length())
	}
	if cmdsSize > 0 {
		regions = append(regions, region{machHeader64Size, cmdsSize})
	}

	for _, c := range img.cmds {
		seg, ok := c.(*segmentCommand64)
		if !ok {
			continue
		}
		for _, s := range seg.Sections {
			if s.Size > 0 {
				regions = append(regions, region{uint64(s.Offset), s.Size})
			}
		}
	}

	if img.dyldInfoIdx != noCmdIdx {
		di := img.dyldInfoCmd()
		if di.ExportSize > 0 {
			regions = append(regions, region{uint64(di.ExportOff), uint64(di.ExportSize)})
		}
	}

	if img.symtabIdx != noCmdIdx {
		st := img.symtabCmd()
		if st.Nsyms > 0 {
			regions = append(regions, region{uint64(st.Symoff), uint64(st.Nsyms) * nlist64Size})
		}
		if st.Strsize > 0 {
			regions = append(regions, region{uint64(st.Stroff), uint64(st.Strsize)})
		}
	}

	return regions
}

// satAdd saturates a+b at math.MaxUint64 instead of wrapping.
func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// detectAllocCollision implements spec.md §4.B: given a proposed range
// [start, start+size*4/3), saturating, it returns the file offset just
// past the first conflicting occupied region, or (0, false) if none.
func (img *Image) detectAllocCollision(start, size uint64) (uint64, bool) {
	candidateEnd := satAdd(start, idealCapacity(size))
	for _, r := range img.occupiedRegions() {
		occEnd := satAdd(r.offset, idealCapacity(r.size))
		if start < occEnd && r.offset < candidateEnd {
			return occEnd, true
		}
	}
	return 0, false
}

// allocatedSize implements spec.md §4.B: the distance from start to the
// next higher occupied offset, or 0 if start == 0.
func (img *Image) allocatedSize(start uint64) uint64 {
	if start == 0 {
		return 0
	}
	best := uint64(math.MaxUint64)
	found := false
	for _, r := range img.occupiedRegions() {
		if r.offset > start && r.offset < best {
			best = r.offset
			found = true
		}
	}
	if !found {
		return 0
	}
	return best - start
}

// findFreeSpace implements spec.md §4.B: repeatedly advances past
// collisions until a gap large enough for size, aligned to align, is
// found.
func (img *Image) findFreeSpace(size, align uint64) uint64 {
	start := uint64(0)
	for {
		end, collided := img.detectAllocCollision(start, size)
		if !collided {
			return start
		}
		start = alignUp(end, align)
	}
}
