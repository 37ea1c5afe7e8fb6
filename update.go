package macho

// allocateDeclIndexes implements spec.md §4.E: reserves a local symbol
// slot and a GOT slot for decl, preferring their free lists, unless the
// decl already has one.
func (img *Image) allocateDeclIndexes(decl DeclID) {
	if b := img.blocks[decl]; b != nil && b.LocalSymIndex != 0 {
		return
	}

	localIdx := img.popLocalFreeList()
	if localIdx == 0 {
		img.locals = append(img.locals, nlist64{})
		localIdx = len(img.locals) - 1
	} else {
		img.locals[localIdx] = nlist64{}
	}

	gotIdx, ok := img.popGotFreeList()
	if !ok {
		img.got = append(img.got, 0)
		gotIdx = len(img.got) - 1
	} else {
		img.got[gotIdx] = 0
	}

	img.blocks[decl] = &textBlock{LocalSymIndex: localIdx, OffsetTableIndex: gotIdx}
}

func (img *Image) popLocalFreeList() int {
	n := len(img.localFreeList)
	if n == 0 {
		return 0
	}
	idx := img.localFreeList[n-1]
	img.localFreeList = img.localFreeList[:n-1]
	return idx
}

func (img *Image) popGotFreeList() (int, bool) {
	n := len(img.gotFreeList)
	if n == 0 {
		return 0, false
	}
	idx := img.gotFreeList[n-1]
	img.gotFreeList = img.gotFreeList[:n-1]
	return idx, true
}

func (img *Image) popGlobalFreeList() (int, bool) {
	n := len(img.globalFreeList)
	if n == 0 {
		return 0, false
	}
	idx := img.globalFreeList[n-1]
	img.globalFreeList = img.globalFreeList[:n-1]
	return idx, true
}

// updateDecl implements spec.md §4.E's central per-decl update: generate
// code, place or relocate its text block, patch PIE fixups, write the
// bytes, and refresh its exports. A codegen failure is recorded on the
// failure map and does not propagate.
func (img *Image) updateDecl(query DeclQuery, gen CodeGenerator, decl DeclID) *LinkError {
	res, err := gen.Generate(decl)
	if err != nil {
		img.failures.record(decl, newDeclError("codegen for decl %d: %v", decl, err))
		return nil
	}
	img.failures.clear(decl)
	img.pieFixups = res.Fixups

	b := img.blocks[decl]
	if b == nil {
		return newFatal(CategoryPerDecl, "updateDecl on decl %d without allocateDeclIndexes", decl)
	}

	align := query.AbiAlignment(decl, img.opts.Target)
	code := res.Code
	codeLen := uint64(len(code))
	oldSize := b.Size

	var vaddr uint64
	if oldSize > 0 {
		oldVaddr := img.vaddrOf(decl)
		needsGrow := codeLen > img.capacity(decl) || alignDown(oldVaddr, align) != oldVaddr
		if needsGrow {
			newVaddr, lerr := img.growTextBlock(decl, codeLen, align)
			if lerr != nil {
				return lerr
			}
			if newVaddr != oldVaddr {
				img.got[b.OffsetTableIndex] = newVaddr
				if lerr := img.writeOffsetTableEntry(b.OffsetTableIndex); lerr != nil {
					return lerr
				}
			}
			vaddr = newVaddr
		} else {
			vaddr = oldVaddr
		}
		if codeLen < oldSize {
			img.shrinkTextBlock(decl, codeLen)
		}
		b.Size = codeLen

		nameOff := img.updateString(query.Name(decl))
		img.locals[b.LocalSymIndex] = nlist64{
			Nstrx:  nameOff,
			Ntype:  nSect,
			Nsect:  uint8(img.textSectIdx + 1),
			Ndesc:  0,
			Nvalue: vaddr,
		}
	} else {
		nameOff := img.internString(query.Name(decl))
		newVaddr, lerr := img.allocateTextBlock(decl, codeLen, align)
		if lerr != nil {
			return lerr
		}
		vaddr = newVaddr
		img.locals[b.LocalSymIndex] = nlist64{
			Nstrx:  nameOff,
			Ntype:  nSect,
			Nsect:  uint8(img.textSectIdx + 1),
			Nvalue: vaddr,
		}
		img.got[b.OffsetTableIndex] = vaddr
		if lerr := img.writeOffsetTableEntry(b.OffsetTableIndex); lerr != nil {
			return lerr
		}
	}

	if lerr := img.applyPIEFixups(code, vaddr); lerr != nil {
		return lerr
	}
	img.pieFixups = nil

	textSect := img.textSection()
	fileOff := int64(textSect.Offset) + int64(vaddr-textSect.Addr)
	if err := img.pwriteAll(code, fileOff); err != nil {
		return newFatal(CategoryIO, "write decl %d code: %v", decl, err)
	}

	exports := query.Exports(decl)
	return img.updateDeclExports(decl, exports)
}

// updateString always interns a fresh copy, leaving the old bytes as
// debris in the string table (spec.md §4.E), the same tolerance the
// core already applies to freed nlist/global slots.
func (img *Image) updateString(s string) uint32 {
	return img.internString(s)
}

// updateDeclExports implements spec.md §4.E: maps each export's linkage
// to nlist reference flags, tracks the `_start` entry point, and
// assigns or refreshes a global symbol slot per export.
func (img *Image) updateDeclExports(decl DeclID, exports []Export) *LinkError {
	b := img.blocks[decl]
	vaddr := img.vaddrOf(decl)

	existing := img.declExports[decl]
	byName := make(map[string]*Export, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	result := make([]*Export, 0, len(exports))
	for _, ne := range exports {
		e, ok := byName[ne.Name]
		if !ok {
			e = &Export{Name: ne.Name}
		}
		e.Linkage = ne.Linkage
		e.Options = ne.Options
		result = append(result, e)

		if e.Options.Section != "" && e.Options.Section != "__text" {
			img.failures.record(decl, newDeclError("export %q: unsupported section %q", e.Name, e.Options.Section))
			continue
		}

		var refFlag uint16
		switch e.Linkage {
		case LinkageInternal:
			refFlag = referenceFlagPrivateDefined
		case LinkageStrong:
			refFlag = referenceFlagDefined
			if e.Name == "_start" {
				img.entryAddr = vaddr
				img.hasEntryAddr = true
				img.cmdTableDirty = true
			}
		case LinkageWeak:
			refFlag = nWeakRef
		case LinkageLinkOnce:
			img.failures.record(decl, newDeclError("export %q: link-once linkage not implemented", e.Name))
			continue
		}

		nameOff := img.internString(e.Name)
		entry := nlist64{
			Nstrx:  nameOff,
			Ntype:  img.locals[b.LocalSymIndex].Ntype | nExt,
			Nsect:  uint8(img.textSectIdx + 1),
			Ndesc:  refFlag,
			Nvalue: vaddr,
		}
		if e.hasGlobalSymbol {
			img.globals[e.GlobalSymIndex] = entry
		} else if idx, ok := img.popGlobalFreeList(); ok {
			img.globals[idx] = entry
			e.GlobalSymIndex = idx
			e.hasGlobalSymbol = true
		} else {
			img.globals = append(img.globals, entry)
			e.GlobalSymIndex = len(img.globals) - 1
			e.hasGlobalSymbol = true
		}
	}

	kept := make(map[string]bool, len(result))
	for _, e := range result {
		kept[e.Name] = true
	}
	for _, p := range existing {
		if !kept[p.Name] {
			img.deleteExport(p)
		}
	}

	img.declExports[decl] = result
	return nil
}

// deleteExport implements spec.md §4.E: returns the export's global slot
// to the free list and marks it debris; name and value are left stale.
func (img *Image) deleteExport(e *Export) {
	if !e.hasGlobalSymbol {
		return
	}
	img.globals[e.GlobalSymIndex].Ntype = 0
	img.globalFreeList = append(img.globalFreeList, e.GlobalSymIndex)
	e.hasGlobalSymbol = false
}

// freeDecl implements spec.md §4.E: frees the text block, returns the
// local symbol and GOT slots to their free lists, and forgets decl.
func (img *Image) freeDecl(decl DeclID) {
	b := img.blocks[decl]
	if b == nil {
		return
	}
	img.freeTextBlock(decl)
	for _, e := range img.declExports[decl] {
		img.deleteExport(e)
	}
	delete(img.declExports, decl)

	img.locals[b.LocalSymIndex].Ntype = 0
	img.localFreeList = append(img.localFreeList, b.LocalSymIndex)
	img.gotFreeList = append(img.gotFreeList, b.OffsetTableIndex)
	delete(img.blocks, decl)
}
