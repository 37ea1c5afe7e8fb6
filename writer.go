package macho

// flushModule implements spec.md §4.E/§4.F/§5's flush ordering: export
// trie, symbols, strings, code-signature padding, then (if the command
// table is dirty) load commands and header, then the signature itself —
// each step advances linkeditNextOffset for the next.
func (img *Image) flushModule() *LinkError {
	if img.opts.Mode == OutputObj {
		if img.cmdTableDirty {
			if err := img.writeLoadCommandsAndHeader(); err != nil {
				return err
			}
			img.cmdTableDirty = false
		}
		if err := img.fsync(); err != nil {
			return newFatal(CategoryIO, "fsync: %v", err)
		}
		return nil
	}

	if img.hasEntryAddr {
		img.mainCmd().EntryOff = img.entryAddr - img.textSegment().VMAddr
	}
	img.errorFlags.NoEntryPointFound = !img.hasEntryAddr

	if err := img.writeExportTrie(); err != nil {
		return err
	}
	if err := img.writeSymtab(); err != nil {
		return err
	}
	if err := img.writeStrtab(); err != nil {
		return err
	}
	dataOff, dataSize, err := img.reserveCodeSignaturePadding()
	if err != nil {
		return err
	}

	if img.cmdTableDirty {
		if err := img.writeLoadCommandsAndHeader(); err != nil {
			return err
		}
		img.cmdTableDirty = false
	}

	identifier := img.opts.EmitSubPath
	if identifier == "" {
		identifier = "a.out"
	}
	if err := img.writeCodeSignature(identifier, dataOff, dataSize); err != nil {
		return err
	}
	if err := img.fsync(); err != nil {
		return newFatal(CategoryIO, "fsync: %v", err)
	}
	return nil
}

// growLinkedit advances linkeditNextOffset and grows __LINKEDIT's
// filesize/vmsize to cover it (spec.md §4.F).
func (img *Image) growLinkedit(newNextOffset uint64) {
	img.linkeditNextOffset = newNextOffset
	seg := img.linkeditSegment()
	if fileSize := newNextOffset - seg.FileOff; fileSize > seg.FileSize {
		seg.FileSize = fileSize
	}
	if vmSize := alignUp(seg.FileSize, img.pageSize); vmSize > seg.VMSize {
		seg.VMSize = vmSize
	}
}

// writeSymtab implements spec.md §4.F: locals, then globals, then
// undefs, written consecutively from linkeditNextOffset.
func (img *Image) writeSymtab() *LinkError {
	off := img.linkeditNextOffset
	total := len(img.locals) + len(img.globals) + len(img.undefs)
	buf := make([]byte, 0, total*nlist64Size)
	for _, n := range img.locals {
		buf = append(buf, n.encode()...)
	}
	for _, n := range img.globals {
		buf = append(buf, n.encode()...)
	}
	for _, n := range img.undefs {
		buf = append(buf, n.encode()...)
	}
	if err := img.pwriteAll(buf, int64(off)); err != nil {
		return newFatal(CategoryIO, "write symtab: %v", err)
	}

	st := img.symtabCmd()
	st.Symoff = uint32(off)
	st.Nsyms = uint32(total)

	dy := img.dysymtabCmd()
	dy.ILocalSym = 0
	dy.NLocalSym = uint32(len(img.locals))
	dy.IExtDefSym = uint32(len(img.locals))
	dy.NExtDefSym = uint32(len(img.globals))
	dy.IUndefSym = uint32(len(img.locals) + len(img.globals))
	dy.NUndefSym = uint32(len(img.undefs))

	img.growLinkedit(off + uint64(len(buf)))
	img.cmdTableDirty = true
	return nil
}

// writeStrtab implements spec.md §4.F: the string table, padded to 8
// bytes with an explicit trailing pad byte.
func (img *Image) writeStrtab() *LinkError {
	off := img.linkeditNextOffset
	padded := alignUp(uint64(len(img.strtab)), 8)
	buf := make([]byte, padded)
	copy(buf, img.strtab)

	if err := img.pwriteAll(buf, int64(off)); err != nil {
		return newFatal(CategoryIO, "write strtab: %v", err)
	}

	st := img.symtabCmd()
	st.Stroff = uint32(off)
	st.Strsize = uint32(padded)

	img.growLinkedit(off + padded)
	img.cmdTableDirty = true
	return nil
}

// writeExportTrie implements spec.md §4.F: built from every live global
// symbol, skipped entirely when there are none.
func (img *Image) writeExportTrie() *LinkError {
	textAddr := img.textSegment().VMAddr
	exports := make([]trieExport, 0, len(img.globals))
	for _, g := range img.globals {
		if g.Ntype == 0 {
			continue
		}
		exports = append(exports, trieExport{
			name:  img.stringAt(g.Nstrx),
			value: g.Nvalue - textAddr,
		})
	}
	if len(exports) == 0 {
		return nil
	}

	data := buildExportTrie(exports)
	padded := alignUp(uint64(len(data)), 8)
	buf := make([]byte, padded)
	copy(buf, data)

	off := img.linkeditNextOffset
	if err := img.pwriteAll(buf, int64(off)); err != nil {
		return newFatal(CategoryIO, "write export trie: %v", err)
	}

	di := img.dyldInfoCmd()
	di.ExportOff = uint32(off)
	di.ExportSize = uint32(padded)

	img.growLinkedit(off + padded)
	img.cmdTableDirty = true
	return nil
}

// reserveCodeSignaturePadding implements spec.md §4.F: reserves space
// for the signature blob and file-backs it with a trailing zero byte,
// without writing the signature itself (that happens last, once the
// load commands and header are final).
func (img *Image) reserveCodeSignaturePadding() (uint64, uint64, *LinkError) {
	off := img.linkeditNextOffset
	identifier := img.opts.EmitSubPath
	if identifier == "" {
		identifier = "a.out"
	}
	size := codeSignaturePaddingSize(off, identifier)

	if err := img.pwriteAll([]byte{0}, int64(off+size-1)); err != nil {
		return 0, 0, newFatal(CategoryIO, "reserve code signature padding: %v", err)
	}

	cs := img.codeSigCmd()
	cs.DataOff = uint32(off)
	cs.DataSize = uint32(size)

	img.growLinkedit(off + size)
	img.cmdTableDirty = true
	return off, size, nil
}

// writeLoadCommandsAndHeader implements spec.md §4.F: every command
// knows its own encoded size, so the whole table is just a concatenation
// written right after the header, followed by the header itself.
func (img *Image) writeLoadCommandsAndHeader() *LinkError {
	var buf []byte
	for _, c := range img.cmds {
		buf = append(buf, c.encode()...)
	}
	if err := img.pwriteAll(buf, int64(machHeader64Size)); err != nil {
		return newFatal(CategoryIO, "write load commands: %v", err)
	}

	header := make([]byte, machHeader64Size)
	putU32(header, 0, magic64)
	putU32(header, 4, img.header.cpuType)
	putU32(header, 8, img.header.cpuSubtype)
	putU32(header, 12, img.header.fileType)
	putU32(header, 16, uint32(len(img.cmds)))
	putU32(header, 20, uint32(len(buf)))
	putU32(header, 24, img.header.flags)
	putU32(header, 28, 0)
	if err := img.pwriteAll(header, 0); err != nil {
		return newFatal(CategoryIO, "write header: %v", err)
	}
	return nil
}

// stringAt scans the string table for the NUL-terminated name at off.
func (img *Image) stringAt(off uint32) string {
	end := int(off)
	for end < len(img.strtab) && img.strtab[end] != 0 {
		end++
	}
	return string(img.strtab[off:end])
}
