package macho

import "github.com/xyproto/macholink/internal/engine"

// populateMissingMetadata implements spec.md §4.D. It is idempotent: a
// second call against an already-initialized image is a no-op. OpenPath
// calls it once on each freshly constructed Image, so every open builds
// the full canonical command set anew.
func (img *Image) populateMissingMetadata() *LinkError {
	if img.textSegIdx != noCmdIdx {
		return nil
	}

	switch img.opts.Target.Arch {
	case engine.ArchX86_64:
		img.header.cpuType = cpuTypeX86_64
		img.header.cpuSubtype = cpuSubtypeX86_64All
	case engine.ArchARM64:
		img.header.cpuType = cpuTypeARM64
		img.header.cpuSubtype = cpuSubtypeARM64All
	default:
		return ErrUnsupportedMachOArchitecture
	}
	img.header.fileType = mhExecute
	img.header.flags = mhNoUndefs | mhDyldLink | mhPIE

	img.addPagezero()
	img.addText()
	img.addLinkedit()
	img.addDyldInfo()
	img.addSymtab()
	img.addDysymtab()
	img.addDylinker()
	img.addDylib()
	img.addMain()
	img.addVersionMin()
	img.addSourceVersion()
	img.addCodeSignature()

	// dyld_stub_binder is the one undefined symbol every PIE executable
	// that calls out through the GOT needs resolved at launch.
	name := img.internString("dyld_stub_binder")
	img.undefs = append(img.undefs, nlist64{
		Nstrx: name,
		Ntype: nUndf | nExt,
		Ndesc: referenceFlagUndefinedNonLazy,
	})

	img.cmdTableDirty = true
	return nil
}

func (img *Image) addCmd(c loadCommand) int {
	img.cmds = append(img.cmds, c)
	return len(img.cmds) - 1
}

func (img *Image) addPagezero() {
	img.pagezeroIdx = img.addCmd(&segmentCommand64{
		SegName: "__PAGEZERO",
		VMSize:  pageZeroSize,
	})
}

func (img *Image) addText() {
	// The header and load-command table always live in the first page;
	// findFreeSpace collides with them at offset 0 and advances to the
	// next page boundary, where __text starts (spec.md §4.D).
	hint := img.opts.ProgramCodeSizeHint
	if hint == 0 {
		hint = img.pageSize
	}
	textOff := img.findFreeSpace(hint, img.pageSize)
	textAddr := textVMAddr + textOff
	textSize := alignUp(hint, img.pageSize)

	textAlign := uint32(0)
	if img.opts.Target.Arch == engine.ArchARM64 {
		textAlign = 2
	}

	gotOff := textOff + textSize
	gotAddr := textAddr + textSize
	gotSize := 8 * img.opts.SymbolCountHint

	segSize := textSize + alignUp(gotSize, img.pageSize)

	seg := &segmentCommand64{
		SegName:  "__TEXT",
		VMAddr:   textVMAddr,
		VMSize:   textOff + segSize,
		FileOff:  0,
		FileSize: textOff + segSize,
		MaxProt:  vmProtRead | vmProtWrite | vmProtExecute,
		InitProt: vmProtRead | vmProtExecute,
	}
	seg.Sections = append(seg.Sections, section64{
		SectName: "__text",
		SegName:  "__TEXT",
		Addr:     textAddr,
		Size:     0,
		Offset:   uint32(textOff),
		Align:    textAlign,
		Flags:    sRegular | sAttrPureInstructions | sAttrSomeInstructions,
	})
	img.textSectIdx = 0
	seg.Sections = append(seg.Sections, section64{
		SectName: "__got",
		SegName:  "__TEXT",
		Addr:     gotAddr,
		Size:     gotSize,
		Offset:   uint32(gotOff),
		Align:    3,
		Flags:    sRegular,
	})
	img.gotSectIdx = 1
	img.textSegIdx = img.addCmd(seg)
}

func (img *Image) addLinkedit() {
	text := img.textSegment()
	start := text.VMAddr + text.VMSize
	off := text.FileOff + text.FileSize
	seg := &segmentCommand64{
		SegName:  "__LINKEDIT",
		VMAddr:   start,
		VMSize:   img.pageSize,
		FileOff:  off,
		FileSize: 0,
		MaxProt:  vmProtRead | vmProtWrite | vmProtExecute,
		InitProt: vmProtRead,
	}
	img.linkeditSegIdx = img.addCmd(seg)
	img.linkeditNextOffset = off
}

func (img *Image) addDyldInfo() {
	img.dyldInfoIdx = img.addCmd(&dyldInfoCommand{})
}

func (img *Image) addSymtab() {
	img.symtabIdx = img.addCmd(&symtabCommand{})
}

func (img *Image) addDysymtab() {
	img.dysymtabIdx = img.addCmd(&dysymtabCommand{})
}

func (img *Image) addDylinker() {
	img.dylinkerIdx = img.addCmd(&dylinkerCommand{Name: "/usr/lib/dyld"})
}

func (img *Image) addDylib() {
	img.dylibIdx = img.addCmd(&dylibCommand{
		Name:                 "/usr/lib/libSystem.B.dylib",
		CurrentVersion:       0x05090000,
		CompatibilityVersion: 0x00010000,
	})
}

func (img *Image) addMain() {
	img.mainIdx = img.addCmd(&entryPointCommand{})
}

func (img *Image) addVersionMin() {
	v := img.opts.Target.OSVersion
	if v.Major == 0 {
		v = engine.Version{Major: 11, Minor: 0, Patch: 0}
	}
	img.versionMinIdx = img.addCmd(&versionMinCommand{
		Version: v.Encode(),
		SDK:     v.Encode(),
	})
}

func (img *Image) addSourceVersion() {
	img.sourceVersionIdx = img.addCmd(&sourceVersionCommand{})
}

func (img *Image) addCodeSignature() {
	img.codeSigIdx = img.addCmd(&linkEditDataCommand{ID: lcCodeSignature})
}

// internString appends s (plus its NUL terminator) to the string table
// and returns its offset, reusing offset 0 for the empty string.
func (img *Image) internString(s string) uint32 {
	if s == "" {
		return 0
	}
	off := uint32(len(img.strtab))
	img.strtab = append(img.strtab, []byte(s)...)
	img.strtab = append(img.strtab, 0)
	return off
}
