package macho

import (
	"os"

	"github.com/xyproto/macholink/internal/engine"
)

// Image is the mutable in-memory model of one incrementally-linked
// Mach-O output file (spec.md §3). There is exactly one Image per output
// in flight, and it owns the backing file handle for the link's lifetime.
type Image struct {
	opts LinkOptions

	file *os.File
	fd   int

	pageSize uint64

	header struct {
		cpuType, cpuSubtype uint32
		fileType            uint32
		flags               uint32
	}

	cmds []loadCommand

	pagezeroIdx      int
	textSegIdx       int
	linkeditSegIdx   int
	dyldInfoIdx      int
	symtabIdx        int
	dysymtabIdx      int
	dylinkerIdx      int
	dylibIdx         int
	mainIdx          int
	versionMinIdx    int
	sourceVersionIdx int
	codeSigIdx       int

	textSectIdx int // index within __TEXT.Sections
	gotSectIdx  int

	locals  []nlist64
	globals []nlist64
	undefs  []nlist64

	strtab []byte

	got []uint64 // logical target vm-address per GOT slot

	localFreeList  []int
	globalFreeList []int
	gotFreeList    []int

	blocks            map[DeclID]*textBlock
	textBlockFreeList []DeclID
	firstTextBlock    DeclID
	lastTextBlock     DeclID

	declExports map[DeclID][]*Export

	entryAddr    uint64
	hasEntryAddr bool

	linkeditNextOffset uint64

	cmdTableDirty bool
	errorFlags    ErrorFlags
	failures      *FailureMap

	pieFixups []PIEFixup // shared scratch, valid only within one updateDecl call (spec.md §5)
}

const noCmdIdx = -1

// OpenPath opens (or creates) the output file read-write without
// truncation, so later writes overwrite it in place, and builds a fresh
// in-memory image with the canonical load-command set (spec.md §4.A).
// Load commands already present in the file are not read back.
func OpenPath(path string, opts LinkOptions) (*Image, *LinkError) {
	if opts.Mode == OutputLib {
		return nil, ErrWritingLibFiles
	}
	switch opts.Target.Arch {
	case engine.ArchX86_64, engine.ArchARM64:
	default:
		return nil, ErrUnsupportedMachOArchitecture
	}

	f, fd, err := openImageFile(path, opts.FileMode)
	if err != nil {
		return nil, newFatal(CategoryIO, "open %s: %v", path, err)
	}

	img := &Image{
		opts:           opts,
		file:           f,
		fd:             fd,
		pageSize:       opts.pageSize(),
		pagezeroIdx:    noCmdIdx,
		textSegIdx:     noCmdIdx,
		linkeditSegIdx: noCmdIdx,
		dyldInfoIdx:    noCmdIdx,
		symtabIdx:      noCmdIdx,
		dysymtabIdx:    noCmdIdx,
		dylinkerIdx:    noCmdIdx,
		dylibIdx:       noCmdIdx,
		mainIdx:        noCmdIdx,
		versionMinIdx:  noCmdIdx,
		sourceVersionIdx: noCmdIdx,
		codeSigIdx:     noCmdIdx,
		blocks:         make(map[DeclID]*textBlock),
		declExports:    make(map[DeclID][]*Export),
		failures:       newFailureMap(),
	}

	// Invariant 1: local symbol index 0 is always the null symbol.
	img.locals = append(img.locals, nlist64{})
	// Invariant 2: string table offset 0 is the empty string.
	img.strtab = append(img.strtab, 0)

	if lerr := img.populateMissingMetadata(); lerr != nil {
		return nil, lerr
	}
	return img, nil
}

// Deinit releases the image's file handle. It does not flush.
func (img *Image) Deinit() error {
	return img.file.Close()
}

// ErrorFlags returns the cumulative error-flags struct (spec.md §3, §6).
func (img *Image) ErrorFlags() ErrorFlags { return img.errorFlags }

// Failures returns the per-decl failure map accumulated so far.
func (img *Image) Failures() *FailureMap { return img.failures }

func (img *Image) segment(name string) *segmentCommand64 {
	var idx int
	switch name {
	case "__PAGEZERO":
		idx = img.pagezeroIdx
	case "__TEXT":
		idx = img.textSegIdx
	case "__LINKEDIT":
		idx = img.linkeditSegIdx
	default:
		return nil
	}
	if idx == noCmdIdx {
		return nil
	}
	return img.cmds[idx].(*segmentCommand64)
}

func (img *Image) textSegment() *segmentCommand64 { return img.segment("__TEXT") }
func (img *Image) linkeditSegment() *segmentCommand64 { return img.segment("__LINKEDIT") }

func (img *Image) textSection() *section64 {
	return &img.textSegment().Sections[img.textSectIdx]
}

func (img *Image) gotSection() *section64 {
	return &img.textSegment().Sections[img.gotSectIdx]
}

func (img *Image) symtabCmd() *symtabCommand { return img.cmds[img.symtabIdx].(*symtabCommand) }
func (img *Image) dysymtabCmd() *dysymtabCommand {
	return img.cmds[img.dysymtabIdx].(*dysymtabCommand)
}
func (img *Image) dyldInfoCmd() *dyldInfoCommand { return img.cmds[img.dyldInfoIdx].(*dyldInfoCommand) }
func (img *Image) mainCmd() *entryPointCommand   { return img.cmds[img.mainIdx].(*entryPointCommand) }
func (img *Image) codeSigCmd() *linkEditDataCommand {
	if img.codeSigIdx == noCmdIdx {
		return nil
	}
	return img.cmds[img.codeSigIdx].(*linkEditDataCommand)
}

// GetDeclVAddr returns decl's current text vm-address (spec.md §4.A,
// §6 "supplemented features").
func (img *Image) GetDeclVAddr(decl DeclID) (uint64, *LinkError) {
	b := img.blocks[decl]
	if b == nil || b.Size == 0 {
		return 0, newDeclError("decl %d has no text block yet", decl)
	}
	return img.vaddrOf(decl), nil
}

// AllocateDeclIndexes reserves decl's local symbol and GOT slots
// (spec.md §4.A, §4.E). Safe to call repeatedly; a no-op once decl
// already has indexes.
func (img *Image) AllocateDeclIndexes(decl DeclID) {
	img.allocateDeclIndexes(decl)
}

// UpdateDecl regenerates decl's code through gen, places or relocates
// its text block, applies PIE fixups, writes the bytes, and refreshes
// its exports (spec.md §4.A, §4.E).
func (img *Image) UpdateDecl(query DeclQuery, gen CodeGenerator, decl DeclID) *LinkError {
	return img.updateDecl(query, gen, decl)
}

// UpdateDeclExports refreshes decl's export records (spec.md §4.A,
// §4.E), independent of a code update.
func (img *Image) UpdateDeclExports(decl DeclID, exports []Export) *LinkError {
	return img.updateDeclExports(decl, exports)
}

// DeleteExport returns e's global symbol slot to the free list
// (spec.md §4.A, §4.E).
func (img *Image) DeleteExport(e *Export) {
	img.deleteExport(e)
}

// FreeDecl removes decl's text block and returns its symbol/GOT slots to
// their free lists (spec.md §4.A, §4.E).
func (img *Image) FreeDecl(decl DeclID) {
	img.freeDecl(decl)
}

// Flush is an alias for FlushModule (spec.md §4.A lists both names for
// the same write-everything-dirty entry point).
func (img *Image) Flush() *LinkError {
	return img.flushModule()
}

// FlushModule writes every dirty piece of the image: export trie,
// symbol table, string table, code-signature padding, load commands and
// header if dirty, and finally the ad-hoc code signature (spec.md §4.E,
// §4.F, §5).
func (img *Image) FlushModule() *LinkError {
	return img.flushModule()
}
