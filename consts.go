package macho

import "github.com/blacktop/go-macho/types"

// Mach-O constants the image model and writer need. Header/load-command/
// cpu-type/code-signature values are defined in terms of the real typed
// constants from github.com/blacktop/go-macho/types rather than
// re-derived by hand; the struct layouts below (sizes, section/nlist bit
// values the pack's types package doesn't carry) are the core's own,
// sized for in-place incremental rewriting rather than one-shot decoding.

const (
	machHeader64Size = 32 // sizeof(mach_header_64)

	magic64 = uint32(types.Magic64)

	cpuTypeX86_64 = uint32(types.CPUAmd64)
	cpuTypeARM64  = uint32(types.CPUArm64)

	cpuSubtypeX86_64All = uint32(types.CPUSubtypeX8664All)
	cpuSubtypeARM64All  = uint32(types.CPUSubtypeArm64All)

	mhExecute = uint32(types.MH_EXECUTE)

	mhNoUndefs = uint32(types.NoUndefs)
	mhDyldLink = uint32(types.DyldLink)
	mhPIE      = uint32(types.PIE)

	vmProtNone    uint32 = 0x0
	vmProtRead    uint32 = 0x1
	vmProtWrite   uint32 = 0x2
	vmProtExecute uint32 = 0x4

	sRegular              uint32 = 0x0
	sAttrPureInstructions uint32 = 0x80000000
	sAttrSomeInstructions uint32 = 0x00000400

	nUndf uint8 = 0x0
	nExt  uint8 = 0x1
	nSect uint8 = 0xe

	nWeakRef uint16 = 0x0040

	referenceFlagUndefinedNonLazy uint16 = 0x0
	referenceFlagPrivateDefined   uint16 = 0x3
	referenceFlagDefined          uint16 = 0x2

	lcSegment64        = uint32(types.LC_SEGMENT_64)
	lcSymtab           = uint32(types.LC_SYMTAB)
	lcDysymtab         = uint32(types.LC_DYSYMTAB)
	lcLoadDylinker     = uint32(types.LC_LOAD_DYLINKER)
	lcLoadDylib        = uint32(types.LC_LOAD_DYLIB)
	lcMain             = uint32(types.LC_MAIN)
	lcSourceVersion    = uint32(types.LC_SOURCE_VERSION)
	lcCodeSignature    = uint32(types.LC_CODE_SIGNATURE)
	lcDyldInfoOnly     = uint32(types.LC_DYLD_INFO_ONLY)
	lcVersionMinMacOSX = uint32(types.LC_VERSION_MIN_MACOSX)

	nlist64Size = 16 // sizeof(struct nlist_64)

	csMagicEmbeddedSignature = uint32(types.CSMAGIC_EMBEDDED_SIGNATURE)
	csMagicCodeDirectory     = uint32(types.CSMAGIC_CODEDIRECTORY)
	csHashTypeSHA256         = uint8(types.CS_HASHTYPE_SHA256)
	csAdhoc                  = uint32(types.CS_ADHOC)
	csExecsegMainBinary      = uint64(types.CS_EXECSEG_MAIN_BINARY)
	csPageSizeLog2           uint8  = 12
	csPageSize               uint64 = uint64(types.CS_PAGE_SIZE)

	pageZeroSize uint64 = 0x100000000 // 4 GiB
	textVMAddr   uint64 = 0x100000000 // __TEXT starts where __PAGEZERO ends

	minTextCapacity uint64 = 64 * 4 / 3
)
