package macho

import "encoding/binary"

// loadCommand is satisfied by every concrete command type the image
// keeps in its ordered command sequence (spec.md §3). Encoding is
// little-endian throughout, matching Darwin's on-disk byte order.
type loadCommand interface {
	cmdID() uint32
	length() uint32
	encode() []byte
}

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func putName16(b []byte, off int, name string) {
	copy(b[off:off+16], name)
}

// section64 is a single Mach-O 64-bit section record, always embedded
// inside a segmentCommand64.
type section64 struct {
	SectName  string
	SegName   string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

const section64Size = 80

func (s *section64) encode() []byte {
	b := make([]byte, section64Size)
	putName16(b, 0, s.SectName)
	putName16(b, 16, s.SegName)
	putU64(b, 32, s.Addr)
	putU64(b, 40, s.Size)
	putU32(b, 48, s.Offset)
	putU32(b, 52, s.Align)
	putU32(b, 56, s.Reloff)
	putU32(b, 60, s.Nreloc)
	putU32(b, 64, s.Flags)
	putU32(b, 68, s.Reserved1)
	putU32(b, 72, s.Reserved2)
	putU32(b, 76, s.Reserved3)
	return b
}

// segmentCommand64 is LC_SEGMENT_64: a mapping of a file range to a vm
// range, plus zero or more sections.
type segmentCommand64 struct {
	SegName  string
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	Flags    uint32
	Sections []section64
}

const segmentCommand64HeaderSize = 72

func (s *segmentCommand64) cmdID() uint32 { return lcSegment64 }

func (s *segmentCommand64) length() uint32 {
	return uint32(segmentCommand64HeaderSize + len(s.Sections)*section64Size)
}

func (s *segmentCommand64) encode() []byte {
	b := make([]byte, s.length())
	putU32(b, 0, s.cmdID())
	putU32(b, 4, s.length())
	putName16(b, 8, s.SegName)
	putU64(b, 24, s.VMAddr)
	putU64(b, 32, s.VMSize)
	putU64(b, 40, s.FileOff)
	putU64(b, 48, s.FileSize)
	putU32(b, 56, s.MaxProt)
	putU32(b, 60, s.InitProt)
	putU32(b, 64, uint32(len(s.Sections)))
	putU32(b, 68, s.Flags)
	off := segmentCommand64HeaderSize
	for i := range s.Sections {
		copy(b[off:], s.Sections[i].encode())
		off += section64Size
	}
	return b
}

func (s *segmentCommand64) section(name string) *section64 {
	for i := range s.Sections {
		if s.Sections[i].SectName == name {
			return &s.Sections[i]
		}
	}
	return nil
}

// symtabCommand is LC_SYMTAB.
type symtabCommand struct {
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

func (c *symtabCommand) cmdID() uint32  { return lcSymtab }
func (c *symtabCommand) length() uint32 { return 24 }
func (c *symtabCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, c.Symoff)
	putU32(b, 12, c.Nsyms)
	putU32(b, 16, c.Stroff)
	putU32(b, 20, c.Strsize)
	return b
}

// dysymtabCommand is LC_DYSYMTAB. Only the three contiguous symbol
// ranges (spec.md §3 invariant 3) are meaningful here; the TOC/module
// table/relocation fields are always zero because the core never emits
// relocatable objects.
type dysymtabCommand struct {
	ILocalSym  uint32
	NLocalSym  uint32
	IExtDefSym uint32
	NExtDefSym uint32
	IUndefSym  uint32
	NUndefSym  uint32
}

func (c *dysymtabCommand) cmdID() uint32  { return lcDysymtab }
func (c *dysymtabCommand) length() uint32 { return 80 }
func (c *dysymtabCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, c.ILocalSym)
	putU32(b, 12, c.NLocalSym)
	putU32(b, 16, c.IExtDefSym)
	putU32(b, 20, c.NExtDefSym)
	putU32(b, 24, c.IUndefSym)
	putU32(b, 28, c.NUndefSym)
	// remaining 12 uint32 fields (toc..nlocrel) are left zero.
	return b
}

// dyldInfoCommand is LC_DYLD_INFO_ONLY. Only export_off/export_size are
// ever populated by this core (spec.md §4.F); rebase/bind/lazy-bind are
// unused because the core links against a fixed, pre-resolved libSystem
// import and performs no dyld rebasing.
type dyldInfoCommand struct {
	ExportOff  uint32
	ExportSize uint32
}

func (c *dyldInfoCommand) cmdID() uint32  { return lcDyldInfoOnly }
func (c *dyldInfoCommand) length() uint32 { return 48 }
func (c *dyldInfoCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	// rebase_off/size, bind_off/size, weak_bind_off/size, lazy_bind_off/size: zero
	putU32(b, 40, c.ExportOff)
	putU32(b, 44, c.ExportSize)
	return b
}

// dylinkerCommand is LC_LOAD_DYLINKER.
type dylinkerCommand struct {
	Name string
}

func (c *dylinkerCommand) cmdID() uint32 { return lcLoadDylinker }
func (c *dylinkerCommand) length() uint32 {
	return align8(uint32(12 + len(c.Name) + 1))
}
func (c *dylinkerCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, 12)
	copy(b[12:], c.Name)
	return b
}

// dylibCommand is LC_LOAD_DYLIB.
type dylibCommand struct {
	Name                 string
	Timestamp            uint32
	CurrentVersion       uint32
	CompatibilityVersion uint32
}

func (c *dylibCommand) cmdID() uint32 { return lcLoadDylib }
func (c *dylibCommand) length() uint32 {
	return align8(uint32(24 + len(c.Name) + 1))
}
func (c *dylibCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, 24)
	putU32(b, 12, c.Timestamp)
	putU32(b, 16, c.CurrentVersion)
	putU32(b, 20, c.CompatibilityVersion)
	copy(b[24:], c.Name)
	return b
}

// entryPointCommand is LC_MAIN.
type entryPointCommand struct {
	EntryOff  uint64
	StackSize uint64
}

func (c *entryPointCommand) cmdID() uint32  { return lcMain }
func (c *entryPointCommand) length() uint32 { return 24 }
func (c *entryPointCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU64(b, 8, c.EntryOff)
	putU64(b, 16, c.StackSize)
	return b
}

// versionMinCommand is LC_VERSION_MIN_MACOSX (or the equivalent per-OS
// command; only macOS is supported, so the cmd id is fixed).
type versionMinCommand struct {
	Version uint32
	SDK     uint32
}

func (c *versionMinCommand) cmdID() uint32  { return lcVersionMinMacOSX }
func (c *versionMinCommand) length() uint32 { return 16 }
func (c *versionMinCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, c.Version)
	putU32(b, 12, c.SDK)
	return b
}

// sourceVersionCommand is LC_SOURCE_VERSION.
type sourceVersionCommand struct {
	Version uint64
}

func (c *sourceVersionCommand) cmdID() uint32  { return lcSourceVersion }
func (c *sourceVersionCommand) length() uint32 { return 16 }
func (c *sourceVersionCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU64(b, 8, c.Version)
	return b
}

// linkEditDataCommand is used for LC_CODE_SIGNATURE.
type linkEditDataCommand struct {
	ID       uint32
	DataOff  uint32
	DataSize uint32
}

func (c *linkEditDataCommand) cmdID() uint32  { return c.ID }
func (c *linkEditDataCommand) length() uint32 { return 16 }
func (c *linkEditDataCommand) encode() []byte {
	b := make([]byte, c.length())
	putU32(b, 0, c.cmdID())
	putU32(b, 4, c.length())
	putU32(b, 8, c.DataOff)
	putU32(b, 12, c.DataSize)
	return b
}

func align8(v uint32) uint32 {
	return (v + 7) &^ 7
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}
