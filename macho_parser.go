package macho

import "encoding/binary"

// opaqueCommand preserves a load command this core does not model (a
// real external linker emits many more kinds than the canonical set in
// spec.md §4.D: LC_UUID, LC_BUILD_VERSION, LC_DYLD_CHAINED_FIXUPS, and
// so on) byte-exact across a parse/re-emit round trip.
type opaqueCommand struct {
	ID  uint32
	Raw []byte
}

func (c *opaqueCommand) cmdID() uint32  { return c.ID }
func (c *opaqueCommand) length() uint32 { return uint32(len(c.Raw)) }
func (c *opaqueCommand) encode() []byte { return c.Raw }

func getU32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func getU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

func nameFromBytes(b []byte) string {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}

func nameAtOffset(body []byte, off uint32) string {
	if int(off) >= len(body) {
		return ""
	}
	return nameFromBytes(body[off:])
}

// ParseFromFile implements spec.md §4.G: re-reads the header and load
// commands of an existing on-disk binary (typically just produced by an
// external full linker), re-discovering the canonical indices so the
// core can inject an ad-hoc signature. If no LC_CODE_SIGNATURE is
// present, one is appended, failing with ErrNotEnoughPadding if it would
// overflow into __text.
func ParseFromFile(path string, opts LinkOptions) (*Image, *LinkError) {
	f, fd, err := openImageFile(path, opts.FileMode)
	if err != nil {
		return nil, newFatal(CategoryIO, "open %s: %v", path, err)
	}

	img := &Image{
		opts:             opts,
		file:             f,
		fd:               fd,
		pageSize:         opts.pageSize(),
		pagezeroIdx:      noCmdIdx,
		textSegIdx:       noCmdIdx,
		linkeditSegIdx:   noCmdIdx,
		dyldInfoIdx:      noCmdIdx,
		symtabIdx:        noCmdIdx,
		dysymtabIdx:      noCmdIdx,
		dylinkerIdx:      noCmdIdx,
		dylibIdx:         noCmdIdx,
		mainIdx:          noCmdIdx,
		versionMinIdx:    noCmdIdx,
		sourceVersionIdx: noCmdIdx,
		codeSigIdx:       noCmdIdx,
		textSectIdx:      -1,
		gotSectIdx:       -1,
		blocks:           make(map[DeclID]*textBlock),
		declExports:      make(map[DeclID][]*Export),
		failures:         newFailureMap(),
	}

	header := make([]byte, machHeader64Size)
	if err := img.pread(header, 0); err != nil {
		return nil, newFatal(CategoryIO, "read header: %v", err)
	}
	if magic := getU32(header, 0); magic != magic64 {
		return nil, newFatal(CategoryConfiguration, "not a 64-bit little-endian mach-o (magic %#x)", magic)
	}
	img.header.cpuType = getU32(header, 4)
	img.header.cpuSubtype = getU32(header, 8)
	img.header.fileType = getU32(header, 12)
	ncmds := getU32(header, 16)
	sizeofcmds := getU32(header, 20)
	img.header.flags = getU32(header, 24)

	cmdBuf := make([]byte, sizeofcmds)
	if err := img.pread(cmdBuf, int64(machHeader64Size)); err != nil {
		return nil, newFatal(CategoryIO, "read load commands: %v", err)
	}

	off := 0
	for i := uint32(0); i < ncmds; i++ {
		if off+8 > len(cmdBuf) {
			return nil, newFatal(CategoryConfiguration, "truncated load command table")
		}
		id := getU32(cmdBuf, off)
		size := getU32(cmdBuf, off+4)
		if off+int(size) > len(cmdBuf) {
			return nil, newFatal(CategoryConfiguration, "load command %d overruns cmd table", i)
		}
		body := cmdBuf[off : off+int(size)]
		cmd := decodeLoadCommand(id, body)
		idx := img.addCmd(cmd)

		switch c := cmd.(type) {
		case *segmentCommand64:
			switch c.SegName {
			case "__PAGEZERO":
				img.pagezeroIdx = idx
			case "__TEXT":
				img.textSegIdx = idx
				for si := range c.Sections {
					switch c.Sections[si].SectName {
					case "__text":
						img.textSectIdx = si
					case "__got":
						img.gotSectIdx = si
					}
				}
			case "__LINKEDIT":
				img.linkeditSegIdx = idx
			}
		case *symtabCommand:
			img.symtabIdx = idx
		case *dysymtabCommand:
			img.dysymtabIdx = idx
		case *dyldInfoCommand:
			img.dyldInfoIdx = idx
		case *dylinkerCommand:
			img.dylinkerIdx = idx
		case *dylibCommand:
			img.dylibIdx = idx
		case *entryPointCommand:
			img.mainIdx = idx
		case *versionMinCommand:
			img.versionMinIdx = idx
		case *sourceVersionCommand:
			img.sourceVersionIdx = idx
		case *linkEditDataCommand:
			if c.ID == lcCodeSignature {
				img.codeSigIdx = idx
			}
		}
		off += int(size)
	}

	if img.linkeditSegIdx != noCmdIdx {
		seg := img.linkeditSegment()
		img.linkeditNextOffset = seg.FileOff + seg.FileSize
	}

	if img.codeSigIdx == noCmdIdx {
		if lerr := img.insertCodeSignatureCommand(); lerr != nil {
			return nil, lerr
		}
	}

	return img, nil
}

// insertCodeSignatureCommand implements spec.md §4.G: append a reserved
// LC_CODE_SIGNATURE, failing if growing the command table would overrun
// the start of __text.
func (img *Image) insertCodeSignatureCommand() *LinkError {
	newCmd := &linkEditDataCommand{ID: lcCodeSignature}
	total := machHeader64Size
	for _, c := range img.cmds {
		total += int(c.length())
	}
	total += int(newCmd.length())

	if img.textSectIdx >= 0 {
		if textOff := int(img.textSection().Offset); total > textOff {
			return ErrNotEnoughPadding
		}
	}

	img.codeSigIdx = img.addCmd(newCmd)
	img.cmdTableDirty = true
	return nil
}

func decodeLoadCommand(id uint32, body []byte) loadCommand {
	switch id {
	case lcSegment64:
		seg := &segmentCommand64{
			SegName:  nameFromBytes(body[8:24]),
			VMAddr:   getU64(body, 24),
			VMSize:   getU64(body, 32),
			FileOff:  getU64(body, 40),
			FileSize: getU64(body, 48),
			MaxProt:  getU32(body, 56),
			InitProt: getU32(body, 60),
			Flags:    getU32(body, 68),
		}
		nsects := getU32(body, 64)
		for i := uint32(0); i < nsects; i++ {
			sb := body[segmentCommand64HeaderSize+int(i)*section64Size:]
			seg.Sections = append(seg.Sections, section64{
				SectName:  nameFromBytes(sb[0:16]),
				SegName:   nameFromBytes(sb[16:32]),
				Addr:      getU64(sb, 32),
				Size:      getU64(sb, 40),
				Offset:    getU32(sb, 48),
				Align:     getU32(sb, 52),
				Reloff:    getU32(sb, 56),
				Nreloc:    getU32(sb, 60),
				Flags:     getU32(sb, 64),
				Reserved1: getU32(sb, 68),
				Reserved2: getU32(sb, 72),
				Reserved3: getU32(sb, 76),
			})
		}
		return seg
	case lcSymtab:
		return &symtabCommand{
			Symoff:  getU32(body, 8),
			Nsyms:   getU32(body, 12),
			Stroff:  getU32(body, 16),
			Strsize: getU32(body, 20),
		}
	case lcDysymtab:
		return &dysymtabCommand{
			ILocalSym:  getU32(body, 8),
			NLocalSym:  getU32(body, 12),
			IExtDefSym: getU32(body, 16),
			NExtDefSym: getU32(body, 20),
			IUndefSym:  getU32(body, 24),
			NUndefSym:  getU32(body, 28),
		}
	case lcDyldInfoOnly:
		return &dyldInfoCommand{
			ExportOff:  getU32(body, 40),
			ExportSize: getU32(body, 44),
		}
	case lcLoadDylinker:
		return &dylinkerCommand{Name: nameAtOffset(body, getU32(body, 8))}
	case lcLoadDylib:
		return &dylibCommand{
			Name:                 nameAtOffset(body, getU32(body, 8)),
			Timestamp:            getU32(body, 12),
			CurrentVersion:       getU32(body, 16),
			CompatibilityVersion: getU32(body, 20),
		}
	case lcMain:
		return &entryPointCommand{
			EntryOff:  getU64(body, 8),
			StackSize: getU64(body, 16),
		}
	case lcVersionMinMacOSX:
		return &versionMinCommand{
			Version: getU32(body, 8),
			SDK:     getU32(body, 12),
		}
	case lcSourceVersion:
		return &sourceVersionCommand{Version: getU64(body, 8)}
	case lcCodeSignature:
		return &linkEditDataCommand{
			ID:       id,
			DataOff:  getU32(body, 8),
			DataSize: getU32(body, 12),
		}
	default:
		return &opaqueCommand{ID: id, Raw: append([]byte(nil), body...)}
	}
}
