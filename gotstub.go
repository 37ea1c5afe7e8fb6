package macho

import (
	"encoding/binary"

	"github.com/xyproto/macholink/internal/engine"
)

// retARM64X28 is "ret x28" (RET with Rn=x28 instead of the default x30),
// used so the GOT stub never touches the link register.
const retARM64X28 uint32 = 0xd65f0380

// writeOffsetTableEntry implements spec.md §4.E's GOT entry write: an
// 8-byte, position-independent stub that loads img.got[index] into a
// scratch register and returns.
func (img *Image) writeOffsetTableEntry(index int) *LinkError {
	got := img.gotSection()
	slotVaddr := got.Addr + uint64(index)*8
	target := img.got[index]

	var stub [8]byte
	switch img.opts.Target.Arch {
	case engine.ArchX86_64:
		// lea rax, [rip + imm32]; ret
		nextInstr := slotVaddr + 7
		imm32 := uint32(target - nextInstr)
		stub[0], stub[1], stub[2] = 0x48, 0x8d, 0x05
		binary.LittleEndian.PutUint32(stub[3:7], imm32)
		stub[7] = 0xc3
	case engine.ArchARM64:
		// adr x0, #-disp; ret x28
		imm21 := int32(target - slotVaddr)
		instr := encodeADR(0, imm21)
		binary.LittleEndian.PutUint32(stub[0:4], instr)
		binary.LittleEndian.PutUint32(stub[4:8], retARM64X28)
	default:
		return ErrUnsupportedMachOArchitecture
	}

	off := uint32(got.Offset) + uint32(index)*8
	if err := img.pwriteAll(stub[:], int64(off)); err != nil {
		return newFatal(CategoryIO, "write GOT entry %d: %v", index, err)
	}
	return nil
}

// encodeADR encodes the aarch64 ADR instruction (label = PC + imm, 21-bit
// signed immediate split across immhi/immlo) targeting register rd.
func encodeADR(rd uint8, imm21 int32) uint32 {
	u := uint32(imm21) & 0x1fffff
	immlo := u & 0x3
	immhi := (u >> 2) & 0x7ffff
	return (immlo << 29) | (0b10000 << 24) | (immhi << 5) | uint32(rd)
}

// encodeB encodes the aarch64 unconditional branch instruction used for
// PIE fixups (spec.md §4.E step 5, scenario S5): a 26-bit signed word
// displacement from the instruction's own address.
func encodeB(wordDisp int32) uint32 {
	return 0x14000000 | (uint32(wordDisp) & 0x3ffffff)
}

// applyPIEFixups patches every pending fixup from img.pieFixups into code
// in place, given the vm-address code will be written at (spec.md §4.E
// step 5). code is mutated in place; only an error is returned.
func (img *Image) applyPIEFixups(code []byte, vaddr uint64) *LinkError {
	for _, f := range img.pieFixups {
		this := vaddr + uint64(f.StartOffset)
		switch img.opts.Target.Arch {
		case engine.ArchX86_64:
			loc := f.StartOffset + f.Length - 4
			if loc < 0 || loc+4 > len(code) {
				return newFatal(CategoryPerDecl, "fixup at %d out of bounds", f.StartOffset)
			}
			disp := uint32(f.Target - this - uint64(f.Length))
			binary.LittleEndian.PutUint32(code[loc:loc+4], disp)
		case engine.ArchARM64:
			if f.StartOffset < 0 || f.StartOffset+4 > len(code) {
				return newFatal(CategoryPerDecl, "fixup at %d out of bounds", f.StartOffset)
			}
			wordDisp := int32((int64(f.Target) - int64(this)) / 4)
			binary.LittleEndian.PutUint32(code[f.StartOffset:f.StartOffset+4], encodeB(wordDisp))
		default:
			return ErrUnsupportedMachOArchitecture
		}
	}
	return nil
}
