package macho

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDecodeLoadCommandUnknownPreservesBytes(t *testing.T) {
	body := []byte{0, 0, 0, 0, 16, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	cmd := decodeLoadCommand(0xdeadbeef, body)
	opaque, ok := cmd.(*opaqueCommand)
	if !ok {
		t.Fatalf("got %T, want *opaqueCommand", cmd)
	}
	if opaque.cmdID() != 0xdeadbeef {
		t.Errorf("cmdID() = %#x, want %#x", opaque.cmdID(), 0xdeadbeef)
	}
	if opaque.length() != uint32(len(body)) {
		t.Errorf("length() = %d, want %d", opaque.length(), len(body))
	}
	if string(opaque.encode()) != string(body) {
		t.Errorf("encode() did not round-trip the original bytes")
	}
}

func TestDecodeLoadCommandSegment64RoundTrips(t *testing.T) {
	original := &segmentCommand64{
		SegName: "__TEXT", VMAddr: 0x100000000, VMSize: 0x4000,
		FileOff: 0, FileSize: 0x4000, MaxProt: 7, InitProt: 5,
		Sections: []section64{
			{SectName: "__text", SegName: "__TEXT", Addr: 0x100001000, Size: 0x10, Offset: 0x1000, Align: 2},
		},
	}
	encoded := original.encode()
	decoded := decodeLoadCommand(lcSegment64, encoded).(*segmentCommand64)

	// Flags isn't set on the original and SegName's trailing NUL padding
	// is implementation detail, so compare everything else exactly.
	if diff := cmp.Diff(original, decoded, cmpopts.IgnoreFields(segmentCommand64{}, "Flags")); diff != "" {
		t.Errorf("segment did not round-trip through decodeLoadCommand (-want +got):\n%s", diff)
	}
}

func TestNameFromBytesStopsAtNUL(t *testing.T) {
	b := make([]byte, 16)
	copy(b, "__DATA")
	if got := nameFromBytes(b); got != "__DATA" {
		t.Errorf("nameFromBytes = %q, want %q", got, "__DATA")
	}
}

func TestInsertCodeSignatureCommandFailsWhenNoRoom(t *testing.T) {
	img := &Image{
		textSectIdx: 0,
		cmds: []loadCommand{
			&segmentCommand64{
				SegName: "__TEXT",
				Sections: []section64{
					{SectName: "__text", Offset: 8}, // absurdly tight: no room for even the header
				},
			},
		},
	}
	if lerr := img.insertCodeSignatureCommand(); lerr == nil {
		t.Fatal("expected ErrNotEnoughPadding")
	}
}

func TestInsertCodeSignatureCommandSucceeds(t *testing.T) {
	img := &Image{
		textSectIdx: 0,
		cmds: []loadCommand{
			&segmentCommand64{
				SegName: "__TEXT",
				Sections: []section64{
					{SectName: "__text", Offset: 0x4000},
				},
			},
		},
	}
	if lerr := img.insertCodeSignatureCommand(); lerr != nil {
		t.Fatalf("insertCodeSignatureCommand: %v", lerr)
	}
	if img.codeSigIdx == noCmdIdx {
		t.Fatal("codeSigIdx not set")
	}
	if !img.cmdTableDirty {
		t.Error("cmdTableDirty not set")
	}
}
