package macho

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/xyproto/macholink/internal/engine"
)

type fixedQuery struct {
	name    string
	align   uint64
	exports []Export
}

func (q fixedQuery) Name(DeclID) string                       { return q.name }
func (q fixedQuery) AbiAlignment(DeclID, engine.Target) uint64 { return q.align }
func (q fixedQuery) Exports(DeclID) []Export                  { return q.exports }

type fixedCodeGen struct {
	code   []byte
	fixups []PIEFixup
}

func (g fixedCodeGen) Generate(DeclID) (CodeGenResult, error) {
	return CodeGenResult{Code: g.code, Fixups: g.fixups}, nil
}

// TestFlushModuleEndToEnd mirrors scenario S1/S2: one _start decl is
// pushed through the update pipeline and the resulting file round-trips
// through the parser with its entry point and code signature intact.
func TestFlushModuleEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.out")
	opts := LinkOptions{
		Target:              engine.Target{Arch: engine.ArchX86_64, OS: engine.OSDarwin, OSVersion: engine.Version{Major: 11}},
		Mode:                OutputExe,
		ProgramCodeSizeHint: 4096,
		SymbolCountHint:     4,
		EmitSubPath:         "a.out",
		FileMode:            0o644,
	}

	img, lerr := OpenPath(path, opts)
	if lerr != nil {
		t.Fatalf("OpenPath: %v", lerr)
	}

	const start DeclID = 1
	img.AllocateDeclIndexes(start)
	query := fixedQuery{name: "_start", align: 1, exports: []Export{{Name: "_start", Linkage: LinkageStrong}}}
	gen := fixedCodeGen{code: []byte{0x31, 0xc0, 0xc3}} // xor eax,eax; ret

	if lerr := img.UpdateDecl(query, gen, start); lerr != nil {
		t.Fatalf("UpdateDecl: %v", lerr)
	}
	if lerr := img.FlushModule(); lerr != nil {
		t.Fatalf("FlushModule: %v", lerr)
	}
	if flags := img.ErrorFlags(); flags.NoEntryPointFound {
		t.Error("NoEntryPointFound set despite a _start export")
	}
	img.Deinit()

	parsed, lerr := ParseFromFile(path, opts)
	if lerr != nil {
		t.Fatalf("ParseFromFile: %v", lerr)
	}
	defer parsed.Deinit()

	if parsed.header.cpuType != cpuTypeX86_64 {
		t.Errorf("cpuType = %#x, want %#x", parsed.header.cpuType, cpuTypeX86_64)
	}
	if parsed.mainIdx == noCmdIdx {
		t.Fatal("LC_MAIN not found on reparse")
	}
	wantEntryOff := img.entryAddr - img.textSegment().VMAddr
	if got := parsed.mainCmd().EntryOff; got != wantEntryOff {
		t.Errorf("EntryOff = %#x, want %#x", got, wantEntryOff)
	}

	cs := parsed.codeSigCmd()
	if cs == nil || cs.DataOff == 0 || cs.DataSize == 0 {
		t.Fatal("code signature command missing or empty after flush")
	}
	magic := make([]byte, 4)
	if err := parsed.pread(magic, int64(cs.DataOff)); err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(magic); got != csMagicEmbeddedSignature {
		t.Errorf("code signature magic = %#x, want %#x", got, csMagicEmbeddedSignature)
	}
}

func TestCodeSignaturePaddingSizeGrowsWithFileLength(t *testing.T) {
	small := codeSignaturePaddingSize(0x1000, "a.out")
	large := codeSignaturePaddingSize(0x100000, "a.out")
	if large <= small {
		t.Errorf("padding did not grow with file length: small=%d large=%d", small, large)
	}
}
