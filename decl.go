package macho

import "github.com/xyproto/macholink/internal/engine"

// DeclID identifies a top-level declaration. Identities are owned by the
// external module/declaration database (spec.md §1); the linker core only
// ever receives them back, never manufactures one itself.
type DeclID uint32

// noDecl is the sentinel DeclID meaning "no decl" — used for
// prev/next/head/tail links in the text block list (spec.md §3 invariant 4).
const noDecl DeclID = 0

// Linkage is the export linkage kind the module attaches to a decl
// (spec.md §4.E).
type Linkage int

const (
	LinkageInternal Linkage = iota
	LinkageStrong
	LinkageWeak
	LinkageLinkOnce
)

// ExportOptions carries the export-site options the module passes to
// updateDeclExports; Section, when set, must name "__text" or the export
// is recorded as a per-decl failure (spec.md §4.E).
type ExportOptions struct {
	Section string
}

// Export is the module-level export record from spec.md §3. GlobalSymIndex
// is optional: it is meaningful only while hasGlobalSymbol is set, since
// zero is itself a valid global symbol slot.
type Export struct {
	Name            string
	Linkage         Linkage
	Options         ExportOptions
	GlobalSymIndex  int
	hasGlobalSymbol bool
}

// PIEFixup is the transient per-updateDecl relocation record from
// spec.md §3: a reference at StartOffset within the decl's freshly
// generated code that must be patched to address Target once the decl's
// final vm-address is known. For aarch64, Length is always 4.
type PIEFixup struct {
	Target      uint64
	StartOffset int
	Length      int
}

// CodeGenResult is what the upstream code generator hands back for one
// decl (spec.md §6, input boundary).
type CodeGenResult struct {
	Code   []byte
	Fixups []PIEFixup
}

// CodeGenerator is the out-of-scope upstream code generator collaborator
// (spec.md §1). Generate returns either a populated CodeGenResult or an
// error describing why generation failed; a generation failure is
// recorded on the module and does not propagate (spec.md §4.E step 1).
type CodeGenerator interface {
	Generate(decl DeclID) (CodeGenResult, error)
}

// DeclQuery is the out-of-scope module/declaration database collaborator
// (spec.md §1, §6): decl identities, names, and ABI alignment.
type DeclQuery interface {
	Name(decl DeclID) string
	AbiAlignment(decl DeclID, target engine.Target) uint64
	Exports(decl DeclID) []Export
}
