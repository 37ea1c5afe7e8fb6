package macho

import (
	"os"

	"github.com/xyproto/env/v2"

	"github.com/xyproto/macholink/internal/engine"
)

// OutputMode selects what kind of Mach-O the image produces. Only Exe is
// implemented incrementally. OpenPath rejects Lib with ErrWritingLibFiles;
// for Obj, flushModule writes only the load commands and header.
type OutputMode int

const (
	OutputExe OutputMode = iota
	OutputObj
	OutputLib
)

func (m OutputMode) String() string {
	switch m {
	case OutputExe:
		return "exe"
	case OutputObj:
		return "obj"
	case OutputLib:
		return "lib"
	default:
		return "unknown"
	}
}

// LinkOptions configures an Image. ProgramCodeSizeHint and SymbolCountHint
// size the initial __text and __got sections so that ordinary incremental
// growth is absorbed by §4.D/§4.B slack rather than forcing an immediate
// relocation.
type LinkOptions struct {
	Target engine.Target
	Mode   OutputMode

	ProgramCodeSizeHint uint64
	SymbolCountHint     uint64

	EmitDirectory string
	EmitSubPath   string

	UseExternalLinker   bool
	ExternalLinkerPath  string
	ExternalLinkerFlags []string

	FileMode os.FileMode

	Verbose bool
}

// ApplyEnvOverrides layers environment-variable overrides on top of
// explicitly-set options, the way the teacher's flag-based CLI lets
// environment state (FLAP_DEBUG) win over silence without requiring a
// flag on every invocation. Explicit programmatic settings are not
// clobbered unless the corresponding env var is actually present.
func (o *LinkOptions) ApplyEnvOverrides() {
	if env.Bool("MACHOLINK_VERBOSE") {
		o.Verbose = true
	}
	if hint := env.IntOr("MACHOLINK_PAGE_SIZE_HINT", 0); hint > 0 {
		o.ProgramCodeSizeHint = uint64(hint)
	}
	if path := env.StrOr("MACHOLINK_EXTERNAL_LINKER", ""); path != "" {
		o.ExternalLinkerPath = path
		o.UseExternalLinker = true
	}
}

func (o LinkOptions) pageSize() uint64 {
	return o.Target.Arch.PageSize()
}
