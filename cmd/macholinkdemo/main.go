// Command macholinkdemo drives the incremental linker core end to end:
// open an output image, push a single `_start` decl through the update
// pipeline, and flush. It exists to exercise macho.Image the way a real
// driver (cache manifest, module database, code generator) would, not
// as a production tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/macholink"
	"github.com/xyproto/macholink/internal/engine"
)

func main() {
	var (
		archFlag    = flag.String("arch", "amd64", "target architecture (amd64, arm64)")
		outputFlag  = flag.String("o", "a.out", "output executable path")
		verboseFlag = flag.Bool("v", false, "verbose mode")
		extLinker   = flag.String("external-linker", "", "if set, run FlushWithExternalLinker against this tool instead")
	)
	flag.Parse()

	arch, err := engine.ParseArch(*archFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	opts := macho.LinkOptions{
		Target:              engine.Target{Arch: arch, OS: engine.OSDarwin, OSVersion: engine.Version{Major: 11}},
		Mode:                macho.OutputExe,
		ProgramCodeSizeHint: 4096,
		SymbolCountHint:     16,
		EmitSubPath:         *outputFlag,
		Verbose:             *verboseFlag,
		FileMode:            0o755,
	}
	opts.ApplyEnvOverrides()

	if *extLinker != "" {
		opts.ExternalLinkerPath = *extLinker
		if _, lerr := macho.FlushWithExternalLinker(flag.Args(), *outputFlag, opts); lerr != nil {
			fmt.Fprintln(os.Stderr, lerr)
			os.Exit(1)
		}
		return
	}

	img, lerr := macho.OpenPath(*outputFlag, opts)
	if lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(1)
	}
	defer img.Deinit()

	query := startQuery{arch: arch}
	gen := startCodeGen{arch: arch}

	const start macho.DeclID = 1
	img.AllocateDeclIndexes(start)
	if lerr := img.UpdateDecl(query, gen, start); lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(1)
	}

	if lerr := img.FlushModule(); lerr != nil {
		fmt.Fprintln(os.Stderr, lerr)
		os.Exit(1)
	}

	if flags := img.ErrorFlags(); flags.NoEntryPointFound {
		fmt.Fprintln(os.Stderr, "warning: no entry point found")
	}
	if n := img.Failures().Len(); n > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d decl(s) failed to link\n", n)
	}
}

// startQuery and startCodeGen are the demo's stand-ins for the
// module/declaration database and upstream code generator (spec.md §1
// out-of-scope collaborators).
type startQuery struct{ arch engine.Arch }

func (startQuery) Name(macho.DeclID) string { return "_start" }

func (startQuery) AbiAlignment(macho.DeclID, engine.Target) uint64 { return 1 }

func (startQuery) Exports(macho.DeclID) []macho.Export {
	return []macho.Export{{Name: "_start", Linkage: macho.LinkageStrong}}
}

type startCodeGen struct{ arch engine.Arch }

func (g startCodeGen) Generate(macho.DeclID) (macho.CodeGenResult, error) {
	switch g.arch {
	case engine.ArchX86_64:
		return macho.CodeGenResult{Code: []byte{0x31, 0xc0, 0xc3}}, nil // xor eax,eax; ret
	case engine.ArchARM64:
		return macho.CodeGenResult{Code: []byte{0x00, 0x00, 0x80, 0xd2, 0xc0, 0x03, 0x5f, 0xd6}}, nil // mov x0,#0; ret
	default:
		return macho.CodeGenResult{}, fmt.Errorf("unsupported architecture")
	}
}
