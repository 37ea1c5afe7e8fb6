package macho

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FlushWithExternalLinker implements the full-link path named in
// spec.md §1/§6: spawn an external system linker over the given object
// files, then use the parser and writer to inject an ad-hoc code
// signature into its output (spec.md §4.G, scenario S6). Mirrors the
// teacher's shell-out-and-check-CombinedOutput style for invoking
// external tools (codegen_macho_writer.go's "ldid -S" call).
func FlushWithExternalLinker(objPaths []string, outputPath string, opts LinkOptions) (*Image, *LinkError) {
	linkerPath := opts.ExternalLinkerPath
	if linkerPath == "" {
		linkerPath = "cc"
	}

	args := append([]string{}, opts.ExternalLinkerFlags...)
	args = append(args, objPaths...)
	args = append(args, "-o", outputPath)

	cmd := exec.Command(linkerPath, args...)
	output, err := cmd.CombinedOutput()
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "DEBUG: external linker: %s %v\n%s\n", linkerPath, args, output)
	}
	if err != nil {
		return nil, newFatal(CategoryIO, "external linker %s failed: %v\n%s", linkerPath, err, output)
	}

	img, lerr := ParseFromFile(outputPath, opts)
	if lerr != nil {
		return nil, lerr
	}

	dataOff, dataSize, lerr := img.reserveCodeSignaturePadding()
	if lerr != nil {
		return nil, lerr
	}
	if lerr := img.writeLoadCommandsAndHeader(); lerr != nil {
		return nil, lerr
	}
	img.cmdTableDirty = false

	identifier := opts.EmitSubPath
	if identifier == "" {
		identifier = filepath.Base(outputPath)
	}
	if lerr := img.writeCodeSignature(identifier, dataOff, dataSize); lerr != nil {
		return nil, lerr
	}
	return img, nil
}
