package toolchain

import (
	"fmt"
	"strings"
)

// Dialect is an assembler syntax family.
type Dialect string

const (
	DialectNASM Dialect = "nasm"
	DialectGAS  Dialect = "gas"
	DialectLLVM Dialect = "llvm"
	DialectARM  Dialect = "armasm"
)

// Dialects lists every supported dialect in detection priority order.
var Dialects = []Dialect{DialectNASM, DialectGAS, DialectLLVM, DialectARM}

// ParseDialect parses a dialect name, case-insensitively.
func ParseDialect(s string) (Dialect, error) {
	d := Dialect(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, s)
	}
	return d, nil
}

// Valid reports whether d is a supported dialect.
func (d Dialect) Valid() bool {
	switch d {
	case DialectNASM, DialectGAS, DialectLLVM, DialectARM:
		return true
	}
	return false
}

// Architecture is a target instruction set.
type Architecture string

const (
	ArchX86     Architecture = "x86"
	ArchX86_64  Architecture = "x86_64"
	ArchARM     Architecture = "arm"
	ArchARM64   Architecture = "arm64"
	ArchRISCV32 Architecture = "riscv32"
	ArchRISCV64 Architecture = "riscv64"
)

// Format is an object file format.
type Format string

const (
	FormatELF32   Format = "elf32"
	FormatELF64   Format = "elf64"
	FormatMachO32 Format = "macho32"
	FormatMachO64 Format = "macho64"
	FormatWin32   Format = "win32"
	FormatWin64   Format = "win64"
	FormatBin     Format = "bin"
	FormatCOFF    Format = "coff"
)

// Formats lists every supported output format.
var Formats = []Format{
	FormatELF32, FormatELF64, FormatMachO32, FormatMachO64,
	FormatWin32, FormatWin64, FormatBin, FormatCOFF,
}

// ParseFormat parses an output format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// formatFlags maps dialect and format to the assembler's output format
// selection flags. An empty entry means the assembler's default.
var formatFlags = map[Dialect]map[Format][]string{
	DialectNASM: {
		FormatELF32:   {"-f", "elf32"},
		FormatELF64:   {"-f", "elf64"},
		FormatMachO32: {"-f", "macho32"},
		FormatMachO64: {"-f", "macho64"},
		FormatWin32:   {"-f", "win32"},
		FormatWin64:   {"-f", "win64"},
		FormatBin:     {"-f", "bin"},
		FormatCOFF:    {"-f", "coff"},
	},
	DialectGAS: {
		FormatELF32: {"--32"},
		FormatELF64: {"--64"},
	},
	DialectLLVM: {
		FormatELF32:   {"--filetype=obj", "-arch=x86"},
		FormatELF64:   {"--filetype=obj", "-arch=x86-64"},
		FormatMachO32: {"--filetype=obj", "-arch=x86"},
		FormatMachO64: {"--filetype=obj", "-arch=x86-64"},
		FormatWin32:   {"--filetype=obj"},
		FormatWin64:   {"--filetype=obj"},
	},
	DialectARM: {
		FormatELF32:   {"--target=arm-linux-gnueabihf"},
		FormatELF64:   {"--target=aarch64-linux-gnu"},
		FormatMachO64: {"--target=arm64-apple-darwin"},
		FormatWin64:   {"--target=aarch64-windows-msvc"},
	},
}

// FormatFlags returns a copy of the format selection flags for d and f.
func FormatFlags(d Dialect, f Format) []string {
	return append([]string(nil), formatFlags[d][f]...)
}

// AssemblerConfig describes how to invoke one assembler.
type AssemblerConfig struct {
	Dialect      Dialect
	Executable   string
	Architecture Architecture
	Format       Format
	Flags        []string
	IncludePaths []string

	// Defines are preprocessor symbols. An empty value means the symbol
	// is defined without a value.
	Defines map[string]string
}

// DefaultAssemblerConfig returns the stock configuration for d.
func DefaultAssemblerConfig(d Dialect) AssemblerConfig {
	cfg := AssemblerConfig{
		Dialect:      d,
		Architecture: ArchX86_64,
		Format:       FormatELF64,
	}
	switch d {
	case DialectNASM:
		cfg.Executable = "nasm"
		cfg.Flags = []string{"-g", "-F", "dwarf"}
	case DialectGAS:
		cfg.Executable = "as"
		cfg.Flags = []string{"--gdwarf-5"}
	case DialectLLVM:
		cfg.Executable = "llvm-mc"
		cfg.Flags = []string{"-g"}
	case DialectARM:
		cfg.Executable = "armasm"
		cfg.Architecture = ArchARM64
		cfg.Flags = []string{"-g"}
	default:
		cfg.Executable = string(d)
	}
	return cfg
}

// BuildConfig describes one build of a single source file.
type BuildConfig struct {
	Name   string
	Source string

	// Output is the object file. Defaults to <source dir>/<base>.o.
	Output string

	Assembler AssemblerConfig

	// Link runs the linker on the object file after a successful
	// assembly.
	Link        bool
	LinkerFlags []string

	// Executable is the linked output. Defaults to <source dir>/<base>.
	Executable string

	// Listing requests a listing file next to the source, for dialects
	// whose assembler can produce one.
	Listing bool
}
