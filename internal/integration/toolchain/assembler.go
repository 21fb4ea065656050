package toolchain

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/asmforge/internal/integration/process"
)

// DefaultLinker is the C compiler driver used as a linker front end.
const DefaultLinker = "gcc"

// Runner runs an external tool to completion. *process.Runner
// implements it.
type Runner interface {
	Run(ctx context.Context, spec process.Spec) (process.Result, error)
}

// BuildResult is the outcome of an assemble, link, or build.
type BuildResult struct {
	// Success holds when the tool exited 0 and reported no errors.
	Success bool

	ExitCode    int
	OutputFile  string
	ListingFile string
	Diagnostics []Diagnostic
	Stdout      string
	Stderr      string
	Duration    time.Duration
}

// Availability reports whether an assembler can be run.
type Availability struct {
	Available bool
	Version   string
	Path      string
}

// Assembler runs assemblers and the linker and turns their output into
// diagnostics. Builds are independent; concurrent calls each spawn
// their own process.
type Assembler struct {
	runner      Runner
	matchers    *MatcherRegistry
	executables map[Dialect]string
	linker      string
	versions    *lru.Cache[string, Availability]
	logger      *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithExecutable overrides the executable used for d.
func WithExecutable(d Dialect, path string) Option {
	return func(a *Assembler) {
		if path != "" {
			a.executables[d] = path
		}
	}
}

// WithLinker sets the linker front end.
func WithLinker(path string) Option {
	return func(a *Assembler) {
		if path != "" {
			a.linker = path
		}
	}
}

// WithMatchers sets the diagnostic matchers.
func WithMatchers(r *MatcherRegistry) Option {
	return func(a *Assembler) {
		if r != nil {
			a.matchers = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler creates an Assembler that spawns tools through runner.
func NewAssembler(runner Runner, opts ...Option) *Assembler {
	versions, _ := lru.New[string, Availability](32)
	a := &Assembler{
		runner:      runner,
		matchers:    defaultRegistry,
		executables: make(map[Dialect]string),
		linker:      DefaultLinker,
		versions:    versions,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Executable returns the executable configured for d.
func (a *Assembler) Executable(d Dialect) string {
	if exe, ok := a.executables[d]; ok {
		return exe
	}
	return DefaultAssemblerConfig(d).Executable
}

// Assemble assembles cfg.Source. Tool failures are reported in the
// result; the error is only for invalid configurations.
func (a *Assembler) Assemble(ctx context.Context, cfg BuildConfig) (BuildResult, error) {
	if err := validate(cfg); err != nil {
		return BuildResult{}, err
	}

	asm := cfg.Assembler
	exe := asm.Executable
	if exe == "" {
		exe = a.Executable(asm.Dialect)
	}
	args, output, listing := assemblerArgs(cfg)

	a.logger.Debug("assembling",
		zap.String("source", cfg.Source),
		zap.String("dialect", string(asm.Dialect)),
		zap.String("executable", exe),
		zap.Strings("args", args))

	run, err := a.runner.Run(ctx, process.Spec{Name: string(asm.Dialect), Path: exe, Args: args})
	if err != nil {
		a.logger.Warn("assembler failed to run", zap.String("executable", exe), zap.Error(err))
		return spawnFailure(cfg.Source, asm.Dialect, "Failed to run assembler", err, run.Duration), nil
	}

	// Most assemblers report on stderr; it goes first.
	diags := a.matchers.Parse(run.Stderr+"\n"+run.Stdout, asm.Dialect, cfg.Source)
	res := BuildResult{
		Success:     run.ExitCode == 0 && !HasErrors(diags),
		ExitCode:    run.ExitCode,
		ListingFile: listing,
		Diagnostics: diags,
		Stdout:      run.Stdout,
		Stderr:      run.Stderr,
		Duration:    run.Duration,
	}
	if run.ExitCode == 0 {
		res.OutputFile = output
	}

	a.logger.Info("assembled",
		zap.String("source", cfg.Source),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("errors", CountBySeverity(diags, SeverityError)),
		zap.Int("warnings", CountBySeverity(diags, SeverityWarning)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// Link links objects into output with the linker front end. Linker
// messages are parsed with the GAS matcher.
func (a *Assembler) Link(ctx context.Context, objects []string, output string, flags []string) (BuildResult, error) {
	if len(objects) == 0 {
		return BuildResult{}, ErrNoObjects
	}

	args := append([]string{"-o", output}, flags...)
	args = append(args, objects...)

	a.logger.Debug("linking", zap.String("linker", a.linker), zap.Strings("args", args))

	run, err := a.runner.Run(ctx, process.Spec{Name: "linker", Path: a.linker, Args: args})
	if err != nil {
		a.logger.Warn("linker failed to run", zap.String("linker", a.linker), zap.Error(err))
		return spawnFailure(objects[0], DialectGAS, "Linker failed", err, run.Duration), nil
	}

	diags := a.matchers.Parse(run.Stderr, DialectGAS, objects[0])
	res := BuildResult{
		Success:     run.ExitCode == 0 && !HasErrors(diags),
		ExitCode:    run.ExitCode,
		Diagnostics: diags,
		Stdout:      run.Stdout,
		Stderr:      run.Stderr,
		Duration:    run.Duration,
	}
	if run.ExitCode == 0 {
		res.OutputFile = output
	}
	return res, nil
}

// Build assembles cfg.Source and, when cfg.Link is set and assembly
// succeeded, links the object file. The combined result carries the
// diagnostics and output of both steps.
func (a *Assembler) Build(ctx context.Context, cfg BuildConfig) (BuildResult, error) {
	res, err := a.Assemble(ctx, cfg)
	if err != nil || !cfg.Link || !res.Success {
		return res, err
	}

	exe := cfg.Executable
	if exe == "" {
		exe = strings.TrimSuffix(res.OutputFile, filepath.Ext(res.OutputFile))
		if exe == res.OutputFile {
			exe += ".out"
		}
	}

	linked, err := a.Link(ctx, []string{res.OutputFile}, exe, cfg.LinkerFlags)
	if err != nil {
		return res, err
	}

	return BuildResult{
		Success:     linked.Success,
		ExitCode:    linked.ExitCode,
		OutputFile:  linked.OutputFile,
		ListingFile: res.ListingFile,
		Diagnostics: append(res.Diagnostics, linked.Diagnostics...),
		Stdout:      joinOutput(res.Stdout, linked.Stdout),
		Stderr:      joinOutput(res.Stderr, linked.Stderr),
		Duration:    res.Duration + linked.Duration,
	}, nil
}

// CheckAssembler runs the assembler for d with --version. Successful
// probes are cached per executable.
func (a *Assembler) CheckAssembler(ctx context.Context, d Dialect) Availability {
	exe := a.Executable(d)
	if cached, ok := a.versions.Get(exe); ok {
		return cached
	}

	run, err := a.runner.Run(ctx, process.Spec{Name: string(d), Path: exe, Args: []string{"--version"}})
	if err != nil {
		a.logger.Debug("assembler unavailable", zap.String("executable", exe), zap.Error(err))
		return Availability{}
	}

	out := run.Stdout
	if strings.TrimSpace(out) == "" {
		out = run.Stderr
	}
	avail := Availability{Available: true, Version: extractVersion(out), Path: exe}
	a.versions.Add(exe, avail)
	return avail
}

// GetVersion returns the version of the assembler for d, or "unknown".
func (a *Assembler) GetVersion(ctx context.Context, d Dialect) string {
	if v := a.CheckAssembler(ctx, d).Version; v != "" {
		return v
	}
	return "unknown"
}

// ForgetVersions drops all cached probe results.
func (a *Assembler) ForgetVersions() {
	a.versions.Purge()
}

// AssemblerArgs returns the full argument list used to assemble cfg.
func AssemblerArgs(cfg BuildConfig) []string {
	args, _, _ := assemblerArgs(cfg)
	return args
}

// assemblerArgs builds, in order: format flags, include paths, defines,
// extra flags, listing flags, output flags, and the source path.
func assemblerArgs(cfg BuildConfig) (args []string, output, listing string) {
	asm := cfg.Assembler
	dir := filepath.Dir(cfg.Source)
	base := strings.TrimSuffix(filepath.Base(cfg.Source), filepath.Ext(cfg.Source))

	args = FormatFlags(asm.Dialect, asm.Format)

	for _, inc := range asm.IncludePaths {
		args = append(args, "-I", inc)
	}

	keys := make([]string, 0, len(asm.Defines))
	for k := range asm.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := asm.Defines[k]
		switch {
		case asm.Dialect == DialectNASM && v == "":
			args = append(args, "-D", k)
		case asm.Dialect == DialectNASM:
			args = append(args, "-D", k+"="+v)
		case v == "":
			args = append(args, "--defsym="+k+"=1")
		default:
			args = append(args, "--defsym="+k+"="+v)
		}
	}

	args = append(args, asm.Flags...)

	if cfg.Listing {
		lst := filepath.Join(dir, base+".lst")
		switch asm.Dialect {
		case DialectNASM:
			args = append(args, "-l", lst)
			listing = lst
		case DialectGAS:
			args = append(args, "-al="+lst)
			listing = lst
		}
	}

	output = cfg.Output
	if output == "" {
		output = filepath.Join(dir, base+".o")
	}
	args = append(args, "-o", output, cfg.Source)
	return args, output, listing
}

func validate(cfg BuildConfig) error {
	if cfg.Source == "" {
		return ErrNoSource
	}
	if !cfg.Assembler.Dialect.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Assembler.Dialect)
	}
	if cfg.Assembler.Format != "" {
		if _, err := ParseFormat(string(cfg.Assembler.Format)); err != nil {
			return err
		}
	}
	return nil
}

func spawnFailure(file string, d Dialect, prefix string, err error, elapsed time.Duration) BuildResult {
	msg := err.Error()
	return BuildResult{
		ExitCode: -1,
		Diagnostics: []Diagnostic{{
			File:     file,
			Line:     1,
			Message:  prefix + ": " + msg,
			Severity: SeverityError,
			Dialect:  d,
			Raw:      msg,
		}},
		Stderr:   msg,
		Duration: elapsed,
	}
}

func joinOutput(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)version\s+(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)v(\d+\.\d+(?:\.\d+)?)`),
}

const maxVersionLen = 50

// extractVersion pulls a dotted version number out of --version output,
// falling back to the first line.
func extractVersion(out string) string {
	for _, re := range versionPatterns {
		if m := re.FindStringSubmatch(out); m != nil {
			return m[1]
		}
	}
	first, _, _ := strings.Cut(out, "\n")
	first = strings.TrimSpace(first)
	if len(first) > maxVersionLen {
		first = first[:maxVersionLen]
	}
	return first
}
