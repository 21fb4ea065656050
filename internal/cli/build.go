package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dshills/asmforge/internal/integration"
	"github.com/dshills/asmforge/internal/integration/toolchain"
)

// BuildCmd assembles one source file and optionally links it.
type BuildCmd struct {
	Source  string   `arg:"" type:"existingfile" help:"Assembly source file"`
	Dialect string   `short:"d" default:"auto" help:"Dialect (auto, nasm, gas, llvm, armasm)"`
	Format  string   `short:"f" help:"Output format (elf32, elf64, macho32, macho64, win32, win64, bin, coff)"`
	Arch    string   `help:"Target architecture (x86_64, arm64)"`
	Include []string `short:"I" help:"Include directory (repeatable)"`
	Define  []string `short:"D" help:"Preprocessor symbol NAME or NAME=VALUE (repeatable)"`
	Flag    []string `help:"Extra assembler flag (repeatable)"`
	Listing bool     `help:"Write a listing file next to the source"`
	Link    bool     `help:"Link the object file after a successful assembly"`
	Output  string   `short:"o" help:"Object file, or the executable with --link"`
	Watch   bool     `short:"w" help:"Rebuild whenever the source changes"`
}

// Run executes the build command.
func (c *BuildCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	mgr := g.newManager()
	defer mgr.Close()

	cfg, err := c.buildConfig(mgr)
	if err != nil {
		return err
	}

	if c.Watch {
		fmt.Fprintf(g.Stderr, "Watching %s (%s), Ctrl-C to stop\n", cfg.Source, cfg.Assembler.Dialect)
		err := mgr.Watch(ctx, cfg, func(res toolchain.BuildResult, err error) {
			if err != nil {
				fmt.Fprintf(g.Stderr, "build: %v\n", err)
				return
			}
			fmt.Fprintf(g.Stdout, "[%s] ", time.Now().Format(time.TimeOnly))
			g.printBuild(res)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	res, err := mgr.Build(ctx, cfg)
	if err != nil {
		return err
	}
	g.printBuild(res)
	if !res.Success {
		return ErrFailed
	}
	return nil
}

func (c *BuildCmd) buildConfig(mgr *integration.Manager) (toolchain.BuildConfig, error) {
	d, err := mgr.ResolveDialect(c.Source, c.Dialect)
	if err != nil {
		return toolchain.BuildConfig{}, err
	}
	cfg := mgr.BuildConfig(c.Source, d)

	asm := &cfg.Assembler
	if c.Format != "" {
		f, err := toolchain.ParseFormat(c.Format)
		if err != nil {
			return toolchain.BuildConfig{}, err
		}
		asm.Format = f
	}
	if c.Arch != "" {
		asm.Architecture = toolchain.Architecture(c.Arch)
	}
	asm.IncludePaths = append(asm.IncludePaths, c.Include...)
	asm.Flags = append(asm.Flags, c.Flag...)
	if len(c.Define) > 0 && asm.Defines == nil {
		asm.Defines = make(map[string]string, len(c.Define))
	}
	for _, def := range c.Define {
		name, value, _ := strings.Cut(def, "=")
		asm.Defines[name] = value
	}

	cfg.Listing = cfg.Listing || c.Listing
	cfg.Link = c.Link
	if c.Link {
		cfg.Executable = c.Output
	} else {
		cfg.Output = c.Output
	}
	return cfg, nil
}

func (g *Globals) printBuild(res toolchain.BuildResult) {
	if len(res.Diagnostics) > 0 {
		if g.Table {
			rows := lo.Map(res.Diagnostics, func(d toolchain.Diagnostic, _ int) []string {
				return []string{string(d.Severity), location(d), d.Message}
			})
			_ = g.printTable(g.Stdout, []string{"Severity", "Location", "Message"}, rows)
		} else {
			for _, d := range res.Diagnostics {
				fmt.Fprintln(g.Stdout, d.String())
			}
		}
	}

	errs := toolchain.CountBySeverity(res.Diagnostics, toolchain.SeverityError)
	warns := toolchain.CountBySeverity(res.Diagnostics, toolchain.SeverityWarning)
	if res.Success {
		fmt.Fprintf(g.Stdout, "ok %s (%s, %s)\n", res.OutputFile, plural(warns, "warning"), res.Duration.Round(time.Millisecond))
		return
	}

	if len(res.Diagnostics) == 0 && strings.TrimSpace(res.Stderr) != "" {
		fmt.Fprint(g.Stderr, res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			fmt.Fprintln(g.Stderr)
		}
	}
	fmt.Fprintf(g.Stdout, "FAILED exit %d (%s, %s)\n", res.ExitCode, plural(errs, "error"), plural(warns, "warning"))
}

func location(d toolchain.Diagnostic) string {
	loc := fmt.Sprintf("%s:%d", d.File, d.Line)
	if d.Column > 0 {
		loc += fmt.Sprintf(":%d", d.Column)
	}
	return loc
}

// LinkCmd links object files with the configured linker.
type LinkCmd struct {
	Objects []string `arg:"" type:"existingfile" help:"Object files"`
	Output  string   `short:"o" required:"" help:"Output executable"`
	Flag    []string `help:"Extra linker flag (repeatable)"`
}

// Run executes the link command.
func (c *LinkCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	mgr := g.newManager()
	defer mgr.Close()

	res, err := mgr.Link(ctx, c.Objects, c.Output, c.Flag)
	if err != nil {
		return err
	}
	g.printBuild(res)
	if !res.Success {
		return ErrFailed
	}
	return nil
}
