package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/dshills/asmforge/internal/integration"
	"github.com/dshills/asmforge/internal/integration/toolchain"
)

// CheckCmd probes the assemblers.
type CheckCmd struct {
	Dialects []string `arg:"" optional:"" help:"Dialects to probe (default: all)"`
}

// Run executes the check command. It fails when an explicitly requested
// assembler is missing.
func (c *CheckCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	dialects := make([]toolchain.Dialect, 0, len(c.Dialects))
	for _, name := range c.Dialects {
		d, err := toolchain.ParseDialect(name)
		if err != nil {
			return err
		}
		dialects = append(dialects, d)
	}

	mgr := g.newManager()
	defer mgr.Close()

	results := mgr.Check(ctx, dialects...)
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status, version := "missing", "-"
		if r.Available {
			status, version = "ok", r.Version
			if version == "" {
				version = "unknown"
			}
		}
		rows = append(rows, []string{string(r.Dialect), mgr.Assembler().Executable(r.Dialect), status, version})
	}
	if err := g.printTable(g.Stdout, []string{"Dialect", "Executable", "Status", "Version"}, rows); err != nil {
		return err
	}

	if len(dialects) > 0 && lo.SomeBy(results, func(r integration.CheckResult) bool { return !r.Available }) {
		return ErrFailed
	}
	return nil
}

// DetectCmd reports the dialect a source file most likely uses.
type DetectCmd struct {
	File   string `arg:"" type:"existingfile" help:"Assembly source file"`
	Scores bool   `help:"Print the score of every dialect"`
}

// Run executes the detect command.
func (c *DetectCmd) Run(g *Globals) error {
	src, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	det := toolchain.DetectDialect(string(src))
	fmt.Fprintf(g.Stdout, "%s\t%.2f\n", det.Dialect, det.Confidence)
	if len(det.Matched) > 0 {
		fmt.Fprintf(g.Stdout, "matched: %s\n", strings.Join(det.Matched, ", "))
	}

	if c.Scores {
		dialects := lo.Keys(det.Scores)
		sort.Slice(dialects, func(i, j int) bool {
			if det.Scores[dialects[i]] != det.Scores[dialects[j]] {
				return det.Scores[dialects[i]] > det.Scores[dialects[j]]
			}
			return dialects[i] < dialects[j]
		})
		rows := lo.Map(dialects, func(d toolchain.Dialect, _ int) []string {
			return []string{string(d), strconv.Itoa(det.Scores[d])}
		})
		return g.printTable(g.Stdout, []string{"Dialect", "Score"}, rows)
	}
	return nil
}
