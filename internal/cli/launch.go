package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/samber/lo"

	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/integration/gdb"
)

// LaunchCmd groups the launch file subcommands.
type LaunchCmd struct {
	Init LaunchInitCmd `cmd:"" help:"Write a launch file from presets"`
	List LaunchListCmd `cmd:"" help:"List the built-in presets"`
	Show LaunchShowCmd `cmd:"" help:"Show the configurations in a launch file"`
}

// LaunchInitCmd writes a launch file.
type LaunchInitCmd struct {
	Presets []string `arg:"" optional:"" help:"Preset keys (default: linuxUserspace)"`
	File    string   `short:"f" help:"Launch file (default from config)"`
	Force   bool     `help:"Overwrite an existing file"`
}

// Run executes the launch init command.
func (c *LaunchInitCmd) Run(g *Globals) error {
	path := c.File
	if path == "" {
		path = g.Config.Debug.LaunchFile
	}

	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	data, err := config.GenerateLaunch(c.Presets...)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write launch file: %w", err)
	}
	fmt.Fprintf(g.Stdout, "Wrote %s\n", path)
	return nil
}

// LaunchListCmd prints the presets.
type LaunchListCmd struct{}

// Run executes the launch list command.
func (c *LaunchListCmd) Run(g *Globals) error {
	rows := lo.Map(config.Presets, func(p config.Preset, _ int) []string {
		return []string{p.Key, p.Label, p.Description}
	})
	return g.printTable(g.Stdout, []string{"Key", "Name", "Description"}, rows)
}

// LaunchShowCmd prints the configurations of a launch file with
// variables resolved.
type LaunchShowCmd struct {
	File   string `short:"f" help:"Launch file (default from config)"`
	Source string `help:"Source file substituted for the file variables"`
}

// Run executes the launch show command.
func (c *LaunchShowCmd) Run(g *Globals) error {
	path := c.File
	if path == "" {
		path = g.Config.Debug.LaunchFile
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	configs, err := config.ReadLaunchFile(path, config.VariableContext{WorkspaceFolder: wd, File: c.Source})
	if err != nil {
		return err
	}
	rows := lo.Map(configs, func(lc gdb.LaunchConfig, _ int) []string {
		return []string{lc.Name, string(lc.Request), launchTarget(lc), lc.Architecture}
	})
	return g.printTable(g.Stdout, []string{"Name", "Request", "Target", "Arch"}, rows)
}

func launchTarget(lc gdb.LaunchConfig) string {
	switch {
	case lc.Request == gdb.RequestAttach:
		return "pid " + strconv.Itoa(lc.ProcessID)
	case lc.Remote != nil && lc.Program != "":
		return lc.Program + " @ " + lc.Remote.String()
	case lc.Remote != nil:
		return lc.Remote.String()
	case lc.Emulator != nil:
		port := lc.Emulator.Port
		if port == 0 {
			port = gdb.DefaultEmulatorPort
		}
		return fmt.Sprintf("qemu %s @ localhost:%d", lc.Emulator.Machine, port)
	}
	return lc.Program
}
