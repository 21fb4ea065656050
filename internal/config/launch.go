package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/asmforge/internal/integration/gdb"
)

// LaunchType is the "type" value of asmforge launch configurations.
const LaunchType = "asmforge-gdb"

// LaunchVersion is written to generated launch files.
const LaunchVersion = "0.2.0"

// ReadLaunchFile parses the launch file at path.
func ReadLaunchFile(path string, vars VariableContext) ([]gdb.LaunchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading launch file %s: %w", path, err)
	}
	return parseLaunch(path, data, vars)
}

// ParseLaunch parses launch file contents. Entries whose type belongs to
// another debugger are skipped.
func ParseLaunch(data []byte, vars VariableContext) ([]gdb.LaunchConfig, error) {
	return parseLaunch("<launch>", data, vars)
}

func parseLaunch(source string, data []byte, vars VariableContext) ([]gdb.LaunchConfig, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON"}
	}
	list := gjson.GetBytes(data, "configurations")
	if !list.IsArray() {
		return nil, &ParseError{Path: source, Message: `missing "configurations" array`}
	}

	var configs []gdb.LaunchConfig
	var perr error
	list.ForEach(func(_, item gjson.Result) bool {
		if t := item.Get("type").String(); t != "" && t != LaunchType {
			return true
		}
		cfg, err := launchFromJSON(item, vars)
		if err != nil {
			perr = &ParseError{Path: source, Message: err.Error(), Err: err}
			return false
		}
		configs = append(configs, cfg)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return configs, nil
}

func launchFromJSON(item gjson.Result, vars VariableContext) (gdb.LaunchConfig, error) {
	str := func(path string) string { return vars.Resolve(item.Get(path).String()) }
	strs := func(path string) []string {
		r := item.Get(path)
		if !r.IsArray() {
			return nil
		}
		var out []string
		for _, v := range r.Array() {
			out = append(out, vars.Resolve(v.String()))
		}
		return out
	}

	cfg := gdb.LaunchConfig{
		Name:             item.Get("name").String(),
		Request:          gdb.Request(item.Get("request").String()),
		Program:          str("program"),
		Args:             strs("args"),
		Cwd:              str("cwd"),
		GDBPath:          str("gdbPath"),
		GDBArgs:          strs("gdbArgs"),
		Architecture:     item.Get("architecture").String(),
		SetupCommands:    strs("setupCommands"),
		PostLoadCommands: strs("postLoadCommands"),
	}
	switch cfg.Request {
	case "":
		cfg.Request = gdb.RequestLaunch
	case gdb.RequestLaunch, gdb.RequestAttach:
	default:
		return cfg, fmt.Errorf("configuration %q: unknown request %q", cfg.Name, cfg.Request)
	}

	if pid := item.Get("processId"); pid.Exists() {
		switch pid.Type {
		case gjson.Number:
			cfg.ProcessID = int(pid.Int())
		default:
			// Interactive pickers such as ${command:pickProcess} stay unset.
			cfg.ProcessID, _ = strconv.Atoi(vars.Resolve(pid.String()))
		}
	}

	if remote := item.Get("remote"); remote.IsObject() {
		cfg.Remote = &gdb.RemoteTarget{
			Host: vars.Resolve(remote.Get("host").String()),
			Port: int(remote.Get("port").Int()),
		}
		if cfg.Remote.Host == "" {
			cfg.Remote.Host = "localhost"
		}
		if cfg.Remote.Port <= 0 || cfg.Remote.Port > 65535 {
			return cfg, fmt.Errorf("configuration %q: invalid remote port %d", cfg.Name, cfg.Remote.Port)
		}
	}

	if qemu := item.Get("qemu"); qemu.IsObject() {
		cfg.Emulator = &gdb.EmulatorConfig{
			Machine: vars.Resolve(qemu.Get("machine").String()),
			CPU:     vars.Resolve(qemu.Get("cpu").String()),
			Kernel:  vars.Resolve(qemu.Get("kernel").String()),
			Port:    int(qemu.Get("port").Int()),
		}
		for _, a := range qemu.Get("additionalArgs").Array() {
			cfg.Emulator.Args = append(cfg.Emulator.Args, vars.Resolve(a.String()))
		}
	}
	return cfg, nil
}

// FindLaunch returns the configuration called name.
func FindLaunch(configs []gdb.LaunchConfig, name string) (gdb.LaunchConfig, error) {
	for _, c := range configs {
		if c.Name == name {
			return c, nil
		}
	}
	return gdb.LaunchConfig{}, fmt.Errorf("%w: %q", ErrConfigurationNotFound, name)
}

// Preset is a launch configuration template.
type Preset struct {
	Key         string
	Label       string
	Description string
	fields      []presetField
}

type presetField struct {
	path  string
	value any
}

const (
	programVar = "${workspaceFolder}/${fileBasenameNoExtension}"
	kernelVar  = "${workspaceFolder}/${fileBasenameNoExtension}.bin"
)

// Presets lists the built-in launch templates in display order.
var Presets = []Preset{
	{
		Key:         "linuxUserspace",
		Label:       "Linux Userspace",
		Description: "Debug a native Linux assembly program",
		fields: []presetField{
			{"request", "launch"},
			{"name", "Debug Assembly (Linux)"},
			{"program", programVar},
			{"cwd", "${workspaceFolder}"},
			{"architecture", "x86_64"},
			{"setupCommands", []string{"set disassembly-flavor intel"}},
		},
	},
	{
		Key:         "qemuBareMetal",
		Label:       "QEMU Bare Metal (x86)",
		Description: "Debug bare metal x86 code with QEMU",
		fields: []presetField{
			{"request", "launch"},
			{"name", "Debug Bare Metal (QEMU)"},
			{"qemu.machine", "pc"},
			{"qemu.kernel", kernelVar},
			{"remote.host", "localhost"},
			{"remote.port", gdb.DefaultEmulatorPort},
			{"architecture", "x86_64"},
			{"setupCommands", []string{"set disassembly-flavor intel", "set architecture i386:x86-64"}},
			{"postLoadCommands", []string{"break *0x7c00"}},
		},
	},
	{
		Key:         "attachProcess",
		Label:       "Attach to Process",
		Description: "Attach debugger to a running process",
		fields: []presetField{
			{"request", "attach"},
			{"name", "Attach to Process"},
			{"processId", "${command:pickProcess}"},
			{"architecture", "x86_64"},
		},
	},
	{
		Key:         "remoteDebug",
		Label:       "Remote Debug",
		Description: "Connect to a remote GDB server",
		fields: []presetField{
			{"request", "launch"},
			{"name", "Remote Debug"},
			{"program", programVar},
			{"remote.host", "localhost"},
			{"remote.port", 3333},
			{"architecture", "arm64"},
			{"setupCommands", []string{"monitor reset halt"}},
		},
	},
	{
		Key:         "qemuArm",
		Label:       "QEMU ARM64",
		Description: "Debug ARM64 code with QEMU",
		fields: []presetField{
			{"request", "launch"},
			{"name", "Debug ARM Bare Metal (QEMU)"},
			{"qemu.machine", "virt"},
			{"qemu.cpu", "cortex-a53"},
			{"qemu.kernel", kernelVar},
			{"remote.host", "localhost"},
			{"remote.port", gdb.DefaultEmulatorPort},
			{"architecture", "arm64"},
			{"gdbPath", "aarch64-linux-gnu-gdb"},
		},
	},
	{
		Key:         "qemuRiscv",
		Label:       "QEMU RISC-V",
		Description: "Debug RISC-V code with QEMU",
		fields: []presetField{
			{"request", "launch"},
			{"name", "Debug RISC-V (QEMU)"},
			{"qemu.machine", "virt"},
			{"qemu.kernel", kernelVar},
			{"remote.host", "localhost"},
			{"remote.port", gdb.DefaultEmulatorPort},
			{"architecture", "riscv64"},
			{"gdbPath", "riscv64-linux-gnu-gdb"},
		},
	},
}

// LookupPreset returns the preset with the given key.
func LookupPreset(key string) (Preset, bool) {
	for _, p := range Presets {
		if p.Key == key {
			return p, true
		}
	}
	return Preset{}, false
}

// GenerateLaunch renders a launch file holding the named presets. With
// no names it holds linuxUserspace.
func GenerateLaunch(keys ...string) ([]byte, error) {
	if len(keys) == 0 {
		keys = []string{"linuxUserspace"}
	}

	doc := "{}"
	var err error
	if doc, err = sjson.Set(doc, "version", LaunchVersion); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetRaw(doc, "configurations", "[]"); err != nil {
		return nil, err
	}
	for _, key := range keys {
		p, ok := LookupPreset(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, key)
		}
		entry, err := sjson.Set("{}", "type", LaunchType)
		if err != nil {
			return nil, err
		}
		for _, f := range p.fields {
			if entry, err = sjson.Set(entry, f.path, f.value); err != nil {
				return nil, fmt.Errorf("preset %s: %w", key, err)
			}
		}
		if doc, err = sjson.SetRaw(doc, "configurations.-1", entry); err != nil {
			return nil, err
		}
	}
	return pretty.Pretty([]byte(doc)), nil
}
