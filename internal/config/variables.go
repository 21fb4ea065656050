package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// VariableContext supplies the values launch variables resolve against.
type VariableContext struct {
	// WorkspaceFolder is the project root. Defaults to the working directory.
	WorkspaceFolder string

	// File is the active source file.
	File string

	// LookupEnv reads ${env:NAME}. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolve substitutes ${...} variables in input. Unknown variables are
// left in place; ${env:NAME} of an unset variable becomes empty.
func (vc VariableContext) Resolve(input string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if env, ok := strings.CutPrefix(name, "env:"); ok {
			v, _ := vc.lookupEnv()(env)
			return v
		}
		if v, ok := vc.variable(name); ok {
			return v
		}
		return match
	})
}

// ResolveAll resolves every element of in.
func (vc VariableContext) ResolveAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = vc.Resolve(s)
	}
	return out
}

func (vc VariableContext) lookupEnv() func(string) (string, bool) {
	if vc.LookupEnv != nil {
		return vc.LookupEnv
	}
	return os.LookupEnv
}

func (vc VariableContext) workspace() string {
	if vc.WorkspaceFolder != "" {
		return vc.WorkspaceFolder
	}
	cwd, _ := os.Getwd()
	return cwd
}

func (vc VariableContext) variable(name string) (string, bool) {
	switch name {
	case "workspaceFolder":
		return vc.workspace(), true
	case "workspaceFolderBasename":
		return filepath.Base(vc.workspace()), true
	case "pathSeparator":
		return string(filepath.Separator), true
	}

	if vc.File == "" {
		return "", false
	}
	base := filepath.Base(vc.File)
	switch name {
	case "file":
		return vc.File, true
	case "fileBasename":
		return base, true
	case "fileBasenameNoExtension":
		return strings.TrimSuffix(base, filepath.Ext(base)), true
	case "fileDirname":
		return filepath.Dir(vc.File), true
	case "fileExtname":
		return filepath.Ext(vc.File), true
	case "relativeFile":
		rel, err := filepath.Rel(vc.workspace(), vc.File)
		if err != nil {
			return vc.File, true
		}
		return rel, true
	}
	return "", false
}
