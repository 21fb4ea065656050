// Package config loads asmforge settings and debug launch files.
//
// Settings are resolved from, in increasing precedence:
//
//   - built-in defaults (Default)
//   - a .env file, which only fills variables not already set
//   - asmforge.toml
//   - ASMFORGE_* environment variables
//
// Launch files use the launch.json layout with a "configurations"
// array. String fields may reference ${workspaceFolder}, ${file},
// ${fileBasename}, ${fileBasenameNoExtension}, ${fileDirname} and
// ${env:NAME}.
package config
