// Package config defines the aelkeyd CLI surface.
package config

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// VersionFlag prints the version and exits, following kong's documented
// pattern for a boolean flag that short-circuits normal parsing.
type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }

func (v VersionFlag) BeforeReset(app *kong.Kong, vars kong.Vars) error {
	fmt.Fprintln(app.Stdout, vars["version"])
	app.Exit(0)
	return nil
}

// CLI is the top-level command structure parsed by kong.
type CLI struct {
	Script string `arg:"" name:"script" help:"Path to the device declaration file. If omitted, configpaths' default search locations are tried." optional:"" type:"existingfile"`

	Log struct {
		Level   string `help:"Log level: trace, debug, info, warn, error." default:"info" enum:"trace,debug,info,warn,error"`
		File    string `help:"Write logs to this file instead of stdout/stderr."`
		RawFile string `help:"Write a raw per-frame device I/O trace to this file."`
	} `embed:"" prefix:"log."`

	Version VersionFlag `name:"version" short:"V" help:"Print version and exit."`
}
