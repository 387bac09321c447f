// Command aelkeyd runs the input-device remapping and bridging runtime.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/aelkeyd/aelkeyd/internal/config"
	"github.com/aelkeyd/aelkeyd/internal/configpaths"
	"github.com/aelkeyd/aelkeyd/internal/log"
	"github.com/aelkeyd/aelkeyd/internal/runtime"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths("")

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("aelkeyd"),
		kong.Description("Virtual input-device remapping and bridging runtime"),
		kong.UsageOnError(),
		kong.Vars{"version": "aelkeyd " + version},
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	scriptPath, err := configpaths.ResolveDeclarationPath(cli.Script)
	if err != nil {
		logger.Error("no declaration file found", "error", err)
		os.Exit(1)
	}

	var tracer log.FrameTracer
	if cli.Log.RawFile != "" {
		f, err := os.OpenFile(cli.Log.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw trace file", "file", cli.Log.RawFile, "error", err)
			tracer = log.NewFrameTracer(nil)
		} else {
			tracer = log.NewFrameTracer(f)
			closeFiles = append(closeFiles, f)
		}
	} else if cli.Log.Level == "trace" {
		tracer = log.NewFrameTracer(os.Stdout)
	} else {
		tracer = log.NewFrameTracer(nil)
	}

	rt, err := runtime.New(runtime.Options{
		ScriptPath: scriptPath,
		Logger:     logger,
		Tracer:     tracer,
	})
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if err := rt.Run(); err != nil {
		logger.Error("runtime exited with error", "error", err)
		ctx.Exit(1)
	}
	ctx.Exit(0)
}
