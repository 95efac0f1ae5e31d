package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/gopack/cmd/gopack/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build     commands.BuildCmd `cmd:"" help:"Bundle the configured entry points"`
		Watch     commands.WatchCmd `cmd:"" help:"Build then rebuild on change"`
		Graph     commands.GraphCmd `cmd:"" help:"Print the module graph of each entry"`
		Clean     commands.CleanCmd `cmd:"" help:"Remove emitted assets and the build cache"`
		Debug     bool              `help:"Enable debug mode." env:"GOPACK_DEBUG"`
		Telemetry bool              `help:"Export metrics and traces over OTLP." env:"GOPACK_TELEMETRY"`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("gopack"),
		kong.Description("A module bundler for browser applications."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Telemetry: cli.Telemetry, Version: version})
	cmd.FatalIfErrorf(err)
}
