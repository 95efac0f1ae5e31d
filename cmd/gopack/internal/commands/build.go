package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/bundler"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/watch"
)

type BuildCmd struct {
	ConfigFlags `embed:""`
	Watch       bool `help:"keep running and rebuild on change" default:"false" env:"GOPACK_WATCH"`

	Out io.Writer `kong:"-"`
}

func (b *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	flush := setup(ctx, globals)
	defer flush()

	cfg, err := b.load(b.Watch)
	if err != nil {
		return err
	}

	return build(ctx, cfg, writer(b.Out))
}

type WatchCmd struct {
	ConfigFlags `embed:""`

	Out io.Writer `kong:"-"`
}

func (w *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	flush := setup(ctx, globals)
	defer flush()

	cfg, err := w.load(true)
	if err != nil {
		return err
	}

	return build(ctx, cfg, writer(w.Out))
}

func build(ctx context.Context, cfg *config.Config, out io.Writer) error {
	compiler, err := bundler.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}
	defer func() {
		if err := compiler.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to save build cache")
		}
	}()

	if cfg.Watch {
		ctx, stop := interruptible(ctx)
		defer stop()

		controller := watch.New(compiler, cfg.WatchOptions, watch.WithOnBuild(func(stats *bundler.Stats, err error) {
			if err == nil {
				printStats(out, stats)
			}
		}))
		return controller.Run(ctx)
	}

	stats, err := compiler.Run(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	printStats(out, stats)
	return nil
}

func printStats(out io.Writer, stats *bundler.Stats) {
	for _, asset := range stats.Assets {
		fmt.Fprintf(out, "%-40s %10d  %s\n", asset.Name, asset.Size, asset.Kind)
	}
	fmt.Fprintf(out, "%d modules (%d transformed, %d cached) in %s\n",
		stats.Modules, stats.Transformed, stats.Cached, stats.Duration.Round(time.Millisecond))
}

func writer(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
