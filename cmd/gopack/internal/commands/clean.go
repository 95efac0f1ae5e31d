package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/cache"
	"github.com/wolfeidau/gopack/internal/emit"
)

type CleanCmd struct {
	ConfigFlags `embed:""`
	KeepCache   bool `help:"leave the build cache in place" default:"false"`

	Out io.Writer `kong:"-"`
}

func (c *CleanCmd) Run(ctx context.Context, globals *Globals) error {
	flush := setup(ctx, globals)
	defer flush()

	cfg, err := c.load(false)
	if err != nil {
		return err
	}

	if err := emit.CleanDir(cfg.Output.Path); err != nil {
		return err
	}
	log.Info().Str("dir", cfg.Output.Path).Msg("Output directory cleaned")

	if !c.KeepCache {
		if err := cache.Clean(cfg.Cache.Directory); err != nil {
			return err
		}
		log.Info().Str("dir", cfg.Cache.Directory).Msg("Build cache removed")
	}

	fmt.Fprintf(writer(c.Out), "cleaned %s\n", relPath(cfg.Context, cfg.Output.Path))
	return nil
}
