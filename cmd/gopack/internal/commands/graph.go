package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/bundler"
	"github.com/wolfeidau/gopack/internal/graph"
)

type GraphCmd struct {
	ConfigFlags `embed:""`
	Entry       string `help:"only print this entry" default:"" short:"e"`

	Out io.Writer `kong:"-"`
}

func (g *GraphCmd) Run(ctx context.Context, globals *Globals) error {
	flush := setup(ctx, globals)
	defer flush()

	cfg, err := g.load(false)
	if err != nil {
		return err
	}

	compiler, err := bundler.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create compiler: %w", err)
	}
	defer func() {
		if err := compiler.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to save build cache")
		}
	}()

	modules, err := compiler.Inspect(ctx)
	if err != nil {
		return err
	}

	if g.Entry != "" && modules.Order(g.Entry) == nil {
		return fmt.Errorf("unknown entry %q", g.Entry)
	}

	out := writer(g.Out)
	for _, name := range modules.EntryNames() {
		if g.Entry != "" && name != g.Entry {
			continue
		}
		printEntry(out, cfg.Context, name, modules)
	}
	return nil
}

func printEntry(out io.Writer, root, name string, g *graph.Graph) {
	chunk := g.Order(name)
	fmt.Fprintf(out, "%s (%d modules)\n", name, len(chunk))
	for i, mod := range chunk {
		fmt.Fprintf(out, "  %3d %s\n", i, relPath(root, mod.Path))
		for _, dep := range mod.Deps {
			fmt.Fprintf(out, "        %s -> %s\n", dep.Specifier, relPath(root, dep.Path))
		}
	}
}

func relPath(root, path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
