package plugin

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/emit"
)

// cssExtract enables the css-extract loader, stylesheets of modules it
// marks are written to a file per entry instead of being bundled.
type cssExtract struct {
	filename string
}

func newCSSExtract(ref config.PluginRef, _ *config.Config) (Plugin, error) {
	filename, err := stringOption(ref.Options, "filename", "[name].css")
	if err != nil {
		return nil, err
	}
	return &cssExtract{filename: filename}, nil
}

func (p *cssExtract) Name() string { return config.PluginCSSExtract }

func (p *cssExtract) Configure(opts *emit.Options) {
	opts.CSSFilename = p.filename
}

func (p *cssExtract) Apply(ctx context.Context, b *Build) error {
	for _, a := range b.Assets {
		if a.Kind != emit.KindStyle {
			continue
		}
		zerolog.Ctx(ctx).Debug().
			Str("entry", a.Entry).
			Str("asset", a.Name).
			Int("modules", len(a.Inputs)).
			Msg("Extracted stylesheet")
	}
	return nil
}
