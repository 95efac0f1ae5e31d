// Package plugin provides the build plugins that can be enabled from the
// configuration.
package plugin

import (
	"context"
	"fmt"

	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/emit"
	"github.com/wolfeidau/gopack/internal/graph"
)

// Build is the result of a compilation handed to plugins after emit.
type Build struct {
	Config  *config.Config
	Graph   *graph.Graph
	Emitter *emit.Emitter
	// Assets are the files written by this compilation
	Assets []emit.Asset
	// Affected is nil for a full build, otherwise the rebuilt entries
	Affected map[string]bool
}

// Rebuilt reports whether entry was emitted by this compilation.
func (b *Build) Rebuilt(entry string) bool {
	return b.Affected == nil || b.Affected[entry]
}

type Plugin interface {
	Name() string
	Apply(ctx context.Context, b *Build) error
}

// Configurer is implemented by plugins that adjust emit options before the
// first compilation.
type Configurer interface {
	Configure(opts *emit.Options)
}

type factory func(ref config.PluginRef, cfg *config.Config) (Plugin, error)

var registry = map[string]factory{
	config.PluginCSSExtract: newCSSExtract,
	config.PluginHTML:       newHTML,
}

// Load instantiates the configured plugins in order.
func Load(cfg *config.Config) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(cfg.Plugins))
	for i, ref := range cfg.Plugins {
		f, ok := registry[config.CanonicalPlugin(ref.Name)]
		if !ok {
			return nil, fmt.Errorf("plugins[%d]: unknown plugin %q", i, ref.Name)
		}
		p, err := f(ref, cfg)
		if err != nil {
			return nil, fmt.Errorf("plugins[%d] %s: %w", i, ref.Name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Configure lets every Configurer adjust opts.
func Configure(plugins []Plugin, opts *emit.Options) {
	for _, p := range plugins {
		if c, ok := p.(Configurer); ok {
			c.Configure(opts)
		}
	}
}

func stringOption(opts map[string]any, key, def string) (string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string", key)
	}
	return s, nil
}
