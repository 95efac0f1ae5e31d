// Package transform runs the loader chains selected by the module rules.
package transform

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/config"
)

var ErrNoLoader = errors.New("no loader configured for this file type, you may need an appropriate loader")

// Asset is a module passing through a loader chain. Loaders replace Code and
// may record stylesheet text in Styles.
type Asset struct {
	Path string
	// Source holds the bytes read from disk
	Source []byte
	// Code is the current content, JavaScript once the chain completes
	Code []byte
	// Styles is stylesheet text recorded by the css loader
	Styles []byte
	// StyleDeps are the @import specifiers found by the css loader
	StyleDeps []string
	// Extract sends Styles to the extracted stylesheet
	Extract bool
}

// NewAsset creates an asset whose code starts as the source bytes.
func NewAsset(path string, source []byte) *Asset {
	return &Asset{Path: path, Source: source, Code: source}
}

// Loader converts one representation of a module into another.
type Loader interface {
	Name() string
	Transform(ctx context.Context, asset *Asset) error
}

// LoaderError is returned when a loader in the chain fails.
type LoaderError struct {
	Loader string
	Path   string
	Err    error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("%s loader failed for %s: %v", e.Loader, e.Path, e.Err)
}

func (e *LoaderError) Unwrap() error {
	return e.Err
}

type compiledRule struct {
	rule    config.Rule
	loaders []Loader
}

// Pipeline selects and applies loader chains.
type Pipeline struct {
	rules []compiledRule
	json  Loader
	esm   Loader
}

// New instantiates every loader named by the module rules.
func New(cfg *config.Config) (*Pipeline, error) {
	env := Env{
		Mode:           cfg.Mode,
		ExtractEnabled: cfg.HasPlugin(config.PluginCSSExtract),
	}

	p := &Pipeline{json: jsonLoader{}, esm: esmLoader{}}

	for i, rule := range cfg.Module.Rules {
		compiled := compiledRule{rule: rule}
		for j, ref := range rule.Use {
			loader, err := newLoader(ref, env)
			if err != nil {
				return nil, fmt.Errorf("module.rules[%d].use[%d]: %w", i, j, err)
			}
			compiled.loaders = append(compiled.loaders, loader)
		}
		p.rules = append(p.rules, compiled)
	}

	return p, nil
}

// Chain returns the loaders for path in the order they are applied, which is
// the reverse of the configured order.
func (p *Pipeline) Chain(path string) []Loader {
	var configured []Loader
	for _, r := range p.rules {
		if r.rule.Matches(path) {
			configured = append(configured, r.loaders...)
		}
	}

	chain := make([]Loader, 0, len(configured))
	for i := len(configured) - 1; i >= 0; i-- {
		chain = append(chain, configured[i])
	}
	return chain
}

// Apply runs the chain for the asset. JavaScript without a matching rule
// passes through unchanged unless it uses ES module syntax, which is
// converted to CommonJS. JSON goes through the json loader and anything else
// is rejected with ErrNoLoader.
func (p *Pipeline) Apply(ctx context.Context, asset *Asset) error {
	chain := p.Chain(asset.Path)

	if len(chain) == 0 {
		switch strings.ToLower(filepath.Ext(asset.Path)) {
		case ".js", ".mjs", ".cjs":
			if !HasModuleSyntax(asset.Code) {
				return nil
			}
			chain = []Loader{p.esm}
		case ".json":
			chain = []Loader{p.json}
		default:
			return fmt.Errorf("%s: %w", asset.Path, ErrNoLoader)
		}
	}

	for _, loader := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Debug().Str("module", asset.Path).Str("loader", loader.Name()).Msg("Applying loader")

		if err := loader.Transform(ctx, asset); err != nil {
			var le *LoaderError
			if errors.As(err, &le) {
				return err
			}
			return &LoaderError{Loader: loader.Name(), Path: asset.Path, Err: err}
		}
	}

	return nil
}
