package transform

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/config"
)

var targets = map[string]api.Target{
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

var esbuildLoaders = map[string]api.Loader{
	"js":  api.LoaderJSX,
	"jsx": api.LoaderJSX,
	"ts":  api.LoaderTS,
	"tsx": api.LoaderTSX,
}

// esbuildLoader transpiles JavaScript, JSX and TypeScript to CommonJS with
// esbuild, it takes the place of babel-loader.
type esbuildLoader struct {
	jsx         api.JSX
	jsxFactory  string
	jsxFragment string
	jsxImport   string
	target      api.Target
	loader      string
	minify      bool
}

func newEsbuildLoader(opts map[string]any, env Env) (Loader, error) {
	l := &esbuildLoader{jsx: api.JSXTransform, target: api.ES2015}

	jsx, err := stringOption(opts, "jsx", "transform")
	if err != nil {
		return nil, err
	}
	switch jsx {
	case "transform", "classic":
		l.jsx = api.JSXTransform
	case "automatic":
		l.jsx = api.JSXAutomatic
	default:
		return nil, fmt.Errorf("unsupported jsx mode %q (want transform or automatic)", jsx)
	}

	target, err := stringOption(opts, "target", "es2015")
	if err != nil {
		return nil, err
	}
	t, ok := targets[strings.ToLower(target)]
	if !ok {
		return nil, fmt.Errorf("unsupported target %q", target)
	}
	l.target = t

	if l.loader, err = stringOption(opts, "loader", ""); err != nil {
		return nil, err
	}
	if l.loader != "" {
		if _, ok := esbuildLoaders[l.loader]; !ok {
			return nil, fmt.Errorf("unsupported esbuild loader %q (want js, jsx, ts or tsx)", l.loader)
		}
	}

	if l.jsxFactory, err = stringOption(opts, "jsxFactory", ""); err != nil {
		return nil, err
	}
	if l.jsxFragment, err = stringOption(opts, "jsxFragment", ""); err != nil {
		return nil, err
	}
	if l.jsxImport, err = stringOption(opts, "jsxImportSource", ""); err != nil {
		return nil, err
	}

	if l.minify, err = boolOption(opts, "minify", env.Mode == config.ModeProduction); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *esbuildLoader) Name() string { return config.LoaderEsbuild }

func (l *esbuildLoader) Transform(_ context.Context, asset *Asset) error {
	loader := esbuildLoaders[l.loaderFor(asset.Path)]

	result := api.Transform(string(asset.Code), api.TransformOptions{
		Loader:            loader,
		Format:            api.FormatCommonJS,
		Platform:          api.PlatformBrowser,
		Target:            l.target,
		JSX:               l.jsx,
		JSXFactory:        l.jsxFactory,
		JSXFragment:       l.jsxFragment,
		JSXImportSource:   l.jsxImport,
		MinifyWhitespace:  l.minify,
		MinifyIdentifiers: l.minify,
		MinifySyntax:      l.minify,
		Sourcefile:        asset.Path,
		LogLevel:          api.LogLevelSilent,
	})

	for _, msg := range result.Warnings {
		log.Warn().Str("module", asset.Path).Str("warning", formatMessage(msg)).Msg("esbuild warning")
	}

	if len(result.Errors) > 0 {
		errs := make([]error, 0, len(result.Errors))
		for _, msg := range result.Errors {
			errs = append(errs, errors.New(formatMessage(msg)))
		}
		return errors.Join(errs...)
	}

	asset.Code = result.Code
	return nil
}

func (l *esbuildLoader) loaderFor(path string) string {
	if l.loader != "" {
		return l.loader
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "ts", "tsx", "jsx":
		return ext
	}
	// plain .js files commonly hold JSX, the JSX loader accepts both
	return "js"
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

var moduleSyntaxRe = regexp.MustCompile(`(?m)^[ \t]*(?:import\s*[{*"']|import\s+[\w$]|export\s*[{*]|export\s+[\w$])`)

// HasModuleSyntax reports whether code looks like an ES module, a line
// starting with an import or export statement.
func HasModuleSyntax(code []byte) bool {
	return moduleSyntaxRe.Match(code)
}

// esmLoader converts ES modules that no rule transpiles to CommonJS. It
// keeps the syntax level and does not minify.
type esmLoader struct{}

func (esmLoader) Name() string { return "esm" }

func (esmLoader) Transform(_ context.Context, asset *Asset) error {
	result := api.Transform(string(asset.Code), api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Platform:   api.PlatformBrowser,
		Target:     api.ESNext,
		Sourcefile: asset.Path,
		LogLevel:   api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		errs := make([]error, 0, len(result.Errors))
		for _, msg := range result.Errors {
			errs = append(errs, errors.New(formatMessage(msg)))
		}
		return errors.Join(errs...)
	}

	asset.Code = result.Code
	return nil
}
