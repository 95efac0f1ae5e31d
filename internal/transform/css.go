package transform

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/wolfeidau/gopack/internal/config"
)

var (
	// @import "x.css"; @import 'x.css' screen; @import url("x.css"); @import url(x.css);
	cssImportRe  = regexp.MustCompile(`(?m)@import\s+(?:url\(\s*)?(?:"([^"]+)"|'([^']+)'|([^'"\s);]+))\s*\)?[^;]*;[ \t]*\r?\n?`)
	cssCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// cssLoader records the stylesheet and turns @import rules into module
// dependencies, the JavaScript it produces exports the stylesheet text.
type cssLoader struct {
	imports bool
}

func newCSSLoader(opts map[string]any, _ Env) (Loader, error) {
	imports, err := boolOption(opts, "import", true)
	if err != nil {
		return nil, err
	}
	return &cssLoader{imports: imports}, nil
}

func (l *cssLoader) Name() string { return config.LoaderCSS }

func (l *cssLoader) Transform(_ context.Context, asset *Asset) error {
	css := string(asset.Code)
	var deps []string

	if l.imports {
		// comments may hold @import examples, they are not rules
		scan := cssCommentRe.ReplaceAllStringFunc(css, func(c string) string {
			return strings.Repeat(" ", len(c))
		})

		var b strings.Builder
		last := 0
		for _, m := range cssImportRe.FindAllStringSubmatchIndex(scan, -1) {
			spec := firstGroup(css, m)
			if isRemoteURL(spec) {
				continue
			}
			b.WriteString(css[last:m[0]])
			last = m[1]
			deps = append(deps, cssSpecifier(spec))
		}
		b.WriteString(css[last:])
		css = b.String()
	}

	asset.Styles = []byte(css)
	asset.StyleDeps = deps
	asset.Code = []byte(cssModuleCode(deps, jsString(css)))
	return nil
}

// cssExtractLoader moves the stylesheet recorded by the css loader into the
// extracted stylesheet, leaving an empty module behind.
type cssExtractLoader struct{}

func newCSSExtractLoader(_ map[string]any, env Env) (Loader, error) {
	if !env.ExtractEnabled {
		return nil, errors.New("css-extract loader requires the css-extract plugin")
	}
	return cssExtractLoader{}, nil
}

func (cssExtractLoader) Name() string { return config.LoaderCSSExtract }

func (cssExtractLoader) Transform(_ context.Context, asset *Asset) error {
	if asset.Styles == nil {
		return errors.New("no stylesheet recorded, css-extract must run after the css loader")
	}
	asset.Extract = true
	asset.Code = []byte(cssModuleCode(asset.StyleDeps, "{}"))
	return nil
}

func cssModuleCode(deps []string, exports string) string {
	var b strings.Builder
	for _, dep := range deps {
		b.WriteString("require(")
		b.WriteString(jsString(dep))
		b.WriteString(");\n")
	}
	b.WriteString(exportsStatement(exports))
	return b.String()
}

func firstGroup(s string, m []int) string {
	for g := 1; g*2+1 < len(m); g++ {
		if m[g*2] >= 0 {
			return s[m[g*2]:m[g*2+1]]
		}
	}
	return ""
}

// cssSpecifier maps a CSS import to a module specifier: paths are relative
// unless prefixed with ~, which names a package.
func cssSpecifier(spec string) string {
	switch {
	case strings.HasPrefix(spec, "~"):
		return strings.TrimPrefix(spec, "~")
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), strings.HasPrefix(spec, "/"):
		return spec
	}
	return "./" + spec
}

func isRemoteURL(spec string) bool {
	return strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") ||
		strings.HasPrefix(spec, "//") || strings.HasPrefix(spec, "data:")
}
