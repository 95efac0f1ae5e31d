package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/wolfeidau/gopack/internal/config"
)

// Env carries build wide settings loaders may depend on.
type Env struct {
	Mode           config.Mode
	ExtractEnabled bool
}

type factory func(opts map[string]any, env Env) (Loader, error)

var factories = map[string]factory{
	config.LoaderEsbuild:    newEsbuildLoader,
	config.LoaderCSS:        newCSSLoader,
	config.LoaderCSSExtract: newCSSExtractLoader,
	config.LoaderJSON:       func(map[string]any, Env) (Loader, error) { return jsonLoader{}, nil },
	config.LoaderRaw:        func(map[string]any, Env) (Loader, error) { return rawLoader{}, nil },
	config.LoaderExec:       newExecLoader,
}

func newLoader(ref config.LoaderRef, env Env) (Loader, error) {
	name := config.CanonicalLoader(ref.Loader)
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown loader %q", ref.Loader)
	}
	return f(ref.Options, env)
}

// exportsStatement is the CommonJS export of a JavaScript expression.
func exportsStatement(expr string) string {
	return "module.exports = " + expr + ";\n"
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	// json string literals are valid JavaScript and escape U+2028 and U+2029
	data, _ := json.Marshal(s)
	return string(data)
}

type jsonLoader struct{}

func (jsonLoader) Name() string { return config.LoaderJSON }

func (jsonLoader) Transform(_ context.Context, asset *Asset) error {
	compact := new(bytes.Buffer)
	if err := json.Compact(compact, asset.Code); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	asset.Code = []byte(exportsStatement(compact.String()))
	return nil
}

type rawLoader struct{}

func (rawLoader) Name() string { return config.LoaderRaw }

func (rawLoader) Transform(_ context.Context, asset *Asset) error {
	asset.Code = []byte(exportsStatement(jsString(string(asset.Code))))
	return nil
}

// option helpers for the loosely typed YAML options

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

func boolOption(opts map[string]any, key string, def bool) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q must be a boolean", key)
	}
	return b, nil
}

func intOption(opts map[string]any, key string, def int) (int, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("option %q is out of range", key)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, fmt.Errorf("option %q must be a whole number", key)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("option %q must be a number", key)
}

func stringsOption(opts map[string]any, key string) ([]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case string:
		return strings.Fields(list), nil
	}
	return nil, fmt.Errorf("option %q must be a list of strings", key)
}
