package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WebpackTranslation(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "gopack.yaml"))
	require.NoError(t, err)

	base, err := filepath.Abs("testdata")
	require.NoError(t, err)

	require.Equal(t, base, cfg.Context)
	require.Equal(t, Entry{"main": filepath.Join(base, "client", "index.js")}, cfg.Entry)
	require.Equal(t, filepath.Join(base, "dist"), cfg.Output.Path)
	require.Equal(t, "bundle.js", cfg.Output.Filename)
	require.True(t, cfg.Watch)
	require.Equal(t, []string{".js", ".jsx"}, cfg.Resolve.Extensions)
	require.Equal(t, []string{"node_modules"}, cfg.Resolve.Modules)
	require.Equal(t, 300*time.Millisecond, cfg.WatchOptions.Aggregate())

	require.Len(t, cfg.Module.Rules, 2)

	js := cfg.Module.Rules[0]
	assert.True(t, js.Matches("/app/client/index.jsx"))
	assert.True(t, js.Matches("/app/client/util.js"))
	assert.False(t, js.Matches("/app/node_modules/react/index.js"))
	assert.False(t, js.Matches("/app/client/style.css"))
	require.Equal(t, LoaderList{{Loader: "babel-loader"}}, js.Use)

	css := cfg.Module.Rules[1]
	require.Len(t, css.Use, 2)
	assert.Equal(t, LoaderCSSExtract, CanonicalLoader(css.Use[0].Loader))
	assert.Equal(t, LoaderCSS, CanonicalLoader(css.Use[1].Loader))

	assert.True(t, cfg.WatchOptions.Ignored.MatchString("/app/node_modules/x.js"))
	assert.True(t, cfg.HasPlugin(PluginCSSExtract))
}

func TestParse_EntryForms(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected Entry
	}{
		{
			name:     "default when unset",
			yaml:     "mode: development",
			expected: Entry{"main": "./src/index.js"},
		},
		{
			name:     "single path",
			yaml:     "entry: ./app.js",
			expected: Entry{"main": "./app.js"},
		},
		{
			name:     "list of paths",
			yaml:     "entry: [./pages/home.js, ./pages/admin.jsx]",
			expected: Entry{"home": "./pages/home.js", "admin": "./pages/admin.jsx"},
		},
		{
			name:     "mapping",
			yaml:     "entry:\n  app: ./a.js\n  vendor: ./v.js",
			expected: Entry{"app": "./a.js", "vendor": "./v.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			require.Equal(t, tt.expected, cfg.Entry)
		})
	}
}

func TestParse_DuplicateListEntry(t *testing.T) {
	_, err := Parse([]byte("entry: [./a/index.js, ./b/index.js]"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate entry name")
}

func TestParse_LoaderOptions(t *testing.T) {
	cfg, err := Parse([]byte(`
module:
  rules:
    - test: \.tsx?$
      use:
        loader: esbuild
        options:
          jsx: automatic
          target: es2018
`))
	require.NoError(t, err)
	require.Len(t, cfg.Module.Rules, 1)
	require.Equal(t, "esbuild", cfg.Module.Rules[0].Use[0].Loader)
	require.Equal(t, "automatic", cfg.Module.Rules[0].Use[0].Options["jsx"])
	require.True(t, cfg.Module.Rules[0].Matches("src/app.tsx"))
}

func TestParse_InvalidPattern(t *testing.T) {
	_, err := Parse([]byte("module:\n  rules:\n    - test: \"(\"\n      use: raw"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid pattern")
}

func TestPattern_CaseInsensitiveFlag(t *testing.T) {
	p := MustPattern(`/\.PNG$/i`)
	require.True(t, p.MatchString("logo.png"))
	require.Equal(t, `/\.PNG$/i`, p.String())

	var zero Pattern
	require.True(t, zero.IsZero())
	require.False(t, zero.MatchString("anything"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "no entries",
			mutate:  func(c *Config) { c.Entry = Entry{} },
			wantErr: ErrNoEntryPoints.Error(),
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "fast" },
			wantErr: "unknown mode",
		},
		{
			name: "several entries without name placeholder",
			mutate: func(c *Config) {
				c.Entry = Entry{"a": "/a.js", "b": "/b.js"}
			},
			wantErr: "must contain [name]",
		},
		{
			name:    "unknown compression",
			mutate:  func(c *Config) { c.Output.Compress = []string{"brotli"} },
			wantErr: "unknown format",
		},
		{
			name: "extract loader without plugin",
			mutate: func(c *Config) {
				c.Module.Rules = []Rule{{Test: MustPattern(`\.css$`), Use: LoaderList{{Loader: "mini-css-extract-plugin/loader"}, {Loader: "css-loader"}}}}
			},
			wantErr: "without the css-extract plugin",
		},
		{
			name: "rule without loaders",
			mutate: func(c *Config) {
				c.Module.Rules = []Rule{{Test: MustPattern(`\.css$`)}}
			},
			wantErr: "at least one loader",
		},
		{
			name:    "unknown plugin",
			mutate:  func(c *Config) { c.Plugins = []PluginRef{{Name: "BundleAnalyzerPlugin"}} },
			wantErr: "unknown plugin",
		},
		{
			name:    "extension without dot",
			mutate:  func(c *Config) { c.Resolve.Extensions = []string{"js"} },
			wantErr: "must start with a dot",
		},
		{
			name:    "unknown cache",
			mutate:  func(c *Config) { c.Cache.Type = "redis" },
			wantErr: "unknown cache type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.Apply(Overrides{Mode: "development", Watch: true, OutputPath: "/tmp/out"})

	require.Equal(t, ModeDevelopment, cfg.Mode)
	require.True(t, cfg.Watch)
	require.Equal(t, "/tmp/out", cfg.Output.Path)

	cfg.Apply(Overrides{})
	require.Equal(t, ModeDevelopment, cfg.Mode)
	require.True(t, cfg.Watch)
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides(filepath.Join("testdata", "gopack.yaml"), Overrides{Mode: "production", OutputPath: "build"})
	require.NoError(t, err)

	base, err := filepath.Abs("testdata")
	require.NoError(t, err)

	require.Equal(t, ModeProduction, cfg.Mode)
	require.Equal(t, filepath.Join(base, "build"), cfg.Output.Path)

	_, err = LoadWithOverrides(filepath.Join("testdata", "gopack.yaml"), Overrides{Mode: "staging"})
	require.ErrorContains(t, err, "staging")
}

func TestSignature(t *testing.T) {
	a := Default()
	b := Default()
	require.Equal(t, a.Signature(), b.Signature())

	b.Module.Rules = []Rule{{Test: MustPattern(`\.css$`), Use: LoaderList{{Loader: "css"}}}}
	require.NotEqual(t, a.Signature(), b.Signature())

	c := Default()
	c.Mode = ModeDevelopment
	require.NotEqual(t, a.Signature(), c.Signature())
}

func TestCanonicalNames(t *testing.T) {
	loaders := map[string]string{
		"babel-loader":                   LoaderEsbuild,
		"esbuild-loader":                 LoaderEsbuild,
		"css-loader":                     LoaderCSS,
		"MiniCssExtractPlugin.loader":    LoaderCSSExtract,
		"mini-css-extract-plugin/loader": LoaderCSSExtract,
		"raw-loader":                     LoaderRaw,
		"json":                           LoaderJSON,
		"exec":                           LoaderExec,
	}
	for in, want := range loaders {
		assert.Equal(t, want, CanonicalLoader(in), in)
	}

	assert.Equal(t, PluginCSSExtract, CanonicalPlugin("MiniCssExtractPlugin"))
	assert.Equal(t, PluginHTML, CanonicalPlugin("html-webpack-plugin"))
	assert.Equal(t, "other", CanonicalPlugin("other"))
}
