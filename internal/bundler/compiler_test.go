package bundler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/gopack/internal/cache"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/emit"
)

const projectConfig = `
mode: development
entry:
  main: ./client/index.js
  admin: ./client/admin.js
output:
  path: dist
  filename: "[name].bundle.js"
  manifest: true
module:
  rules:
    - test: /\.(js|jsx)$/
      exclude: /node_modules/
      use: babel-loader
    - test: /\.css$/
      use: [MiniCssExtractPlugin.loader, css-loader]
resolve:
  extensions: [.js, .jsx]
plugins:
  - mini-css-extract-plugin
  - name: html-webpack-plugin
    options:
      title: Test App
      chunks: [main]
cache:
  type: filesystem
`

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
}

func setupProject(t *testing.T) (string, *config.Config) {
	t.Helper()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"gopack.yaml":      projectConfig,
		"client/index.js":  "import './style.css';\nimport App from './App';\nexport default <App />;\n",
		"client/App.jsx":   "import { greet } from './util';\nexport default function App() { return <h1>{greet()}</h1>; }\n",
		"client/util.js":   "export const greet = () => 'hello';\n",
		"client/admin.js":  "const util = require('./util');\nmodule.exports = util.greet();\n",
		"client/style.css": "@import './base.css';\nh1 { color: red; }\n",
		"client/base.css":  "body { margin: 0; }\n",
	})

	cfg, err := config.Load(filepath.Join(root, "gopack.yaml"))
	require.NoError(t, err)
	return root, cfg
}

func assetByName(assets []emit.Asset, name string) (emit.Asset, bool) {
	for _, a := range assets {
		if a.Name == name {
			return a, true
		}
	}
	return emit.Asset{}, false
}

func TestCompiler_Run(t *testing.T) {
	root, cfg := setupProject(t)

	c, err := New(cfg)
	require.NoError(t, err)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.Incremental)
	assert.Equal(t, 6, stats.Modules)
	assert.Equal(t, 6, stats.Transformed)
	assert.Equal(t, []string{"admin", "main"}, stats.Entries)

	for _, name := range []string{"main.bundle.js", "admin.bundle.js", "main.css", "index.html", emit.ManifestFile} {
		_, ok := assetByName(stats.Assets, name)
		assert.True(t, ok, name)
	}

	bundle, err := os.ReadFile(filepath.Join(root, "dist", "main.bundle.js"))
	require.NoError(t, err)
	js := string(bundle)
	assert.Contains(t, js, "React.createElement")
	assert.Contains(t, js, `"NODE_ENV":"development"`)
	assert.Contains(t, js, "0: [function(module, exports, require) {")
	assert.NotContains(t, js, "<h1>")

	css, err := os.ReadFile(filepath.Join(root, "dist", "main.css"))
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0; }\nh1 { color: red; }\n", string(css))

	page, err := os.ReadFile(filepath.Join(root, "dist", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `<script src="main.bundle.js"></script>`)
	assert.NotContains(t, string(page), "admin.bundle.js")

	assert.Contains(t, c.WatchDirs(), filepath.Join(root, "client"))
	require.NoError(t, c.Close())

	_, err = os.Stat(filepath.Join(cfg.Cache.Directory, cache.FileName))
	require.NoError(t, err)
}

func TestCompiler_Rebuild(t *testing.T) {
	root, cfg := setupProject(t)

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(root, "dist", "admin.bundle.js"))
	require.NoError(t, err)

	app := filepath.Join(root, "client", "App.jsx")
	writeFiles(t, root, map[string]string{"client/App.jsx": "export default function App() { return <h2>changed</h2>; }\n"})

	stats, err := c.Rebuild(context.Background(), []string{app})
	require.NoError(t, err)

	assert.True(t, stats.Incremental)
	assert.Equal(t, 1, stats.Transformed)
	assert.Equal(t, []string{"main"}, stats.Entries)

	_, ok := assetByName(stats.Assets, "admin.bundle.js")
	assert.False(t, ok, "admin does not include App.jsx")

	after, err := os.ReadFile(filepath.Join(root, "dist", "admin.bundle.js"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// util.js is dropped from main but still part of admin
	main, err := os.ReadFile(filepath.Join(root, "dist", "main.bundle.js"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "changed")
	assert.NotContains(t, string(main), "hello")
}

func TestCompiler_FailedBuildRecovers(t *testing.T) {
	root, cfg := setupProject(t)

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	util := filepath.Join(root, "client", "util.js")
	writeFiles(t, root, map[string]string{"client/util.js": "export const greet = () => {;\n"})

	_, err = c.Rebuild(context.Background(), []string{util})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "util.js")

	writeFiles(t, root, map[string]string{"client/util.js": "export const greet = () => 'fixed';\n"})

	stats, err := c.Rebuild(context.Background(), []string{util})
	require.NoError(t, err)
	assert.False(t, stats.Incremental, "a failed build is followed by a full build")
	assert.Equal(t, []string{"admin", "main"}, stats.Entries)
	assert.Equal(t, 1, stats.Transformed)
}

func TestCompiler_PersistentCache(t *testing.T) {
	_, cfg := setupProject(t)

	c, err := New(cfg)
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	again, err := New(cfg)
	require.NoError(t, err)
	defer again.Close()

	stats, err := again.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Transformed)
	assert.Equal(t, 6, stats.Cached)
}

func TestCompiler_Inspect(t *testing.T) {
	root, cfg := setupProject(t)

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	g, err := c.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "main"}, g.EntryNames())
	assert.Len(t, g.Order("admin"), 2)

	_, err = os.Stat(filepath.Join(root, "dist"))
	require.ErrorIs(t, err, os.ErrNotExist, "nothing is emitted")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Entry = nil
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrNoEntryPoints)

	cfg = config.Default()
	cfg.Module.Rules = []config.Rule{{Test: config.MustPattern(`\.ts$`), Use: config.LoaderList{{Loader: "ts-loader"}}}}
	_, err = New(cfg)
	require.ErrorContains(t, err, `unknown loader "ts-loader"`)
}
