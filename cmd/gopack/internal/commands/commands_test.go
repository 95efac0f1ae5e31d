package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
mode: production
entry:
  app: ./src/index.js
output:
  path: public
  filename: "[name].js"
module:
  rules:
    - test: /\.css$/
      use: css-loader
cache:
  type: filesystem
  directory: .cache
`

func setupProject(t *testing.T) (string, ConfigFlags) {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"gopack.yaml":    testConfig,
		"src/index.js":   "require('./theme.css');\nconst { add } = require('./math');\nconsole.log(add(1, 2));\n",
		"src/math.js":    "exports.add = (a, b) => a + b;\n",
		"src/theme.css":  "body { color: blue; }\n",
		"public/old.txt": "stale",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}

	return root, ConfigFlags{Config: filepath.Join(root, "gopack.yaml")}
}

func TestBuildCmd_Run(t *testing.T) {
	root, flags := setupProject(t)

	out := new(bytes.Buffer)
	cmd := &BuildCmd{ConfigFlags: flags, Out: out}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	assert.Contains(t, out.String(), "app.js")
	assert.Contains(t, out.String(), "3 modules (3 transformed, 0 cached)")

	bundle, err := os.ReadFile(filepath.Join(root, "public", "app.js"))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), `"NODE_ENV":"production"`)

	_, err = os.Stat(filepath.Join(root, ".cache"))
	require.NoError(t, err)
}

func TestBuildCmd_Overrides(t *testing.T) {
	root, flags := setupProject(t)
	flags.Mode = "development"
	flags.OutputPath = "out"

	cmd := &BuildCmd{ConfigFlags: flags, Out: new(bytes.Buffer)}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	bundle, err := os.ReadFile(filepath.Join(root, "out", "app.js"))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), `"NODE_ENV":"development"`)
}

func TestBuildCmd_MissingConfig(t *testing.T) {
	cmd := &BuildCmd{ConfigFlags: ConfigFlags{Config: filepath.Join(t.TempDir(), "gopack.yaml")}, Out: new(bytes.Buffer)}
	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestGraphCmd_Run(t *testing.T) {
	root, flags := setupProject(t)

	out := new(bytes.Buffer)
	cmd := &GraphCmd{ConfigFlags: flags, Out: out}
	require.NoError(t, cmd.Run(context.Background(), &Globals{}))

	assert.Equal(t, "app (3 modules)\n"+
		"    0 src/index.js\n"+
		"        ./theme.css -> src/theme.css\n"+
		"        ./math -> src/math.js\n"+
		"    1 src/theme.css\n"+
		"    2 src/math.js\n", out.String())

	_, err := os.Stat(filepath.Join(root, "public", "app.js"))
	require.ErrorIs(t, err, os.ErrNotExist)

	cmd = &GraphCmd{ConfigFlags: flags, Entry: "admin", Out: new(bytes.Buffer)}
	require.ErrorContains(t, cmd.Run(context.Background(), &Globals{}), `unknown entry "admin"`)
}

func TestCleanCmd_Run(t *testing.T) {
	root, flags := setupProject(t)

	require.NoError(t, (&BuildCmd{ConfigFlags: flags, Out: new(bytes.Buffer)}).Run(context.Background(), &Globals{}))

	out := new(bytes.Buffer)
	require.NoError(t, (&CleanCmd{ConfigFlags: flags, Out: out}).Run(context.Background(), &Globals{}))
	assert.Equal(t, "cleaned public\n", out.String())

	entries, err := os.ReadDir(filepath.Join(root, "public"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(root, ".cache"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
