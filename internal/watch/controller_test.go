package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/gopack/internal/bundler"
	"github.com/wolfeidau/gopack/internal/config"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCompiler struct {
	dir      string
	mu       sync.Mutex
	runs     int
	rebuilds chan []string
	fail     bool
}

func (f *fakeCompiler) Run(context.Context) (*bundler.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.fail {
		return nil, errors.New("broken")
	}
	return &bundler.Stats{}, nil
}

func (f *fakeCompiler) Rebuild(_ context.Context, changed []string) (*bundler.Stats, error) {
	f.rebuilds <- changed
	return &bundler.Stats{Incremental: true}, nil
}

func (f *fakeCompiler) WatchDirs() []string {
	return []string{f.dir}
}

func startController(t *testing.T, c *Controller) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	return cancel, done
}

func TestController_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeCompiler{dir: dir, rebuilds: make(chan []string, 4)}

	built := make(chan struct{}, 4)
	c := New(fc, config.WatchOptions{AggregateTimeout: 100, Ignored: config.MustPattern(`\.tmp$`)}, WithOnBuild(func(*bundler.Stats, error) {
		built <- struct{}{}
	}))

	cancel, done := startController(t, c)

	select {
	case <-built:
	case <-time.After(5 * time.Second):
		t.Fatal("initial build did not run")
	}

	a := filepath.Join(dir, "a.js")
	b := filepath.Join(dir, "b.js")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(a, []byte("1"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("2"), 0600))
	require.NoError(t, os.WriteFile(a, []byte("3"), 0600))

	select {
	case changed := <-fc.rebuilds:
		assert.Equal(t, []string{a, b}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not triggered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, fc.runs)
}

func TestController_InitialFailureKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeCompiler{dir: dir, rebuilds: make(chan []string, 1), fail: true}

	var mu sync.Mutex
	var errs []error
	c := New(fc, config.WatchOptions{AggregateTimeout: 50}, WithOnBuild(func(_ *bundler.Stats, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}))

	cancel, done := startController(t, c)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixed.js"), []byte("ok"), 0600))

	select {
	case changed := <-fc.rebuilds:
		assert.Equal(t, []string{filepath.Join(dir, "fixed.js")}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not triggered after failure")
	}

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.ErrorContains(t, errs[0], "broken")
}

type buildResult struct {
	stats  *bundler.Stats
	err    error
	bundle string
}

func setupProject(t *testing.T, files map[string]string) (string, *bundler.Compiler) {
	t.Helper()

	root := t.TempDir()
	files["gopack.yaml"] = "mode: none\nentry:\n  main: ./src/index.js\noutput:\n  path: dist\n  filename: bundle.js\n"
	writeFiles(t, root, files)

	cfg, err := config.Load(filepath.Join(root, "gopack.yaml"))
	require.NoError(t, err)

	compiler, err := bundler.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = compiler.Close() })

	return root, compiler
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
}

// watchProject runs a controller over the compiler, reporting every build
// with the bundle as it was when the build finished.
func watchProject(t *testing.T, root string, compiler *bundler.Compiler) (<-chan buildResult, func()) {
	t.Helper()

	builds := make(chan buildResult, 32)
	bundle := filepath.Join(root, "dist", "bundle.js")
	c := New(compiler, config.WatchOptions{AggregateTimeout: 100}, WithOnBuild(func(stats *bundler.Stats, err error) {
		data, _ := os.ReadFile(bundle)
		builds <- buildResult{stats: stats, err: err, bundle: string(data)}
	}))

	cancel, done := startController(t, c)
	return builds, func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func waitForBundle(t *testing.T, builds <-chan buildResult, want string) buildResult {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case b := <-builds:
			if b.err == nil && strings.Contains(b.bundle, want) {
				return b
			}
		case <-deadline:
			t.Fatalf("no successful build containing %q", want)
			return buildResult{}
		}
	}
}

func TestController_RecoversFromNestedFailure(t *testing.T) {
	root, compiler := setupProject(t, map[string]string{
		"src/index.js":      "var data = require('./lib/data.json');\nmodule.exports = data.greeting;\n",
		"src/lib/data.json": `{"greeting": `,
	})

	builds, stop := watchProject(t, root, compiler)

	select {
	case b := <-builds:
		require.Error(t, b.err)
		assert.Contains(t, b.err.Error(), "data.json")
	case <-time.After(5 * time.Second):
		t.Fatal("initial build did not run")
	}

	writeFiles(t, root, map[string]string{"src/lib/data.json": `{"greeting": "hello"}`})

	b := waitForBundle(t, builds, `"greeting":"hello"`)
	assert.False(t, b.stats.Incremental, "a failed build is followed by a full build")

	stop()
}

func TestController_IncrementalRebuilds(t *testing.T) {
	root, compiler := setupProject(t, map[string]string{
		"src/index.js": "var a = require('./lib/a');\nmodule.exports = a;\n",
		"src/lib/a.js": "module.exports = 'a-v1';\n",
	})

	builds, stop := watchProject(t, root, compiler)
	waitForBundle(t, builds, "a-v1")

	writeFiles(t, root, map[string]string{"src/lib/a.js": "module.exports = 'a-v2';\n"})
	b := waitForBundle(t, builds, "a-v2")
	assert.True(t, b.stats.Incremental)
	assert.Equal(t, 1, b.stats.Transformed)
	assert.NotContains(t, b.bundle, "a-v1")

	// a module in a new directory is watched once the graph reaches it
	writeFiles(t, root, map[string]string{"src/extra/b.js": "module.exports = 'b-v1';\n"})
	writeFiles(t, root, map[string]string{"src/index.js": "var a = require('./lib/a');\nvar b = require('./extra/b');\nmodule.exports = a + b;\n"})
	waitForBundle(t, builds, "b-v1")

	writeFiles(t, root, map[string]string{"src/extra/b.js": "module.exports = 'b-v2';\n"})
	waitForBundle(t, builds, "b-v2")

	stop()
}
