package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/gopack/internal/cache"
	"github.com/wolfeidau/gopack/internal/resolve"
	"github.com/wolfeidau/gopack/internal/transform"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Stats counts the work done by a build.
type Stats struct {
	Modules     int
	Transformed int
	Cached      int
}

// Builder discovers and transforms modules. A Builder may be reused for
// rebuilds but runs one build at a time.
type Builder struct {
	resolver    *resolve.Resolver
	pipeline    *transform.Pipeline
	cache       cache.Store
	concurrency int64

	mu   sync.Mutex
	dirs []string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithConcurrency bounds the number of modules processed at once.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = int64(n)
		}
	}
}

func NewBuilder(resolver *resolve.Resolver, pipeline *transform.Pipeline, store cache.Store, opts ...BuilderOption) *Builder {
	b := &Builder{
		resolver:    resolver,
		pipeline:    pipeline,
		cache:       store,
		concurrency: int64(runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build walks the graph from the entries, which map entry names to module
// paths. Errors from every failing module are joined into the returned error.
func (b *Builder) Build(ctx context.Context, entries map[string]string) (*Graph, Stats, error) {
	if len(entries) == 0 {
		return nil, Stats{}, errors.New("no entries to build")
	}

	group, gctx := errgroup.WithContext(ctx)

	r := &run{
		builder: b,
		ctx:     gctx,
		group:   group,
		sem:     semaphore.NewWeighted(b.concurrency),
		seen:    map[string]bool{},
		modules: map[string]*Module{},
	}

	for _, path := range entries {
		r.visit(path)
	}

	err := group.Wait()
	b.recordDirs(r)
	if err != nil {
		return nil, r.stats(), err
	}

	if len(r.errs) > 0 {
		sort.Slice(r.errs, func(i, j int) bool { return r.errs[i].Error() < r.errs[j].Error() })
		return nil, r.stats(), errors.Join(r.errs...)
	}

	g := &Graph{Modules: r.modules, Entries: make(map[string]string, len(entries))}
	for name, path := range entries {
		g.Entries[name] = path
		g.Modules[path].Entry = true
	}
	g.assignIDs()

	zerolog.Ctx(ctx).Debug().
		Int("modules", len(g.Modules)).
		Int64("transformed", r.transformed.Load()).
		Int64("cached", r.cached.Load()).
		Msg("Module graph built")

	return g, r.stats(), nil
}

// Rebuild drops the cached transforms of the changed paths and builds the
// entries of prev again, unchanged modules are served from the cache.
func (b *Builder) Rebuild(ctx context.Context, prev *Graph, changed []string) (*Graph, Stats, error) {
	b.Invalidate(changed)
	return b.Build(ctx, prev.Entries)
}

// Dirs returns the directories of every module file the last build visited,
// including modules that failed. It lets a watcher pick up fixes to a build
// that never produced a graph.
func (b *Builder) Dirs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirs
}

func (b *Builder) recordDirs(r *run) {
	r.mu.Lock()
	set := map[string]bool{}
	for path := range r.seen {
		if !resolve.IsExternal(path) {
			set[filepath.Dir(path)] = true
		}
	}
	r.mu.Unlock()

	dirs := make([]string, 0, len(set))
	for dir := range set {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	b.mu.Lock()
	b.dirs = dirs
	b.mu.Unlock()
}

// Invalidate forgets cached transforms of the paths and all resolutions.
func (b *Builder) Invalidate(paths []string) {
	b.cache.Invalidate(paths...)
	// a created or removed file changes what specifiers resolve to
	b.resolver.Reset()
}

type run struct {
	builder *Builder
	ctx     context.Context
	group   *errgroup.Group
	sem     *semaphore.Weighted

	mu      sync.Mutex
	seen    map[string]bool
	modules map[string]*Module
	errs    []error

	transformed atomic.Int64
	cached      atomic.Int64
}

func (r *run) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Modules:     len(r.modules),
		Transformed: int(r.transformed.Load()),
		Cached:      int(r.cached.Load()),
	}
}

// visit schedules path for processing unless it was already seen.
func (r *run) visit(path string) {
	r.mu.Lock()
	if r.seen[path] {
		r.mu.Unlock()
		return
	}
	r.seen[path] = true
	r.mu.Unlock()

	r.group.Go(func() error {
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return err
		}
		mod, err := r.process(path)
		r.sem.Release(1)

		r.mu.Lock()
		if err != nil {
			r.errs = append(r.errs, err)
		} else {
			r.modules[path] = mod
		}
		r.mu.Unlock()

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// keep walking past unresolved specifiers so every error is reported
		if mod != nil {
			for _, dep := range mod.Deps {
				r.visit(dep.Path)
			}
		}
		return nil
	})
}

// process reads, transforms and resolves a module. A module is returned with
// its resolvable dependencies even when some specifiers fail to resolve.
func (r *run) process(path string) (*Module, error) {
	if resolve.IsExternal(path) {
		return &Module{Path: path, External: true}, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}

	sum := cache.Checksum(source)
	entry, hit := r.builder.cache.Get(path, sum)
	if hit {
		r.cached.Add(1)
	} else {
		asset := transform.NewAsset(path, source)
		if err := r.builder.pipeline.Apply(r.ctx, asset); err != nil {
			return nil, err
		}
		entry = cache.Entry{
			Sum:     sum,
			Code:    asset.Code,
			Styles:  asset.Styles,
			Extract: asset.Extract,
			Deps:    Scan(asset.Code),
		}
		r.builder.cache.Put(path, entry)
		r.transformed.Add(1)
	}

	mod := &Module{
		Path:    path,
		Code:    entry.Code,
		Styles:  entry.Styles,
		Extract: entry.Extract,
		Cached:  hit,
	}

	var errs []error
	dir := filepath.Dir(path)
	for _, spec := range entry.Deps {
		resolved, err := r.builder.resolver.Resolve(spec, dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("module %s: %w", path, err))
			continue
		}
		mod.Deps = append(mod.Deps, Dependency{Specifier: spec, Path: resolved})
	}
	return mod, errors.Join(errs...)
}
