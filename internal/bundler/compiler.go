// Package bundler ties configuration, resolution, transforms, the graph
// builder, the emitter and plugins into a compiler.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/gopack/internal/cache"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/emit"
	"github.com/wolfeidau/gopack/internal/graph"
	"github.com/wolfeidau/gopack/internal/logger"
	"github.com/wolfeidau/gopack/internal/plugin"
	"github.com/wolfeidau/gopack/internal/resolve"
	"github.com/wolfeidau/gopack/internal/telemetry"
	"github.com/wolfeidau/gopack/internal/transform"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Stats summarises a compilation.
type Stats struct {
	BuildID     uuid.UUID
	Incremental bool
	Duration    time.Duration
	Modules     int
	Transformed int
	Cached      int
	// Entries are the entries emitted by this compilation
	Entries []string
	Assets  []emit.Asset
}

// Compiler builds a configuration, once or repeatedly in watch mode.
type Compiler struct {
	cfg     *config.Config
	store   cache.Store
	builder *graph.Builder
	emitter *emit.Emitter
	plugins []plugin.Plugin

	mu    sync.Mutex
	graph *graph.Graph
	// failed is set while the last compilation has failed
	failed bool
}

// New prepares a compiler for a finalized configuration.
func New(cfg *config.Config) (*Compiler, error) {
	if len(cfg.Entry) == 0 {
		return nil, config.ErrNoEntryPoints
	}

	pipeline, err := transform.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform pipeline: %w", err)
	}

	plugins, err := plugin.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}

	store, err := cache.Open(cfg.Cache, cfg.Signature())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var opts emit.Options
	plugin.Configure(plugins, &opts)

	return &Compiler{
		cfg:     cfg,
		store:   store,
		builder: graph.NewBuilder(resolve.New(cfg.Resolve, cfg.Externals), pipeline, store),
		emitter: emit.New(cfg, opts),
		plugins: plugins,
	}, nil
}

// Run performs a full build of every entry.
func (c *Compiler) Run(ctx context.Context) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(ctx, nil)
}

// Rebuild rebuilds after the changed paths were modified, created or removed,
// re-emitting only the entries whose chunks are affected. When there is no
// previous build or the last one failed it performs a full build, transforms
// of unchanged modules still come from the cache.
func (c *Compiler) Rebuild(ctx context.Context, changed []string) (*Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil || c.failed {
		c.builder.Invalidate(changed)
		return c.compile(ctx, nil)
	}
	return c.compile(ctx, changed)
}

// Inspect builds the module graph of every entry without emitting assets.
func (c *Compiler) Inspect(ctx context.Context) (*graph.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, _, err := c.builder.Build(ctx, c.cfg.Entry)
	if err != nil {
		return nil, fmt.Errorf("failed to build module graph: %w", err)
	}
	return g, nil
}

// Graph returns the graph of the last successful build.
func (c *Compiler) Graph() *graph.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}

// Emitter exposes the output writer.
func (c *Compiler) Emitter() *emit.Emitter {
	return c.emitter
}

// WatchDirs returns the directories holding modules of the last successful
// build, those reached by the last build even when it failed, and the entry
// directories.
func (c *Compiler) WatchDirs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := map[string]bool{}
	for _, path := range c.cfg.Entry {
		set[filepath.Dir(path)] = true
	}
	if c.graph != nil {
		for _, dir := range c.graph.Dirs() {
			set[dir] = true
		}
	}
	// a failed build has no graph but still knows which files it reached
	for _, dir := range c.builder.Dirs() {
		set[dir] = true
	}

	dirs := make([]string, 0, len(set))
	for dir := range set {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Close persists the transform cache.
func (c *Compiler) Close() error {
	return c.store.Close()
}

func (c *Compiler) compile(ctx context.Context, changed []string) (*Stats, error) {
	incremental := changed != nil
	stats := &Stats{BuildID: uuid.New(), Incremental: incremental}
	start := time.Now()

	log := logger.ForBuild(stats.BuildID.String())
	ctx = log.WithContext(ctx)

	ctx, span := telemetry.Tracer().Start(ctx, "gopack.build", trace.WithAttributes(
		attribute.String("build.id", stats.BuildID.String()),
		attribute.Bool("build.incremental", incremental),
		attribute.Int("build.changed", len(changed)),
	))
	defer span.End()

	m := telemetry.GetMetrics()
	kind := metric.WithAttributes(attribute.Bool("incremental", incremental))
	m.BuildsTotal.Add(ctx, 1, kind)
	if incremental {
		m.RebuildsTotal.Add(ctx, 1)
	}

	err := c.run(ctx, stats, changed)
	c.failed = err != nil
	stats.Duration = time.Since(start)
	m.BuildDuration.Record(ctx, float64(stats.Duration.Milliseconds()), kind)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		m.BuildErrorsTotal.Add(ctx, 1, kind)
		return stats, err
	}

	log.Info().
		Bool("incremental", incremental).
		Int("modules", stats.Modules).
		Int("transformed", stats.Transformed).
		Int("cached", stats.Cached).
		Int("assets", len(stats.Assets)).
		Dur("duration", stats.Duration).
		Msg("Build complete")

	return stats, nil
}

func (c *Compiler) run(ctx context.Context, stats *Stats, changed []string) error {
	m := telemetry.GetMetrics()
	prev := c.graph

	graphCtx, graphSpan := telemetry.Tracer().Start(ctx, "gopack.graph")
	var (
		g      *graph.Graph
		gstats graph.Stats
		err    error
	)
	if changed != nil {
		g, gstats, err = c.builder.Rebuild(graphCtx, prev, changed)
	} else {
		g, gstats, err = c.builder.Build(graphCtx, c.cfg.Entry)
	}
	graphSpan.SetAttributes(
		attribute.Int("graph.modules", gstats.Modules),
		attribute.Int("graph.transformed", gstats.Transformed),
		attribute.Int("graph.cached", gstats.Cached),
	)
	graphSpan.End()

	stats.Modules = gstats.Modules
	stats.Transformed = gstats.Transformed
	stats.Cached = gstats.Cached

	m.ModulesTransformed.Add(ctx, int64(gstats.Transformed))
	m.CacheHitsTotal.Add(ctx, int64(gstats.Cached))
	m.CacheMissesTotal.Add(ctx, int64(gstats.Transformed))

	if err != nil {
		return err
	}
	m.ModulesInGraph.Record(ctx, int64(len(g.Modules)))

	var affected map[string]bool
	if changed != nil {
		affected = prev.Affected(changed)
		for name := range g.Affected(changed) {
			affected[name] = true
		}
	}

	emitCtx, emitSpan := telemetry.Tracer().Start(ctx, "gopack.emit")
	defer emitSpan.End()

	assets, err := c.emitter.Emit(emitCtx, g, affected)
	if err != nil {
		return fmt.Errorf("failed to emit: %w", err)
	}

	b := &plugin.Build{Config: c.cfg, Graph: g, Emitter: c.emitter, Assets: assets, Affected: affected}
	var errs []error
	for _, p := range c.plugins {
		if err := p.Apply(emitCtx, b); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if _, err := c.emitter.Finish(emitCtx); err != nil {
		return err
	}

	c.graph = g
	stats.Assets = c.emitter.Written()

	for _, name := range g.EntryNames() {
		if affected == nil || affected[name] {
			stats.Entries = append(stats.Entries, name)
		}
	}

	var total int64
	for _, a := range stats.Assets {
		total += int64(a.Size)
	}
	m.AssetsEmittedTotal.Add(ctx, int64(len(stats.Assets)))
	m.AssetBytesTotal.Add(ctx, total)
	emitSpan.SetAttributes(attribute.Int("emit.assets", len(stats.Assets)), attribute.Int64("emit.bytes", total))

	zerolog.Ctx(ctx).Debug().Strs("entries", stats.Entries).Msg("Entries emitted")

	return nil
}
