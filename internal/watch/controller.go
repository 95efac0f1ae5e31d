// Package watch keeps a compiler resident, rebuilding when module files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/gopack/internal/bundler"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Compiler is the build driven by the controller.
type Compiler interface {
	Run(ctx context.Context) (*bundler.Stats, error)
	Rebuild(ctx context.Context, changed []string) (*bundler.Stats, error)
	WatchDirs() []string
}

// BuildFunc is called after every compilation.
type BuildFunc func(stats *bundler.Stats, err error)

type Option func(*Controller)

// WithOnBuild registers a callback run after every compilation.
func WithOnBuild(fn BuildFunc) Option {
	return func(c *Controller) {
		c.onBuild = fn
	}
}

// Controller watches the directories of the module graph and triggers
// rebuilds once changes settle for the aggregate timeout.
type Controller struct {
	compiler  Compiler
	ignored   config.Pattern
	aggregate time.Duration
	onBuild   BuildFunc

	watcher *fsnotify.Watcher
	watched map[string]bool
}

func New(compiler Compiler, opts config.WatchOptions, options ...Option) *Controller {
	c := &Controller{
		compiler:  compiler,
		ignored:   opts.Ignored,
		aggregate: opts.Aggregate(),
		watched:   map[string]bool{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Run performs the initial build then rebuilds on change until ctx is
// cancelled. Build failures are logged and do not stop the controller.
func (c *Controller) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	c.watcher = watcher
	defer func() {
		_ = watcher.Close() // Ignore close error on shutdown
	}()

	stats, err := c.compiler.Run(ctx)
	c.syncDirs()
	c.report(stats, err)

	log.Info().Int("dirs", len(c.watched)).Dur("aggregate_timeout", c.aggregate).Msg("Watching for changes")

	timer := time.NewTimer(c.aggregate)
	stopTimer(timer)
	defer timer.Stop()

	pending := map[string]bool{}
	m := telemetry.GetMetrics()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !c.relevant(event) {
				continue
			}

			m.WatchEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", event.Op.String())))
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("File changed")

			pending[filepath.Clean(event.Name)] = true
			stopTimer(timer)
			timer.Reset(c.aggregate)

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			log.Error().Err(err).Msg("Watcher error")

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			clear(pending)

			log.Info().Strs("changed", changed).Msg("Rebuilding")
			stats, err := c.compiler.Rebuild(ctx, changed)
			c.syncDirs()
			c.report(stats, err)
		}
	}
}

func (c *Controller) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return !c.ignored.MatchString(event.Name)
}

// syncDirs adds directories of newly reached modules to the watch set.
func (c *Controller) syncDirs() {
	for _, dir := range c.compiler.WatchDirs() {
		if c.watched[dir] || c.ignored.MatchString(dir+string(filepath.Separator)) {
			continue
		}
		if err := c.watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
			continue
		}
		c.watched[dir] = true
	}
}

func (c *Controller) report(stats *bundler.Stats, err error) {
	if err != nil {
		log.Error().Err(err).Msg("Build failed, waiting for changes")
	}
	if c.onBuild != nil {
		c.onBuild(stats, err)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
