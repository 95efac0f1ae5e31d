package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/gopack"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal        metric.Int64Counter
	BuildErrorsTotal   metric.Int64Counter
	BuildDuration      metric.Float64Histogram
	RebuildsTotal      metric.Int64Counter
	ModulesInGraph     metric.Int64Gauge
	ModulesTransformed metric.Int64Counter

	// Transform cache metrics
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter

	// Emit metrics
	AssetsEmittedTotal metric.Int64Counter
	AssetBytesTotal    metric.Int64Counter

	// Watch metrics
	WatchEventsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"gopack.builds.total",
		metric.WithDescription("Total number of builds, full and incremental"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"gopack.builds.errors.total",
		metric.WithDescription("Total number of failed builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"gopack.builds.duration",
		metric.WithDescription("Duration of builds"),
		metric.WithUnit("ms"),
	)

	m.RebuildsTotal, _ = meter.Int64Counter(
		"gopack.builds.incremental.total",
		metric.WithDescription("Total number of incremental rebuilds triggered by watch mode"),
		metric.WithUnit("{build}"),
	)

	m.ModulesInGraph, _ = meter.Int64Gauge(
		"gopack.graph.modules",
		metric.WithDescription("Number of modules in the last built graph"),
		metric.WithUnit("{module}"),
	)

	m.ModulesTransformed, _ = meter.Int64Counter(
		"gopack.modules.transformed.total",
		metric.WithDescription("Total number of modules run through the loader chain"),
		metric.WithUnit("{module}"),
	)

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"gopack.cache.hits.total",
		metric.WithDescription("Total number of transform cache hits"),
		metric.WithUnit("{module}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"gopack.cache.misses.total",
		metric.WithDescription("Total number of transform cache misses"),
		metric.WithUnit("{module}"),
	)

	m.AssetsEmittedTotal, _ = meter.Int64Counter(
		"gopack.assets.emitted.total",
		metric.WithDescription("Total number of output files written"),
		metric.WithUnit("{file}"),
	)

	m.AssetBytesTotal, _ = meter.Int64Counter(
		"gopack.assets.bytes.total",
		metric.WithDescription("Total number of bytes written to output files"),
		metric.WithUnit("By"),
	)

	m.WatchEventsTotal, _ = meter.Int64Counter(
		"gopack.watch.events.total",
		metric.WithDescription("Total number of file system events received in watch mode"),
		metric.WithUnit("{event}"),
	)

	return m
}
