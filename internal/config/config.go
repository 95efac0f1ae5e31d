// Package config loads and validates the gopack build configuration.
//
// The file format mirrors a webpack configuration expressed in YAML: an entry,
// an output location, module rules mapping file patterns to loader chains,
// resolve options, watch options and plugins.
package config

import (
	"errors"
	"sort"
	"time"
)

// Mode selects defaults for loaders, production turns on minification.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
	ModeNone        Mode = "none"
)

// Cache types.
const (
	CacheMemory     = "memory"
	CacheFilesystem = "filesystem"
)

// Compression formats supported by output.compress.
const (
	CompressGzip = "gzip"
	CompressZstd = "zstd"
)

// DefaultEntryName is used when the entry is given as a single path.
const DefaultEntryName = "main"

var (
	ErrNoEntryPoints = errors.New("no entry points configured")
)

type Config struct {
	Mode Mode `yaml:"mode"`

	// Context is the base directory for resolving relative paths in the
	// configuration. Defaults to the directory holding the config file.
	Context string `yaml:"context"`

	Entry        Entry             `yaml:"entry"`
	Output       Output            `yaml:"output"`
	Module       ModuleOptions     `yaml:"module"`
	Resolve      Resolve           `yaml:"resolve"`
	Watch        bool              `yaml:"watch"`
	WatchOptions WatchOptions      `yaml:"watchOptions"`
	Devtool      string            `yaml:"devtool"`
	Plugins      []PluginRef       `yaml:"plugins"`
	Cache        Cache             `yaml:"cache"`
	Externals    map[string]string `yaml:"externals"`
}

// Entry maps a chunk name to the path of its root module.
type Entry map[string]string

// Names returns the entry names in sorted order.
func (e Entry) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Output struct {
	// Path is the output directory
	Path string `yaml:"path"`
	// Filename is the bundle filename template, supports [name] and [contenthash]
	Filename string `yaml:"filename"`
	// PublicPath is prefixed to asset URLs in the manifest and HTML page
	PublicPath string `yaml:"publicPath"`
	// Manifest writes manifest.json describing the emitted assets
	Manifest bool `yaml:"manifest"`
	// Compress writes precompressed copies of each asset (gzip, zstd)
	Compress []string `yaml:"compress"`
	// Clean empties the output directory before the first emit
	Clean bool `yaml:"clean"`
}

type ModuleOptions struct {
	Rules []Rule `yaml:"rules"`
}

// Rule selects a loader chain for every module path matching Test.
type Rule struct {
	Test    Pattern    `yaml:"test"`
	Include Pattern    `yaml:"include"`
	Exclude Pattern    `yaml:"exclude"`
	Use     LoaderList `yaml:"use"`
}

// Matches reports whether the rule applies to the given module path.
func (r Rule) Matches(path string) bool {
	if !r.Test.MatchString(path) {
		return false
	}
	if !r.Include.IsZero() && !r.Include.MatchString(path) {
		return false
	}
	if !r.Exclude.IsZero() && r.Exclude.MatchString(path) {
		return false
	}
	return true
}

// LoaderRef names a loader and its options.
type LoaderRef struct {
	Loader  string         `yaml:"loader"`
	Options map[string]any `yaml:"options"`
}

// LoaderList is the ordered loader chain of a rule. As in webpack the chain
// is applied from the last element to the first.
type LoaderList []LoaderRef

type Resolve struct {
	Extensions []string          `yaml:"extensions"`
	Alias      map[string]string `yaml:"alias"`
	Modules    []string          `yaml:"modules"`
	MainFields []string          `yaml:"mainFields"`
}

type WatchOptions struct {
	Ignored Pattern `yaml:"ignored"`
	// AggregateTimeout in milliseconds, changes are batched over this window
	AggregateTimeout int `yaml:"aggregateTimeout"`
}

// Aggregate returns the aggregate timeout as a duration.
func (w WatchOptions) Aggregate() time.Duration {
	return time.Duration(w.AggregateTimeout) * time.Millisecond
}

// PluginRef names a plugin and its options.
type PluginRef struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

type Cache struct {
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
}

// Default returns the configuration used for any field left unset.
func Default() *Config {
	return &Config{
		Mode: ModeProduction,
		Entry: Entry{
			DefaultEntryName: "./src/index.js",
		},
		Output: Output{
			Path:     "dist",
			Filename: "bundle.js",
		},
		Resolve: Resolve{
			Extensions: []string{".js"},
			Modules:    []string{"node_modules"},
			MainFields: []string{"browser", "main"},
		},
		WatchOptions: WatchOptions{
			AggregateTimeout: 300,
		},
		Cache: Cache{
			Type:      CacheMemory,
			Directory: ".gopack-cache",
		},
	}
}

// HasPlugin reports whether a plugin with the canonical name is configured.
func (c *Config) HasPlugin(name string) bool {
	for _, p := range c.Plugins {
		if CanonicalPlugin(p.Name) == name {
			return true
		}
	}
	return false
}

// Plugin returns the configured plugin with the canonical name.
func (c *Config) Plugin(name string) (PluginRef, bool) {
	for _, p := range c.Plugins {
		if CanonicalPlugin(p.Name) == name {
			return p, true
		}
	}
	return PluginRef{}, false
}
