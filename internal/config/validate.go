package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for errors, all problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Entry) == 0 {
		errs = append(errs, ErrNoEntryPoints)
	}
	for name, path := range c.Entry {
		if name == "" || path == "" {
			errs = append(errs, fmt.Errorf("entry %q: name and path are required", name))
		}
	}

	switch c.Mode {
	case ModeDevelopment, ModeProduction, ModeNone:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q (want development, production or none)", c.Mode))
	}

	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if c.Output.Filename == "" {
		errs = append(errs, errors.New("output.filename is required"))
	} else if len(c.Entry) > 1 && !strings.Contains(c.Output.Filename, "[name]") {
		errs = append(errs, fmt.Errorf("output.filename %q must contain [name] when there are several entries", c.Output.Filename))
	}

	for _, format := range c.Output.Compress {
		if format != CompressGzip && format != CompressZstd {
			errs = append(errs, fmt.Errorf("output.compress: unknown format %q (want gzip or zstd)", format))
		}
	}

	for i, rule := range c.Module.Rules {
		if rule.Test.IsZero() {
			errs = append(errs, fmt.Errorf("module.rules[%d]: test is required", i))
		}
		if len(rule.Use) == 0 {
			errs = append(errs, fmt.Errorf("module.rules[%d]: use must name at least one loader", i))
		}
		for j, ref := range rule.Use {
			if ref.Loader == "" {
				errs = append(errs, fmt.Errorf("module.rules[%d].use[%d]: loader name is required", i, j))
			}
			if CanonicalLoader(ref.Loader) == LoaderCSSExtract && !c.HasPlugin(PluginCSSExtract) {
				errs = append(errs, fmt.Errorf("module.rules[%d].use[%d]: %s loader used without the %s plugin", i, j, ref.Loader, PluginCSSExtract))
			}
		}
	}

	for _, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("resolve.extensions: %q must start with a dot", ext))
		}
	}

	for _, p := range c.Plugins {
		switch CanonicalPlugin(p.Name) {
		case PluginCSSExtract, PluginHTML:
		default:
			errs = append(errs, fmt.Errorf("plugins: unknown plugin %q", p.Name))
		}
	}

	switch c.Cache.Type {
	case CacheMemory:
	case CacheFilesystem:
		if c.Cache.Directory == "" {
			errs = append(errs, errors.New("cache.directory is required for the filesystem cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q (want memory or filesystem)", c.Cache.Type))
	}

	if c.WatchOptions.AggregateTimeout < 0 {
		errs = append(errs, errors.New("watchOptions.aggregateTimeout must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
