package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "gopack.yaml"

// Overrides are command line settings applied on top of the file.
type Overrides struct {
	Mode       string
	Watch      bool
	OutputPath string
}

// Load reads the YAML configuration at path, applies defaults, makes every
// path absolute and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with command line overrides merged in before
// paths are resolved.
func LoadWithOverrides(path string, o Overrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.Apply(o)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	if err := cfg.Finalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	log.Debug().Str("config", absPath).Strs("entries", cfg.Entry.Names()).Msg("Configuration loaded")

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without touching the file system.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	entryDefault := cfg.Entry
	cfg.Entry = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if len(cfg.Entry) == 0 {
		cfg.Entry = entryDefault
	}

	return cfg, nil
}

// Apply merges command line overrides into the configuration.
func (c *Config) Apply(o Overrides) {
	if o.Mode != "" {
		c.Mode = Mode(o.Mode)
	}
	if o.Watch {
		c.Watch = true
	}
	if o.OutputPath != "" {
		c.Output.Path = o.OutputPath
	}
}

// Finalize resolves relative paths against baseDir (unless Context is set)
// and validates the configuration.
func (c *Config) Finalize(baseDir string) error {
	if c.Context == "" {
		c.Context = baseDir
	} else if !filepath.IsAbs(c.Context) {
		c.Context = filepath.Join(baseDir, c.Context)
	}
	c.Context = filepath.Clean(c.Context)

	for name, path := range c.Entry {
		c.Entry[name] = c.abs(path)
	}

	c.Output.Path = c.abs(c.Output.Path)
	c.Cache.Directory = c.abs(c.Cache.Directory)

	for key, target := range c.Resolve.Alias {
		if isPathLike(target) {
			c.Resolve.Alias[key] = c.abs(target)
		}
	}

	if c.Devtool != "" && c.Devtool != "none" && c.Devtool != "false" {
		log.Warn().Str("devtool", c.Devtool).Msg("Source maps are not generated, devtool is ignored")
	}

	return c.Validate()
}

// Signature identifies the settings affecting transform output. Cached
// transforms are discarded when it changes.
func (c *Config) Signature() uint64 {
	type signed struct {
		Mode    Mode
		Rules   []Rule
		Plugins []PluginRef
	}

	data, err := yaml.Marshal(signed{Mode: c.Mode, Rules: c.Module.Rules, Plugins: c.Plugins})
	if err != nil {
		// every field marshals, fall back to something that never matches a stored cache
		return 0
	}

	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}

func (c *Config) abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Context, path)
}

func isPathLike(s string) bool {
	return filepath.IsAbs(s) || len(s) > 1 && s[0] == '.' && (s[1] == '/' || s[1] == '.')
}
