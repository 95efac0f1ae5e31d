// Package emit serializes module graphs into bundles and writes them, along
// with extracted stylesheets, precompressed copies and a manifest, into the
// output directory.
package emit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/gopack/internal/config"
	"github.com/wolfeidau/gopack/internal/graph"
	"github.com/wolfeidau/gopack/internal/resolve"
)

// Kind classifies an emitted file.
type Kind string

const (
	KindScript     Kind = "script"
	KindStyle      Kind = "style"
	KindPage       Kind = "page"
	KindCompressed Kind = "compressed"
	KindManifest   Kind = "manifest"
)

// Asset is a file written to the output directory.
type Asset struct {
	// Name is the slash separated path relative to the output directory
	Name string
	// Path is the absolute file path
	Path  string
	Kind  Kind
	Entry string
	// Source is the entry module a bundle was built from
	Source string
	Size   int
	Hash   string
	// Inputs are the modules of the chunk, relative to the context directory
	Inputs []string
}

// Options adjust the emitter, plugins set them before the first build.
type Options struct {
	// CSSFilename is the extracted stylesheet template, [name].css when empty
	CSSFilename string
}

// Emitter writes bundles for a configuration. It remembers what it emitted
// so incremental emits can skip unaffected entries.
type Emitter struct {
	cfg  *config.Config
	opts Options

	mu      sync.Mutex
	cleaned bool
	entries map[string][]Asset
	pages   map[string]Asset
	// written since the start of the last Emit
	written []Asset
}

func New(cfg *config.Config, opts Options) *Emitter {
	return &Emitter{
		cfg:     cfg,
		opts:    opts,
		entries: map[string][]Asset{},
		pages:   map[string]Asset{},
	}
}

// Emit writes the bundle and stylesheet of every entry of g. When only is
// not nil, entries missing from it are left as emitted previously. It
// returns the assets written by this call.
func (e *Emitter) Emit(ctx context.Context, g *graph.Graph, only map[string]bool) ([]Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Output.Clean && !e.cleaned {
		if err := CleanDir(e.cfg.Output.Path); err != nil {
			return nil, err
		}
		e.entries = map[string][]Asset{}
		e.pages = map[string]Asset{}
	}
	e.cleaned = true
	e.written = nil

	var (
		written   []Asset
		errs      []error
		collision bool
		owners    = map[string]string{}
		emitted   = map[string][]Asset{}
	)

	for _, name := range g.EntryNames() {
		if only != nil && !only[name] {
			for _, a := range e.entries[name] {
				owners[a.Name] = name
			}
			continue
		}

		assets, err := e.emitEntry(ctx, g, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %s: %w", name, err))
			continue
		}

		for _, a := range assets {
			if other, ok := owners[a.Name]; ok && other != name {
				errs = append(errs, fmt.Errorf("entries %s and %s both emit %s, add [name] to the filename", other, name, a.Name))
				collision = true
			}
			owners[a.Name] = name
		}

		emitted[name] = assets
		written = append(written, assets...)
	}

	// stale files stay on disk until the new assets are known not to collide
	if collision {
		e.written = append(e.written, written...)
		return written, errors.Join(errs...)
	}

	for name, assets := range emitted {
		e.removeStale(ctx, name, assets)
		e.entries[name] = assets
	}

	// entries dropped from the configuration
	for name := range e.entries {
		if _, ok := g.Entries[name]; !ok {
			e.removeStale(ctx, name, nil)
			delete(e.entries, name)
		}
	}

	e.written = append(e.written, written...)
	return written, errors.Join(errs...)
}

func (e *Emitter) emitEntry(ctx context.Context, g *graph.Graph, name string) ([]Asset, error) {
	chunk := g.Order(name)
	if len(chunk) == 0 {
		return nil, errors.New("entry module missing from graph")
	}

	bundle, err := renderBundle(e.cfg.Mode, chunk, e.cfg.Externals)
	if err != nil {
		return nil, err
	}

	inputs := make([]string, 0, len(chunk))
	for _, mod := range chunk {
		inputs = append(inputs, e.relInput(mod.Path))
	}

	assets, err := e.write(ctx, Asset{
		Name:   filepath.ToSlash(expandFilename(e.cfg.Output.Filename, name, bundle)),
		Kind:   KindScript,
		Entry:  name,
		Source: e.relInput(g.Entries[name]),
		Inputs: inputs,
	}, bundle)
	if err != nil {
		return nil, err
	}

	styles := g.Styles(name)
	if len(styles) == 0 {
		return assets, nil
	}

	var css bytes.Buffer
	cssInputs := make([]string, 0, len(styles))
	for _, mod := range styles {
		css.Write(mod.Styles)
		if !bytes.HasSuffix(mod.Styles, []byte("\n")) {
			css.WriteByte('\n')
		}
		cssInputs = append(cssInputs, e.relInput(mod.Path))
	}

	cssAssets, err := e.write(ctx, Asset{
		Name:   filepath.ToSlash(cssFilename(e.opts.CSSFilename, name, css.Bytes())),
		Kind:   KindStyle,
		Entry:  name,
		Inputs: cssInputs,
	}, css.Bytes())
	if err != nil {
		return nil, err
	}

	return append(assets, cssAssets...), nil
}

// Write emits a file produced outside the graph, such as an HTML page.
func (e *Emitter) Write(ctx context.Context, name string, kind Kind, data []byte) ([]Asset, error) {
	assets, err := e.write(ctx, Asset{Name: filepath.ToSlash(name), Kind: kind}, data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for _, a := range assets {
		e.pages[a.Name] = a
	}
	e.written = append(e.written, assets...)
	e.mu.Unlock()

	return assets, nil
}

// write stores data under asset.Name along with the configured compressed copies.
func (e *Emitter) write(ctx context.Context, asset Asset, data []byte) ([]Asset, error) {
	asset.Path = filepath.Join(e.cfg.Output.Path, filepath.FromSlash(asset.Name))
	asset.Size = len(data)
	asset.Hash = ContentHash(data)

	if err := writeFile(ctx, asset.Path, data); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("entry", asset.Entry).
		Str("asset", asset.Name).
		Int("bytes", asset.Size).
		Msg("Emitted asset")

	assets := []Asset{asset}

	if asset.Kind == KindManifest {
		return assets, nil
	}

	for _, format := range e.cfg.Output.Compress {
		suffix, encoded, err := compressed(format, data)
		if err != nil {
			return nil, err
		}
		copyAsset := Asset{
			Name:  asset.Name + suffix,
			Path:  asset.Path + suffix,
			Kind:  KindCompressed,
			Entry: asset.Entry,
			Size:  len(encoded),
			Hash:  ContentHash(encoded),
		}
		if err := writeFile(ctx, copyAsset.Path, encoded); err != nil {
			return nil, err
		}
		assets = append(assets, copyAsset)
	}

	return assets, nil
}

// removeStale deletes files previously emitted for an entry that are not in
// the current set, such as bundles with an outdated content hash.
func (e *Emitter) removeStale(ctx context.Context, entry string, current []Asset) {
	keep := make(map[string]bool, len(current))
	for _, a := range current {
		keep[a.Name] = true
	}
	for _, a := range e.entries[entry] {
		if keep[a.Name] {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("asset", a.Name).Msg("Failed to remove stale asset")
		}
	}
}

// Assets returns every file currently emitted, sorted by name.
func (e *Emitter) Assets() []Asset {
	e.mu.Lock()
	defer e.mu.Unlock()

	var all []Asset
	for _, assets := range e.entries {
		all = append(all, assets...)
	}
	for _, a := range e.pages {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Written returns the files written since the start of the last Emit,
// including plugin pages and the manifest.
func (e *Emitter) Written() []Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Asset(nil), e.written...)
}

// EntryAssets returns the files emitted for one entry.
func (e *Emitter) EntryAssets(entry string) []Asset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Asset(nil), e.entries[entry]...)
}

// Manifest describes the files currently emitted.
func (e *Emitter) Manifest() *Manifest {
	return NewManifest(e.cfg.Output.PublicPath, e.Assets())
}

// Finish writes the manifest when output.manifest is set, it runs after
// plugins so their files are described too.
func (e *Emitter) Finish(ctx context.Context) (*Asset, error) {
	if !e.cfg.Output.Manifest {
		return nil, nil
	}

	data, err := e.Manifest().marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	assets, err := e.write(ctx, Asset{Name: ManifestFile, Kind: KindManifest}, data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.written = append(e.written, assets...)
	e.mu.Unlock()

	return &assets[0], nil
}

// OutputPath is the absolute output directory.
func (e *Emitter) OutputPath() string {
	return e.cfg.Output.Path
}

func (e *Emitter) relInput(path string) string {
	if resolve.IsExternal(path) {
		return path
	}
	rel, err := filepath.Rel(e.cfg.Context, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
