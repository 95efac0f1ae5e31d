// Package graph builds the module dependency graph reachable from the entry
// points, running every module through the transform pipeline.
package graph

import (
	"path/filepath"
	"sort"

	"github.com/wolfeidau/gopack/internal/resolve"
)

// Dependency is a specifier found in a module together with its resolved path.
type Dependency struct {
	Specifier string
	Path      string
}

// Module is a transformed module in the graph.
type Module struct {
	// ID is the position of the module in a traversal of every entry in name
	// order, it is stable while the graph shape is unchanged
	ID   int
	Path string
	// Code is CommonJS module code
	Code []byte
	// Styles is stylesheet text, Extract sends it to the extracted stylesheet
	Styles  []byte
	Extract bool
	Deps    []Dependency
	// Entry is set for entry modules
	Entry bool
	// External modules have no code, they are supplied by a global at runtime
	External bool
	// Cached is set when the transform result came from the cache
	Cached bool
}

// Graph is the set of modules reachable from the entries.
type Graph struct {
	Modules map[string]*Module
	// Entries maps an entry name to the path of its root module
	Entries map[string]string
}

// EntryNames returns the entry names in sorted order.
func (g *Graph) EntryNames() []string {
	names := make([]string, 0, len(g.Entries))
	for name := range g.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Order returns the modules of an entry's chunk in depth first pre-order,
// the entry first and dependencies in source order. Modules reached again
// through a cycle or a shared dependency appear once.
func (g *Graph) Order(entry string) []*Module {
	root, ok := g.Entries[entry]
	if !ok {
		return nil
	}

	var order []*Module
	seen := map[string]bool{}

	var walk func(path string)
	walk = func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true

		mod, ok := g.Modules[path]
		if !ok {
			return
		}
		order = append(order, mod)
		for _, dep := range mod.Deps {
			walk(dep.Path)
		}
	}
	walk(root)

	return order
}

// Styles returns the modules of an entry's chunk holding extracted
// stylesheets in depth first post-order, so imported stylesheets come before
// the stylesheets importing them.
func (g *Graph) Styles(entry string) []*Module {
	root, ok := g.Entries[entry]
	if !ok {
		return nil
	}

	var styles []*Module
	seen := map[string]bool{}

	var walk func(path string)
	walk = func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true

		mod, ok := g.Modules[path]
		if !ok {
			return
		}
		for _, dep := range mod.Deps {
			walk(dep.Path)
		}
		if mod.Extract && len(mod.Styles) > 0 {
			styles = append(styles, mod)
		}
	}
	walk(root)

	return styles
}

// Dependents returns the sorted paths of modules depending directly on path.
func (g *Graph) Dependents(path string) []string {
	var dependents []string
	for p, mod := range g.Modules {
		for _, dep := range mod.Deps {
			if dep.Path == path {
				dependents = append(dependents, p)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Affected returns the entries whose chunk contains any of the changed paths.
func (g *Graph) Affected(changed []string) map[string]bool {
	affected := map[string]bool{}
	if len(changed) == 0 {
		return affected
	}

	set := make(map[string]bool, len(changed))
	for _, p := range changed {
		set[p] = true
	}

	for name := range g.Entries {
		for _, mod := range g.Order(name) {
			if set[mod.Path] {
				affected[name] = true
				break
			}
		}
	}
	return affected
}

// Contains reports whether path is a module of the graph.
func (g *Graph) Contains(path string) bool {
	_, ok := g.Modules[path]
	return ok
}

// Dirs returns the sorted directories holding the graph's module files.
func (g *Graph) Dirs() []string {
	set := map[string]bool{}
	for path, mod := range g.Modules {
		if mod.External || resolve.IsExternal(path) {
			continue
		}
		set[filepath.Dir(path)] = true
	}

	dirs := make([]string, 0, len(set))
	for dir := range set {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// assignIDs numbers the modules in the order they are first reached from
// the entries taken in name order.
func (g *Graph) assignIDs() {
	next := 0
	seen := map[string]bool{}
	for _, name := range g.EntryNames() {
		for _, mod := range g.Order(name) {
			if seen[mod.Path] {
				continue
			}
			seen[mod.Path] = true
			mod.ID = next
			next++
		}
	}
}
